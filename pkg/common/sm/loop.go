// Copyright 2022 OpenRock Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sm

import "sync"

type LoopFunc = func(batch []any, to chan any)

// Loop drains a channel in batches on a single goroutine, optionally
// forwarding results to a downstream channel. Loops chained by their
// channels form a pipeline of cooperative stages.
type Loop struct {
	ClosedState
	from      chan any
	to        chan any
	fn        LoopFunc
	batchSize int
	wg        sync.WaitGroup
	stopC     chan struct{}
}

func NewLoop(from, to chan any, fn LoopFunc, batchSize int) *Loop {
	return &Loop{
		from:      from,
		to:        to,
		fn:        fn,
		batchSize: batchSize,
		stopC:     make(chan struct{}),
	}
}

func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		batch := make([]any, 0, l.batchSize)
		for {
			select {
			case <-l.stopC:
				return
			case item, ok := <-l.from:
				if !ok {
					return
				}
				batch = append(batch, item)
			Drain:
				for len(batch) < l.batchSize {
					select {
					case item, ok = <-l.from:
						if !ok {
							break Drain
						}
						batch = append(batch, item)
					default:
						break Drain
					}
				}
				l.fn(batch, l.to)
				batch = batch[:0]
			}
		}
	}()
}

func (l *Loop) Stop() {
	if !l.TryClose() {
		return
	}
	close(l.stopC)
	l.wg.Wait()
}
