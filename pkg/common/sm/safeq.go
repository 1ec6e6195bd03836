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

import (
	"sync"
	"sync/atomic"
)

type safeQueue struct {
	ClosedState
	queue     chan any
	wg        sync.WaitGroup
	pending   int64
	batchSize int
	onItemsCB OnItemsCB
	blocking  bool
}

// NewSafeQueue creates a blocking queue: Enqueue waits when the queue
// is full. queueSize is the channel capacity, batchSize caps how many
// items one callback invocation may receive.
func NewSafeQueue(queueSize, batchSize int, onItems OnItemsCB) Queue {
	q := &safeQueue{
		queue:     make(chan any, queueSize),
		batchSize: batchSize,
		onItemsCB: onItems,
		blocking:  true,
	}
	return q
}

// NewNonBlockingQueue creates a queue whose Enqueue returns ErrFull
// instead of waiting when the queue is at capacity.
func NewNonBlockingQueue(queueSize, batchSize int, onItems OnItemsCB) Queue {
	q := &safeQueue{
		queue:     make(chan any, queueSize),
		batchSize: batchSize,
		onItemsCB: onItems,
	}
	return q
}

func (q *safeQueue) Start() {
	q.wg.Add(1)
	items := make([]any, 0, q.batchSize)
	go func() {
		defer q.wg.Done()
		for {
			item, ok := <-q.queue
			if !ok {
				return
			}
			if q.onItemsCB == nil {
				continue
			}
			items = append(items, item)
			if q.batchSize > 1 {
			Left:
				for len(items) < q.batchSize {
					select {
					case item, ok = <-q.queue:
						if !ok {
							break Left
						}
						items = append(items, item)
					default:
						break Left
					}
				}
			}
			cnt := len(items)
			q.onItemsCB(items...)
			items = items[:0]
			atomic.AddInt64(&q.pending, int64(-cnt))
		}
	}()
}

func (q *safeQueue) Stop() {
	if !q.TryClose() {
		return
	}
	close(q.queue)
	q.wg.Wait()
}

func (q *safeQueue) Enqueue(item any) (any, error) {
	if q.IsClosed() {
		return item, ErrClose
	}
	atomic.AddInt64(&q.pending, int64(1))
	if q.blocking {
		q.queue <- item
		return item, nil
	}
	select {
	case q.queue <- item:
		return item, nil
	default:
		atomic.AddInt64(&q.pending, int64(-1))
		return item, ErrFull
	}
}

// Pending reports items enqueued but not yet processed.
func (q *safeQueue) Pending() int64 {
	return atomic.LoadInt64(&q.pending)
}
