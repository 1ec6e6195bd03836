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
	"sync/atomic"

	"github.com/openrock/rockstore/pkg/common/moerr"
)

var (
	ErrClose = moerr.NewInvalidState("closed")
	ErrFull  = moerr.NewInvalidState("full")
)

type OnItemsCB = func(items ...any)

// Queue is a single-consumer work queue. Items enqueued from any
// goroutine are handed to the queue's callback in batches on one
// dedicated goroutine, which makes the callback a cooperative
// scheduling point: no two callbacks of the same queue ever overlap.
type Queue interface {
	Start()
	Stop()
	Enqueue(any) (any, error)
}

// ClosedState is an embeddable close latch.
type ClosedState struct {
	closed int32
}

func (c *ClosedState) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == int32(1)
}

func (c *ClosedState) TryClose() bool {
	return atomic.CompareAndSwapInt32(&c.closed, int32(0), int32(1))
}
