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

// Package diskio provides the asynchronous file I/O strategies of the
// rock store. A strategy accepts positioned reads and writes and
// delivers exactly one completion per submission through the caller's
// poster, so completions always run on the caller's cooperative loop.
package diskio

// ReadCallback receives the buffer, the byte count and the I/O error
// of one completed read.
type ReadCallback = func(buf []byte, n int, err error)

// WriteCallback receives the byte count and the I/O error of one
// completed write.
type WriteCallback = func(n int, err error)

// Poster hands a completion closure to the caller's loop. Posting must
// not block the I/O executor for long; the rock store backs it with a
// buffered queue.
type Poster = func(fn func())

// File is an open handle on the backing db file, owned by a strategy.
type File interface {
	Name() string
	Close() error
}

// Strategy is the polymorphic async I/O surface. Blocking performs the
// syscalls on a local worker pool; IpcIo forwards them to the disker
// process. Neither variant reorders completions observable through a
// single in-flight request.
type Strategy interface {
	// NewFile opens the backing file read/write.
	NewFile(path string) (File, error)

	// Read fetches length bytes at offset and posts the callback.
	Read(f File, offset int64, length int, cb ReadCallback) error

	// Write stores buf at offset and posts the callback.
	Write(f File, offset int64, buf []byte, cb WriteCallback) error

	// ShedLoad reports that the strategy wants no new work now.
	ShedLoad() bool

	// Load gauges pressure in [0, 255].
	Load() uint8

	Close() error
}
