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

package diskio

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sys/unix"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/logutil"
)

const (
	DefaultBlockingWorkers = 4

	// maxPendingPerWorker bounds queued requests before ShedLoad
	// starts reporting pressure.
	maxPendingPerWorker = 16
)

type blockingFile struct {
	path string
	f    *os.File
}

func (bf *blockingFile) Name() string {
	return bf.path
}

func (bf *blockingFile) Close() error {
	return bf.f.Close()
}

// BlockingStrategy performs positioned reads and writes on a small
// worker pool and posts completions back to the caller's loop.
type BlockingStrategy struct {
	pool       *ants.Pool
	post       Poster
	pending    int64
	maxPending int64
}

func NewBlocking(workers int, post Poster) (*BlockingStrategy, error) {
	if workers <= 0 {
		workers = DefaultBlockingWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		logutil.Errorf("blocking io worker panic: %v", v)
	}))
	if err != nil {
		return nil, moerr.ConvertGoError(err)
	}
	return &BlockingStrategy{
		pool:       pool,
		post:       post,
		maxPending: int64(workers) * maxPendingPerWorker,
	}, nil
}

func (s *BlockingStrategy) NewFile(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, moerr.NewFileOpen(path, err)
	}
	return &blockingFile{path: path, f: f}, nil
}

func (s *BlockingStrategy) Read(f File, offset int64, length int, cb ReadCallback) error {
	bf := f.(*blockingFile)
	atomic.AddInt64(&s.pending, 1)
	err := s.pool.Submit(func() {
		buf := make([]byte, length)
		n, err := bf.f.ReadAt(buf, offset)
		s.post(func() {
			atomic.AddInt64(&s.pending, -1)
			cb(buf, n, wrapIOError(bf.path, err))
		})
	})
	if err != nil {
		atomic.AddInt64(&s.pending, -1)
		return moerr.ConvertGoError(err)
	}
	return nil
}

func (s *BlockingStrategy) Write(f File, offset int64, buf []byte, cb WriteCallback) error {
	bf := f.(*blockingFile)
	atomic.AddInt64(&s.pending, 1)
	err := s.pool.Submit(func() {
		n, err := bf.f.WriteAt(buf, offset)
		s.post(func() {
			atomic.AddInt64(&s.pending, -1)
			cb(n, wrapIOError(bf.path, err))
		})
	})
	if err != nil {
		atomic.AddInt64(&s.pending, -1)
		return moerr.ConvertGoError(err)
	}
	return nil
}

func (s *BlockingStrategy) ShedLoad() bool {
	return atomic.LoadInt64(&s.pending) >= s.maxPending
}

func (s *BlockingStrategy) Load() uint8 {
	pending := atomic.LoadInt64(&s.pending)
	if pending >= s.maxPending {
		return 255
	}
	return uint8(pending * 255 / s.maxPending)
}

func (s *BlockingStrategy) Close() error {
	s.pool.Release()
	return nil
}

func wrapIOError(path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENOSPC) {
		return moerr.NewDiskFull(path)
	}
	return moerr.NewIO(err)
}
