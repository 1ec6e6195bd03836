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
	"net"
	"sync"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/logutil"
)

// DefaultIpcWindow bounds in-flight requests to the disker before
// ShedLoad reports pressure.
const DefaultIpcWindow = 64

type ipcFile struct {
	path string
	s    *IpcIoStrategy
}

func (f *ipcFile) Name() string {
	return f.path
}

func (f *ipcFile) Close() error {
	return nil // the disker owns the descriptor
}

type pendingIO struct {
	op      uint8
	readCB  ReadCallback
	writeCB WriteCallback
	doneC   chan *ipcResponse // only for synchronous opens
}

// IpcIoStrategy ships I/O requests to the disker process over a unix
// socket. One goroutine reads responses and posts completions; request
// writes are serialized by a mutex.
type IpcIoStrategy struct {
	post   Poster
	conn   net.Conn
	window int

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingIO
	closed  bool

	wg sync.WaitGroup
}

func NewIpcIo(addr string, post Poster) (*IpcIoStrategy, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, moerr.NewIpcClosed()
	}
	s := &IpcIoStrategy{
		post:    post,
		conn:    conn,
		window:  DefaultIpcWindow,
		pending: make(map[uint64]*pendingIO),
	}
	s.wg.Add(1)
	go s.receiveLoop()
	return s, nil
}

// NewFile asks the disker to open the backing file. The request is the
// only synchronous one: init cannot proceed before the disker confirms
// the descriptor.
func (s *IpcIoStrategy) NewFile(path string) (File, error) {
	doneC := make(chan *ipcResponse, 1)
	err := s.submit(&ipcRequest{Op: OpOpen, Payload: []byte(path)},
		&pendingIO{op: OpOpen, doneC: doneC})
	if err != nil {
		return nil, err
	}
	resp, ok := <-doneC
	if !ok || resp.Errno != IpcOK {
		return nil, moerr.NewFileOpen(path, moerr.NewIpcClosed())
	}
	return &ipcFile{path: path, s: s}, nil
}

func (s *IpcIoStrategy) Read(f File, offset int64, length int, cb ReadCallback) error {
	return s.submit(
		&ipcRequest{Op: OpRead, Offset: offset, Length: uint32(length)},
		&pendingIO{op: OpRead, readCB: cb})
}

func (s *IpcIoStrategy) Write(f File, offset int64, buf []byte, cb WriteCallback) error {
	return s.submit(
		&ipcRequest{Op: OpWrite, Offset: offset, Length: uint32(len(buf)), Payload: buf},
		&pendingIO{op: OpWrite, writeCB: cb})
}

func (s *IpcIoStrategy) submit(req *ipcRequest, p *pendingIO) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return moerr.NewIpcClosed()
	}
	s.nextID++
	req.ID = s.nextID
	s.pending[req.ID] = p
	err := writeFrame(s.conn, req.encode())
	if err != nil {
		delete(s.pending, req.ID)
	}
	s.mu.Unlock()
	return err
}

func (s *IpcIoStrategy) receiveLoop() {
	defer s.wg.Done()
	for {
		body, err := readFrame(s.conn)
		if err != nil {
			s.failAll()
			return
		}
		resp, err := decodeResponse(body)
		if err != nil {
			logutil.Errorf("ipcio: dropping bad response: %v", err)
			continue
		}
		s.mu.Lock()
		p, ok := s.pending[resp.ID]
		delete(s.pending, resp.ID)
		s.mu.Unlock()
		if !ok {
			logutil.Warnf("ipcio: response for unknown request %d", resp.ID)
			continue
		}
		s.complete(p, resp)
	}
}

func (s *IpcIoStrategy) complete(p *pendingIO, resp *ipcResponse) {
	switch p.op {
	case OpOpen:
		p.doneC <- resp
	case OpRead:
		cb := p.readCB
		s.post(func() {
			cb(resp.Payload, int(resp.Count), errnoToError(resp.Errno))
		})
	case OpWrite:
		cb := p.writeCB
		s.post(func() {
			cb(int(resp.Count), errnoToError(resp.Errno))
		})
	}
}

// failAll aborts every in-flight request after the connection died.
// Callbacks still run, on the loop, so per-cell locks get released.
func (s *IpcIoStrategy) failAll() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]*pendingIO)
	s.closed = true
	s.mu.Unlock()
	for _, p := range pending {
		switch p.op {
		case OpOpen:
			close(p.doneC)
		case OpRead:
			cb := p.readCB
			s.post(func() { cb(nil, 0, moerr.NewIpcClosed()) })
		case OpWrite:
			cb := p.writeCB
			s.post(func() { cb(0, moerr.NewIpcClosed()) })
		}
	}
}

func (s *IpcIoStrategy) ShedLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) >= s.window
}

func (s *IpcIoStrategy) Load() uint8 {
	s.mu.Lock()
	inflight := len(s.pending)
	s.mu.Unlock()
	if inflight >= s.window {
		return 255
	}
	return uint8(inflight * 255 / s.window)
}

func (s *IpcIoStrategy) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.conn.Close()
	s.wg.Wait()
	return moerr.ConvertGoError(err)
}

func errnoToError(errno uint8) error {
	switch errno {
	case IpcOK:
		return nil
	case IpcErrDiskFull:
		return moerr.NewDiskFull("rock")
	case IpcErrOpen:
		return moerr.NewFileOpen("rock", moerr.NewIO(moerr.NewInternalError("disker open failed")))
	default:
		return moerr.NewIO(moerr.NewInternalError("disker errno %d", errno))
	}
}
