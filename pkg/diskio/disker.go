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
	"net"
	"os"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sys/unix"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/logutil"
)

const DefaultDiskerWorkers = 8

// Disker owns the backing file descriptor in SMP mode and serves
// positioned reads and writes to workers over a unix socket. Syscalls
// run on a bounded pool; responses to one connection are serialized by
// a per-connection mutex.
type Disker struct {
	socketPath string
	filePath   string
	ln         net.Listener
	fd         int
	pool       *ants.Pool

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewDisker(socketPath, filePath string, workers int) (*Disker, error) {
	if workers <= 0 {
		workers = DefaultDiskerWorkers
	}
	fd, err := unix.Open(filePath, unix.O_RDWR, 0644)
	if err != nil {
		return nil, moerr.NewFileOpen(filePath, err)
	}
	// a stale socket from a crashed disker blocks the listen
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		unix.Close(fd)
		return nil, moerr.ConvertGoError(err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		unix.Close(fd)
		return nil, moerr.ConvertGoError(err)
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		logutil.Errorf("disker worker panic: %v", v)
	}))
	if err != nil {
		ln.Close()
		unix.Close(fd)
		return nil, moerr.ConvertGoError(err)
	}
	return &Disker{
		socketPath: socketPath,
		filePath:   filePath,
		ln:         ln,
		fd:         fd,
		pool:       pool,
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// Start begins accepting worker connections.
func (d *Disker) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			conn, err := d.ln.Accept()
			if err != nil {
				return
			}
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				conn.Close()
				return
			}
			d.conns[conn] = struct{}{}
			d.mu.Unlock()
			d.wg.Add(1)
			go d.serve(conn)
		}
	}()
	logutil.Infof("disker serving %s on %s", d.filePath, d.socketPath)
}

func (d *Disker) serve(conn net.Conn) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		conn.Close()
	}()
	var writeMu sync.Mutex
	for {
		body, err := readFrame(conn)
		if err != nil {
			return
		}
		req, err := decodeRequest(body)
		if err != nil {
			logutil.Errorf("disker: dropping bad request: %v", err)
			continue
		}
		request := req
		if err := d.pool.Submit(func() {
			resp := d.handle(request)
			writeMu.Lock()
			err := writeFrame(conn, resp.encode())
			writeMu.Unlock()
			if err != nil {
				logutil.Errorf("disker: response write failed: %v", err)
			}
		}); err != nil {
			return
		}
	}
}

func (d *Disker) handle(req *ipcRequest) *ipcResponse {
	resp := &ipcResponse{ID: req.ID, Op: req.Op}
	switch req.Op {
	case OpOpen:
		// one shared descriptor serves every worker; just confirm
		// the path matches what this disker was started for
		if string(req.Payload) != d.filePath {
			logutil.Errorf("disker: open request for %q, serving %q",
				string(req.Payload), d.filePath)
			resp.Errno = IpcErrOpen
		}
	case OpRead:
		buf := make([]byte, req.Length)
		n, err := unix.Pread(d.fd, buf, req.Offset)
		resp.Count = uint32(n)
		resp.Payload = buf[:n]
		if err != nil {
			resp.Errno = IpcErrIO
		}
	case OpWrite:
		n, err := unix.Pwrite(d.fd, req.Payload, req.Offset)
		resp.Count = uint32(n)
		switch {
		case err == unix.ENOSPC:
			resp.Errno = IpcErrDiskFull
		case err != nil:
			resp.Errno = IpcErrIO
		}
	default:
		resp.Errno = IpcErrIO
	}
	return resp
}

// Close stops the listener, drops every connection and releases the
// descriptor.
func (d *Disker) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	conns := make([]net.Conn, 0, len(d.conns))
	for conn := range d.conns {
		conns = append(conns, conn)
	}
	d.mu.Unlock()

	d.ln.Close()
	for _, conn := range conns {
		conn.Close()
	}
	d.wg.Wait()
	d.pool.Release()
	return moerr.ConvertGoError(unix.Close(d.fd))
}
