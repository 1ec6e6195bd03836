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

// Package shm manages named POSIX shared memory segments. A segment is
// created once by the coordinator process and then attached read/write
// by any number of workers; all cross-process coordination happens via
// atomics on the mapped bytes.
package shm

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/openrock/rockstore/pkg/common/moerr"
)

// shmDir is where the kernel exposes POSIX shared memory objects.
const shmDir = "/dev/shm"

type Segment struct {
	name string
	size int
	fd   int

	// Data is the mapped segment, shared with every attached process.
	Data []byte
}

// NameForPath derives the segment name from a cache_dir path, so that
// directories at different paths never collide in the shm namespace.
func NameForPath(dirPath string) string {
	cleaned := strings.Trim(filepath.Clean(dirPath), "/")
	return "rock." + strings.ReplaceAll(cleaned, "/", ".")
}

// Create makes a new segment of exactly size bytes, zero-filled. An
// existing segment of the same name is reused only if its size matches;
// its contents are discarded.
func Create(name string, size int) (*Segment, error) {
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if err == unix.EEXIST {
		fd, err = unix.Open(path, unix.O_RDWR, 0600)
		if err != nil {
			return nil, moerr.NewShmCreate(name, err)
		}
		var st unix.Stat_t
		if err = unix.Fstat(fd, &st); err != nil {
			unix.Close(fd)
			return nil, moerr.NewShmCreate(name, err)
		}
		if st.Size != int64(size) {
			unix.Close(fd)
			return nil, moerr.NewShmCreate(name,
				moerr.NewInvalidState("segment size %d, want %d", st.Size, size))
		}
		// punch the old image
		if err = unix.Ftruncate(fd, 0); err != nil {
			unix.Close(fd)
			return nil, moerr.NewShmCreate(name, err)
		}
	} else if err != nil {
		return nil, moerr.NewShmCreate(name, err)
	}
	if err = unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, moerr.NewShmCreate(name, err)
	}
	return mapSegment(name, fd, size, moerr.NewShmCreate)
}

// Attach opens an existing segment at whatever size it was created.
func Attach(name string) (*Segment, error) {
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR, 0600)
	if err != nil {
		return nil, moerr.NewShmAttach(name, err)
	}
	var st unix.Stat_t
	if err = unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, moerr.NewShmAttach(name, err)
	}
	return mapSegment(name, fd, int(st.Size), moerr.NewShmAttach)
}

func mapSegment(name string, fd, size int, fail func(string, error) *moerr.Error) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fail(name, err)
	}
	return &Segment{name: name, size: size, fd: fd, Data: data}, nil
}

func (s *Segment) Name() string {
	return s.name
}

func (s *Segment) Size() int {
	return s.size
}

// Close unmaps the segment from this process. The segment itself
// survives until Unlink.
func (s *Segment) Close() error {
	if s.Data == nil {
		return nil
	}
	if err := unix.Munmap(s.Data); err != nil {
		return moerr.ConvertGoError(err)
	}
	s.Data = nil
	return moerr.ConvertGoError(unix.Close(s.fd))
}

// Unlink removes the segment name. Attached mappings stay valid until
// their owners close them.
func (s *Segment) Unlink() error {
	return moerr.ConvertGoError(unix.Unlink(filepath.Join(shmDir, s.name)))
}
