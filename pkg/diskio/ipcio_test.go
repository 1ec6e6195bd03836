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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrock/rockstore/pkg/common/moerr"
)

func testDisker(t *testing.T) (*Disker, string, string) {
	t.Helper()
	dir := t.TempDir()
	filePath := testDbFile(t, 1<<20)
	socketPath := filepath.Join(dir, "rock.sock")
	d, err := NewDisker(socketPath, filePath, 2)
	require.NoError(t, err)
	d.Start()
	t.Cleanup(func() { d.Close() })
	return d, socketPath, filePath
}

func TestIpcIoRoundTrip(t *testing.T) {
	_, socketPath, filePath := testDisker(t)

	post, stop := testLoop(t)
	defer stop()

	s, err := NewIpcIo(socketPath, post)
	require.NoError(t, err)
	defer s.Close()

	f, err := s.NewFile(filePath)
	require.NoError(t, err)

	done := make(chan struct{})
	err = s.Write(f, 16384, []byte("ipc cell"), func(n int, err error) {
		assert.NoError(t, err)
		assert.Equal(t, 8, n)
		close(done)
	})
	require.NoError(t, err)
	waitDone(t, done)

	done = make(chan struct{})
	err = s.Read(f, 16384, 8, func(buf []byte, n int, err error) {
		assert.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, []byte("ipc cell"), buf)
		close(done)
	})
	require.NoError(t, err)
	waitDone(t, done)
}

func TestIpcIoOpenWrongPath(t *testing.T) {
	_, socketPath, _ := testDisker(t)

	post, stop := testLoop(t)
	defer stop()

	s, err := NewIpcIo(socketPath, post)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NewFile("/not/the/served/file")
	assert.Error(t, err)
}

func TestIpcIoDiskerGone(t *testing.T) {
	d, socketPath, filePath := testDisker(t)

	post, stop := testLoop(t)
	defer stop()

	s, err := NewIpcIo(socketPath, post)
	require.NoError(t, err)
	defer s.Close()

	f, err := s.NewFile(filePath)
	require.NoError(t, err)

	require.NoError(t, d.Close())

	// in-flight and new requests fail, but callbacks still fire
	done := make(chan struct{})
	submitted := s.Write(f, 16384, []byte("x"), func(n int, err error) {
		assert.Error(t, err)
		close(done)
	})
	if submitted != nil {
		// the strategy already noticed the dead connection
		assert.True(t, moerr.IsMoErrCode(submitted, moerr.ErrIpcClosed) ||
			moerr.IsMoErrCode(submitted, moerr.ErrIO))
		close(done)
	}
	waitDone(t, done)
}

func TestIpcIoDialFailure(t *testing.T) {
	post, stop := testLoop(t)
	defer stop()

	_, err := NewIpcIo(filepath.Join(t.TempDir(), "absent.sock"), post)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrIpcClosed))
}
