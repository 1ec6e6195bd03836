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

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/dirmap"
)

func TestIoStateSingleWrite(t *testing.T) {
	sd := newTestDir(t, 4096)
	e := &Entry{Key: keyOf(1), ExpectedReplySize: 4}
	done := make(chan error, 1)
	sio, err := sd.CreateIO(e, func(err error) { done <- err })
	require.NoError(t, err)

	require.NoError(t, sio.Write([]byte("once")))
	require.NoError(t, <-done)

	err = sio.Write([]byte("again"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
	sd.dir.CloseForReading(e.FileNo)
}

func TestIoStateChunkedRead(t *testing.T) {
	sd := newTestDir(t, 4096)
	e := &Entry{Key: keyOf(1), ExpectedReplySize: 10}
	done := make(chan error, 1)
	sio, err := sd.CreateIO(e, func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, sio.Write([]byte("0123456789")))
	require.NoError(t, <-done)
	sd.dir.CloseForReading(e.FileNo)

	re, err := sd.Get(keyOf(1))
	require.NoError(t, err)
	rio, err := sd.OpenIO(re, nil)
	require.NoError(t, err)
	assert.Equal(t, CellHeaderSize+10, rio.PayloadEnd)

	// two sequential chunks after the header
	readC := make(chan []byte, 1)
	require.NoError(t, rio.Read(CellHeaderSize, 5, func(buf []byte, n int, err error) {
		assert.NoError(t, err)
		readC <- buf[:n]
	}))
	assert.Equal(t, []byte("01234"), <-readC)

	require.NoError(t, rio.Read(CellHeaderSize+5, 5, func(buf []byte, n int, err error) {
		assert.NoError(t, err)
		readC <- buf[:n]
	}))
	assert.Equal(t, []byte("56789"), <-readC)

	rio.Close(nil)
	sd.Disconnect(re)
}

func TestIoStateReadOnWriter(t *testing.T) {
	sd := newTestDir(t, 4096)
	e := &Entry{Key: keyOf(1), ExpectedReplySize: 1}
	sio, err := sd.CreateIO(e, nil)
	require.NoError(t, err)

	err = sio.Read(0, 8, func([]byte, int, error) {})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))

	// abandoning an unwritten cell reverts the claim
	sio.Close(nil)
	assert.Equal(t, 0, sd.EntryCount())
}

func TestIoStateReadBounds(t *testing.T) {
	sd := newTestDir(t, 4096)
	require.NoError(t, sd.Put(keyOf(1), []byte("abc")))

	e, err := sd.Get(keyOf(1))
	require.NoError(t, err)
	rio, err := sd.OpenIO(e, nil)
	require.NoError(t, err)

	err = rio.Read(-1, 8, func([]byte, int, error) {})
	assert.Error(t, err)
	err = rio.Read(0, 5000, func([]byte, int, error) {})
	assert.Error(t, err)

	rio.Close(nil)
	sd.Disconnect(e)
}

// A released owner stops receiving callbacks, but the slot lock still
// comes back.
func TestIoStateRelease(t *testing.T) {
	sd := newTestDir(t, 4096)
	require.NoError(t, sd.Put(keyOf(1), []byte("abc")))

	e, err := sd.Get(keyOf(1))
	require.NoError(t, err)
	rio, err := sd.OpenIO(e, nil)
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	rio.Release()
	require.NoError(t, rio.Read(0, 4, func([]byte, int, error) {
		fired <- struct{}{}
	}))

	select {
	case <-fired:
		t.Fatal("released owner still got its callback")
	case <-time.After(100 * time.Millisecond):
	}

	fileno := e.FileNo
	rio.Close(nil)
	sd.Disconnect(e)
	assert.Equal(t, int32(0), sd.dir.SlotAt(fileno).Readers())
}

func TestOpenIOWrongKey(t *testing.T) {
	sd := newTestDir(t, 4096)
	require.NoError(t, sd.Put(keyOf(1), []byte("abc")))

	e, err := sd.Get(keyOf(1))
	require.NoError(t, err)
	fileno := e.FileNo

	bogus := &Entry{Key: keyOf(2), FileNo: fileno}
	_, err = sd.OpenIO(bogus, nil)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))

	sd.Disconnect(e)
	assert.Equal(t, int32(0), sd.dir.SlotAt(fileno).Readers())
}

func TestDiskOffsetBounds(t *testing.T) {
	sd := newTestDir(t, 4096)
	var key dirmap.Key
	key[0] = byte(sd.EntryLimit() - 1) // hashes to the last cell
	e := &Entry{Key: key, ExpectedReplySize: 4}
	done := make(chan error, 1)
	sio, err := sd.CreateIO(e, func(err error) { done <- err })
	require.NoError(t, err)
	assert.Equal(t, int32(sd.EntryLimit()-1), sio.FileNo)
	assert.LessOrEqual(t, sio.DiskOffset+sio.PayloadEnd, sd.DiskOffsetLimit())
	require.NoError(t, sio.Write([]byte("last")))
	require.NoError(t, <-done)
	sd.dir.CloseForReading(e.FileNo)
}
