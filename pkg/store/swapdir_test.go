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
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/config"
	"github.com/openrock/rockstore/pkg/dirmap"
	"github.com/openrock/rockstore/pkg/diskio"
)

// fourCellObjSize makes a 1 MiB db hold exactly 4 cells.
const fourCellObjSize = (int64(1)<<20 - HeaderSize) / 4

func newTestDir(t *testing.T, maxObjSize int64) *SwapDir {
	t.Helper()
	sd := newTestDirAt(t, t.TempDir(), maxObjSize)
	return sd
}

func newTestDirAt(t *testing.T, path string, maxObjSize int64) *SwapDir {
	t.Helper()
	ctx := NewContext(RoleSingle)
	sd, err := NewSwapDir(ctx, config.StoreConfig{
		Path:       path,
		MaxSizeMB:  1,
		MaxObjSize: maxObjSize,
		DiskIO:     config.DiskIOBlocking,
	})
	require.NoError(t, err)
	require.NoError(t, sd.Create())
	require.NoError(t, sd.Init())
	t.Cleanup(func() {
		sd.Close()
		sd.UnlinkSegment()
	})
	waitRebuilt(t, sd)
	return sd
}

func waitRebuilt(t *testing.T, sd *SwapDir) {
	t.Helper()
	select {
	case <-sd.RebuildDone():
	case <-time.After(10 * time.Second):
		t.Fatal("rebuild timed out")
	}
}

func keyOf(b byte) dirmap.Key {
	var k dirmap.Key
	k[15] = b // keep the hashed low word at zero
	return k
}

func TestCreateMakesSizedFile(t *testing.T) {
	sd := newTestDir(t, 4096)
	st, err := os.Stat(sd.filePath)
	require.NoError(t, err)
	assert.Equal(t, sd.MaximumSize(), st.Size())
	assert.Equal(t, 0, sd.EntryCount())
	assert.False(t, sd.Full())
}

func TestGeometry(t *testing.T) {
	sd := newTestDir(t, 4096)
	assert.Equal(t, int64(16384), HeaderSize)
	assert.Equal(t, HeaderSize, sd.DiskOffset(0))
	assert.Equal(t, HeaderSize+3*4096, sd.DiskOffset(3))
	assert.Equal(t, HeaderSize+int64(sd.EntryLimit())*4096, sd.DiskOffsetLimit())
	assert.Equal(t, (int64(1)<<20-HeaderSize)/4096, int64(sd.EntryLimit()))
}

func TestPutGetRoundTrip(t *testing.T) {
	sd := newTestDir(t, 4096)
	key := keyOf(1)

	require.NoError(t, sd.Put(key, []byte("hello")))
	assert.Equal(t, 1, sd.EntryCount())

	data, err := sd.GetData(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = sd.GetData(keyOf(2))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
}

func TestOverwriteReusesCell(t *testing.T) {
	sd := newTestDir(t, 4096)
	key := keyOf(1)

	require.NoError(t, sd.Put(key, bytes.Repeat([]byte("A"), 10)))
	e1, err := sd.Get(key)
	require.NoError(t, err)
	f1 := e1.FileNo
	sd.Disconnect(e1)

	require.NoError(t, sd.Put(key, bytes.Repeat([]byte("B"), 20)))
	assert.Equal(t, 1, sd.EntryCount())

	e2, err := sd.Get(key)
	require.NoError(t, err)
	assert.Equal(t, f1, e2.FileNo)
	sd.Disconnect(e2)

	data, err := sd.GetData(key)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("B"), 20), data)
}

// The raw cell image: a little-endian u64 payload size followed by
// the payload, at HeaderSize + fileno*max_objsize.
func TestRawCellLayout(t *testing.T) {
	sd := newTestDir(t, 4096)
	var key dirmap.Key
	key[15] = 1 // hashes to cell 0

	e := &Entry{Key: key, SwapHdrSz: 0, ExpectedReplySize: 5}
	done := make(chan error, 1)
	sio, err := sd.CreateIO(e, func(err error) { done <- err })
	require.NoError(t, err)
	require.Equal(t, int32(0), sio.FileNo)

	require.NoError(t, sio.Write([]byte("hello")))
	require.NoError(t, <-done)
	sd.dir.CloseForReading(e.FileNo) // give back the kept read lock

	img, err := os.ReadFile(sd.filePath)
	require.NoError(t, err)
	want := []byte{0x05, 0, 0, 0, 0, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}
	assert.Equal(t, want, img[16384:16384+13])

	// header bytes are reserved and zero
	assert.Equal(t, make([]byte, 16384), img[:16384])

	data, err := sd.GetData(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 1, sd.EntryCount())
}

func TestDelete(t *testing.T) {
	sd := newTestDir(t, 4096)
	key := keyOf(9)
	require.NoError(t, sd.Put(key, []byte("gone soon")))
	require.Equal(t, 1, sd.EntryCount())

	require.NoError(t, sd.Delete(key))
	assert.Equal(t, 0, sd.EntryCount())
	_, err := sd.GetData(key)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))

	assert.True(t, moerr.IsMoErrCode(sd.Delete(key), moerr.ErrNotFound))
}

func TestCanStore(t *testing.T) {
	sd := newTestDir(t, 4096)

	load, ok := sd.CanStore(100)
	assert.True(t, ok)
	assert.Equal(t, uint8(0), load)

	// larger than a cell payload
	_, ok = sd.CanStore(4096)
	assert.False(t, ok)
	_, ok = sd.CanStore(4089)
	assert.False(t, ok)
	_, ok = sd.CanStore(4088)
	assert.True(t, ok)
}

func TestEntryTooLarge(t *testing.T) {
	sd := newTestDir(t, 4096)
	err := sd.Put(keyOf(1), make([]byte, 4096))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrEntryTooLarge))
	assert.Equal(t, 0, sd.EntryCount())
}

func TestMapFullAndMaintain(t *testing.T) {
	sd := newTestDir(t, fourCellObjSize)
	require.Equal(t, 4, sd.EntryLimit())

	for i := 0; i < 4; i++ {
		require.NoError(t, sd.Put(keyOf(byte(i+1)), []byte{byte(i)}))
	}
	assert.True(t, sd.Full())

	// a fifth key cannot be stored now
	err := sd.Put(keyOf(50), []byte("overflow"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrMapFull))

	sd.Maintain()
	assert.False(t, sd.Full())
	assert.Equal(t, 3, sd.EntryCount())

	require.NoError(t, sd.Put(keyOf(50), []byte("overflow")))
	assert.True(t, sd.Full())
}

func TestMaintainSkipsWhileRebuilding(t *testing.T) {
	sd := newTestDir(t, fourCellObjSize)
	for i := 0; i < 4; i++ {
		require.NoError(t, sd.Put(keyOf(byte(i+1)), []byte{byte(i)}))
	}
	require.True(t, sd.Full())

	sd.ctx.incRebuilding()
	sd.Maintain()
	assert.True(t, sd.Full())
	sd.ctx.decRebuilding()

	sd.Maintain()
	assert.False(t, sd.Full())
}

// A write error must revert the fill: the slot is reclaimed and the
// key disappears.
func TestWriteErrorFreesSlot(t *testing.T) {
	sd := newTestDir(t, 4096)

	realIO := sd.io
	sd.io = &failingIO{post: sd.post}
	defer func() { sd.io = realIO }()

	err := sd.Put(keyOf(3), []byte("doomed"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrIO))
	assert.Equal(t, 0, sd.EntryCount())
	assert.Equal(t, dirmap.StateEmpty, sd.dir.SlotAt(0).State())

	sd.io = realIO
	_, err = sd.GetData(keyOf(3))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
}

func TestStats(t *testing.T) {
	sd := newTestDir(t, 4096)
	require.NoError(t, sd.Put(keyOf(1), []byte("one")))
	require.NoError(t, sd.Put(keyOf(2), []byte("two")))

	e, err := sd.Get(keyOf(1))
	require.NoError(t, err)

	st := sd.Stats()
	assert.Equal(t, sd.MaximumSize(), st.MaximumSize)
	assert.Equal(t, HeaderSize+2*4096, st.CurrentSize)
	assert.Equal(t, 2, st.EntryCount)
	assert.Equal(t, 2, st.Readable)
	assert.Equal(t, st.EntryLimit-2, st.Empty)
	assert.Equal(t, int64(1), st.Readers)
	assert.False(t, st.Rebuilding)

	sd.Disconnect(e)
}

func TestBadGeometry(t *testing.T) {
	ctx := NewContext(RoleSingle)
	_, err := NewSwapDir(ctx, config.StoreConfig{
		Path: t.TempDir(), MaxSizeMB: 1, MaxObjSize: 8, DiskIO: config.DiskIOBlocking,
	})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))

	// cells larger than the whole db
	_, err = NewSwapDir(ctx, config.StoreConfig{
		Path: t.TempDir(), MaxSizeMB: 1, MaxObjSize: 2 << 20, DiskIO: config.DiskIOBlocking,
	})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
}

// failingIO fails every read and write, after the completion has gone
// through the loop like a real one.
type failingIO struct {
	post diskio.Poster
}

type failingFile struct{}

func (failingFile) Name() string { return "failing" }
func (failingFile) Close() error { return nil }

func (io *failingIO) NewFile(path string) (diskio.File, error) {
	return failingFile{}, nil
}

func (io *failingIO) Read(f diskio.File, offset int64, length int, cb diskio.ReadCallback) error {
	io.post(func() { cb(nil, 0, moerr.NewIO(moerr.NewInternalError("injected"))) })
	return nil
}

func (io *failingIO) Write(f diskio.File, offset int64, buf []byte, cb diskio.WriteCallback) error {
	io.post(func() { cb(0, moerr.NewIO(moerr.NewInternalError("injected"))) })
	return nil
}

func (io *failingIO) ShedLoad() bool { return false }
func (io *failingIO) Load() uint8    { return 0 }
func (io *failingIO) Close() error   { return nil }
