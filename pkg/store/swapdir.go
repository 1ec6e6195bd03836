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
	"os"
	"time"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/common/sm"
	"github.com/openrock/rockstore/pkg/config"
	"github.com/openrock/rockstore/pkg/dirmap"
	"github.com/openrock/rockstore/pkg/diskio"
	"github.com/openrock/rockstore/pkg/logutil"
)

// Maintain caps, straight from the eviction loop of the swap layer:
// scan at most this many candidates and free at most this many per
// call.
const (
	maintainMaxScanned = 10000
	maintainMaxFreed   = 1000
)

// SwapDir is one rock cache directory: a shared slot directory over a
// single fixed-size db file, served through an async I/O strategy. One
// SwapDir instance belongs to one process; processes meet in the
// shared segment.
type SwapDir struct {
	ctx *Context
	cfg config.StoreConfig

	path       string
	filePath   string
	maxObjSize int64
	entryLimit int

	dir       *dirmap.DirMap
	io        diskio.Strategy
	file      diskio.File
	callbacks sm.Queue
	policy    RemovalPolicy

	rebuildDone chan struct{}
	closed      bool
}

// NewSwapDir validates the configuration and computes the directory
// geometry. Disk and segment artifacts are made later by Create/Init.
func NewSwapDir(ctx *Context, cfg config.StoreConfig) (*SwapDir, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxObjSize <= CellHeaderSize {
		return nil, moerr.NewBadConfig("max-objsize %d cannot hold the %d-byte cell header",
			cfg.MaxObjSize, CellHeaderSize)
	}
	entryLimit := (cfg.MaximumSize() - HeaderSize) / cfg.MaxObjSize
	if entryLimit <= 0 {
		return nil, moerr.NewBadConfig("max-size-mb %d leaves no room for cells of %d bytes",
			cfg.MaxSizeMB, cfg.MaxObjSize)
	}
	if entryLimit > dirmap.AbsoluteEntryLimit {
		entryLimit = dirmap.AbsoluteEntryLimit
	}
	sd := &SwapDir{
		ctx:         ctx,
		cfg:         cfg,
		path:        cfg.Path,
		filePath:    cfg.FilePath(),
		maxObjSize:  cfg.MaxObjSize,
		entryLimit:  int(entryLimit),
		policy:      NewLRUPolicy(),
		rebuildDone: make(chan struct{}),
	}
	ctx.register(sd)
	return sd, nil
}

// Create builds the disk artifacts: the cache directory and the db
// file, sized to MaximumSize with a zeroed reserved header. Only the
// process that owns the deployment calls this, once.
func (sd *SwapDir) Create() error {
	if err := os.MkdirAll(sd.path, 0700); err != nil {
		return moerr.NewFileCreate(sd.path, err)
	}
	f, err := os.OpenFile(sd.filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return moerr.NewFileCreate(sd.filePath, err)
	}
	defer f.Close()
	if err := f.Truncate(sd.MaximumSize()); err != nil {
		return moerr.NewFileTruncate(sd.filePath, err)
	}
	header := make([]byte, HeaderSize)
	if _, err := f.WriteAt(header, 0); err != nil {
		return moerr.NewFileCreate(sd.filePath, err)
	}
	logutil.Infof("created rock db %s: %d bytes, %d cells of %d bytes",
		sd.filePath, sd.MaximumSize(), sd.entryLimit, sd.maxObjSize)
	return nil
}

// CreateMap creates the shared directory segment without initializing
// this process for serving; the coordinator uses it in SMP mode.
func (sd *SwapDir) CreateMap() error {
	m, err := dirmap.Create(sd.path, sd.entryLimit)
	if err != nil {
		return err
	}
	sd.dir = m
	return nil
}

// Init attaches the shared directory, opens the db file through the
// configured I/O module and schedules the rebuild.
func (sd *SwapDir) Init() error {
	var err error
	if sd.dir == nil {
		if sd.ctx.ownsSegments() {
			sd.dir, err = dirmap.Create(sd.path, sd.entryLimit)
		} else {
			sd.dir, err = dirmap.Open(sd.path)
		}
		if err != nil {
			return err
		}
	}

	sd.callbacks = sm.NewSafeQueue(8192, 64, func(items ...any) {
		for _, item := range items {
			item.(func())()
		}
	})
	sd.callbacks.Start()

	switch sd.cfg.DiskIO {
	case config.DiskIOIpcIo:
		sd.io, err = diskio.NewIpcIo(sd.cfg.SocketPath(), sd.post)
	default:
		sd.io, err = diskio.NewBlocking(diskio.DefaultBlockingWorkers, sd.post)
	}
	if err != nil {
		return err
	}
	logutil.Infof("rock dir %s using DiskIO module %s", sd.path, sd.cfg.DiskIO)

	sd.file, err = sd.io.NewFile(sd.filePath)
	if err != nil {
		return err
	}

	logutil.Infof("rock dir %s limits: %d disk bytes and %d entries",
		sd.path, sd.MaximumSize(), sd.entryLimit)

	// count up before the first rebuild step so a dir that finishes
	// instantly cannot end the process-wide rebuild phase early
	sd.ctx.incRebuilding()
	newRebuilder(sd).start()
	return nil
}

// post hands a completion to the swap dir loop.
func (sd *SwapDir) post(fn func()) {
	if _, err := sd.callbacks.Enqueue(fn); err != nil {
		logutil.Errorf("rock dir %s dropped a completion: %v", sd.path, err)
	}
}

// RebuildDone is closed once the startup rebuild finished.
func (sd *SwapDir) RebuildDone() <-chan struct{} {
	return sd.rebuildDone
}

// Get locates a readable entry. The returned entry keeps one read
// lock on its slot until Disconnect.
func (sd *SwapDir) Get(key dirmap.Key) (*Entry, error) {
	if sd.dir == nil {
		return nil, moerr.NewNotFound()
	}
	fileno, slot, err := sd.dir.OpenForReading(key)
	if err != nil {
		return nil, err
	}
	e := entryFromBasics(key, fileno, slot.Basics())
	sd.policy.Referenced(fileno, time.Now().Unix())
	return e, nil
	// the disk entry remains open for reading, protected from
	// modifications
}

// Disconnect gives back the read lock Get left behind.
func (sd *SwapDir) Disconnect(e *Entry) {
	sd.dir.CloseForReading(e.FileNo)
	e.FileNo = -1
}

// CanStore reports whether this dir accepts an object needing
// diskSpaceNeeded payload bytes now, and at what load.
func (sd *SwapDir) CanStore(diskSpaceNeeded int64) (uint8, bool) {
	if sd.closed || sd.file == nil || sd.dir == nil {
		return 0, false
	}
	if CellHeaderSize+diskSpaceNeeded > sd.maxObjSize {
		return 0, false
	}
	if sd.io.ShedLoad() {
		return 0, false
	}
	return sd.io.Load(), true
}

// CreateIO claims a cell for the entry and returns the state that
// fills it. The entry's swap header size and expected reply size must
// be known to prevent cell overflows.
func (sd *SwapDir) CreateIO(e *Entry, done func(error)) (*IoState, error) {
	if sd.closed || sd.file == nil {
		return nil, moerr.NewInvalidState("rock dir %s is not serving", sd.path)
	}
	if e.ExpectedReplySize < 0 || e.SwapHdrSz < 0 {
		return nil, moerr.NewInvalidInput("unknown object size for cell fill")
	}
	payloadSize := e.SwapHdrSz + e.ExpectedReplySize
	payloadEnd := CellHeaderSize + payloadSize
	if payloadEnd > sd.maxObjSize {
		return nil, moerr.NewEntryTooLarge(payloadSize, sd.maxObjSize-CellHeaderSize)
	}

	fileno, slot, err := sd.dir.OpenForWriting(e.Key)
	if err != nil {
		logutil.Debugf("rock dir %s has no slot for the entry: %v", sd.path, err)
		return nil, err
	}
	e.SwapFileSz = uint64(payloadSize)
	e.FileNo = fileno
	slot.SetBasics(e.basics())

	sio := &IoState{
		sd:         sd,
		e:          e,
		mode:       ioWriting,
		FileNo:     fileno,
		DiskOffset: sd.DiskOffset(fileno),
		PayloadEnd: payloadEnd,
		done:       done,
	}
	if sio.DiskOffset+payloadEnd > sd.DiskOffsetLimit() {
		panic(moerr.NewInternalError("cell %d placed beyond the db end", fileno))
	}
	logutil.Debugf("rock dir %s fills fileno %08X at %d", sd.path, fileno, sio.DiskOffset)
	return sio, nil
}

// OpenIO opens an existing cell for reading by fileno. There is no
// support for reading a cell that is still being filled.
func (sd *SwapDir) OpenIO(e *Entry, done func(error)) (*IoState, error) {
	if sd.closed || sd.file == nil {
		return nil, moerr.NewInvalidState("rock dir %s is not serving", sd.path)
	}
	if e.FileNo < 0 {
		return nil, moerr.NewInvalidInput("entry has no cell")
	}
	slot, err := sd.dir.OpenForReadingAt(e.FileNo)
	if err != nil {
		return nil, err
	}
	if !slot.CheckKey(e.Key) {
		sd.dir.CloseForReading(e.FileNo)
		return nil, moerr.NewNotFound()
	}
	basics := slot.Basics()
	if basics.SwapFileSz == 0 {
		sd.dir.CloseForReading(e.FileNo)
		return nil, moerr.NewInvalidState("cell %d has no image", e.FileNo)
	}
	payloadEnd := CellHeaderSize + int64(basics.SwapFileSz)
	if payloadEnd > sd.maxObjSize {
		sd.dir.CloseForReading(e.FileNo)
		return nil, moerr.NewCorruptCell(e.FileNo, basics.SwapFileSz,
			uint64(sd.maxObjSize-CellHeaderSize))
	}

	sio := &IoState{
		sd:         sd,
		e:          e,
		mode:       ioReading,
		FileNo:     e.FileNo,
		DiskOffset: sd.DiskOffset(e.FileNo),
		PayloadEnd: payloadEnd,
		done:       done,
	}
	logutil.Debugf("rock dir %s reads fileno %08X at %d", sd.path, e.FileNo, sio.DiskOffset)
	return sio, nil
}

// Unlink drops the entry from the directory. Reclaim happens once the
// last lock holder lets go.
func (sd *SwapDir) Unlink(e *Entry) {
	sd.policy.Remove(e.FileNo)
	sd.dir.Free(e.FileNo)
}

// Maintain purges while the directory is full. It should not take
// long, but hard caps stop runaway loops either way, and it stays
// away during rebuild.
func (sd *SwapDir) Maintain() {
	if sd.dir == nil || !sd.Full() {
		return
	}
	if sd.ctx.Rebuilding() {
		return
	}
	walker := sd.policy.PurgeInit(maintainMaxScanned)
	defer walker.Done()
	freed := 0
	for freed < maintainMaxFreed && sd.Full() {
		v, ok := walker.Next()
		if !ok {
			break
		}
		sd.policy.Remove(v.FileNo)
		sd.dir.Free(v.FileNo)
		freed++
	}
	logutil.Debugf("rock dir %s freed %d scanned %d", sd.path, freed, walker.Scanned())
	if sd.Full() {
		logutil.Errorf("rock dir %s is still full after freeing %d entries", sd.path, freed)
	}
}

// DiskOffset maps a cell coordinate to its byte position in the db
// file.
func (sd *SwapDir) DiskOffset(fileno int32) int64 {
	if fileno < 0 {
		panic(moerr.NewInternalError("negative fileno %d", fileno))
	}
	return HeaderSize + sd.maxObjSize*int64(fileno)
}

// DiskOffsetLimit is the end of the last cell.
func (sd *SwapDir) DiskOffsetLimit() int64 {
	return sd.DiskOffset(int32(sd.entryLimit))
}

func (sd *SwapDir) MaximumSize() int64 {
	return sd.cfg.MaximumSize()
}

// CurrentSize counts the header plus every used cell.
func (sd *SwapDir) CurrentSize() int64 {
	return HeaderSize + sd.maxObjSize*int64(sd.EntryCount())
}

func (sd *SwapDir) EntryLimit() int {
	return sd.entryLimit
}

func (sd *SwapDir) EntryCount() int {
	if sd.dir == nil {
		return 0
	}
	return sd.dir.EntryCount()
}

func (sd *SwapDir) Full() bool {
	return sd.dir != nil && sd.dir.Full()
}

// Close detaches this process from the dir: I/O first so no
// completion arrives after the loop stops. The segment itself is only
// removed by UnlinkSegment.
func (sd *SwapDir) Close() error {
	if sd.closed {
		return nil
	}
	sd.closed = true
	if sd.io != nil {
		sd.io.Close()
	}
	if sd.file != nil {
		sd.file.Close()
	}
	if sd.callbacks != nil {
		sd.callbacks.Stop()
	}
	if sd.dir != nil {
		return sd.dir.Close()
	}
	return nil
}

// UnlinkSegment removes the shared segment name; the segment owner
// calls this on teardown after Close.
func (sd *SwapDir) UnlinkSegment() error {
	if sd.dir == nil {
		return nil
	}
	return sd.dir.Unlink()
}
