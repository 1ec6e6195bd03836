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
	"sync/atomic"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/diskio"
	"github.com/openrock/rockstore/pkg/logutil"
)

const (
	ioReading uint8 = iota
	ioWriting
)

// IoState tracks one in-flight use of one cell: either filling it
// (single write of the whole image) or reading it in sequential
// chunks. At most one I/O is outstanding per IoState, so completions
// of a single caller never reorder.
//
// The state is shared by the submitter and the completion handler;
// whoever lives longer keeps it alive. If the submitter loses interest
// it calls Release: callbacks of later completions are not invoked.
// Release gives back no lock and completions do not either: a reading
// state's shared lock returns only through Close, and the read lock a
// published write keeps returns only through CloseForReading.
type IoState struct {
	sd *SwapDir
	e  *Entry

	mode       uint8
	FileNo     int32
	DiskOffset int64

	// PayloadEnd is the cell-relative end of meaningful bytes:
	// CellHeaderSize + swap header + object.
	PayloadEnd int64

	// offset is the cumulative cell-relative transfer position.
	offset int64

	inFlight bool
	wrote    bool
	finished bool
	released int32

	readCB diskio.ReadCallback
	done   func(err error)
}

// Release drops the owner's interest in pending completions. It does
// not release the locks held by this state; Close still does that.
func (sio *IoState) Release() {
	atomic.StoreInt32(&sio.released, 1)
}

func (sio *IoState) dead() bool {
	return atomic.LoadInt32(&sio.released) != 0
}

// Write stores the whole cell image: the cell header composed from
// len(payload), then the payload itself. A cell is written exactly
// once; publishing happens at completion, which leaves the slot
// Readable with one read lock kept for the owner.
func (sio *IoState) Write(payload []byte) error {
	if sio.mode != ioWriting {
		return moerr.NewInvalidState("write on a reading io state")
	}
	if sio.wrote {
		return moerr.NewInvalidState("cell %d written twice", sio.FileNo)
	}
	if sio.inFlight {
		return moerr.NewInvalidState("cell %d io already in flight", sio.FileNo)
	}
	if CellHeaderSize+int64(len(payload)) > sio.sd.maxObjSize {
		return moerr.NewEntryTooLarge(int64(len(payload)), sio.sd.maxObjSize-CellHeaderSize)
	}

	buf := make([]byte, CellHeaderSize+int64(len(payload)))
	CellHeader{PayloadSize: uint64(len(payload))}.encode(buf)
	copy(buf[CellHeaderSize:], payload)

	if sio.DiskOffset+int64(len(buf)) > sio.sd.DiskOffsetLimit() {
		panic(moerr.NewInternalError("cell %d write beyond the db end", sio.FileNo))
	}

	sio.wrote = true
	sio.inFlight = true
	err := sio.sd.io.Write(sio.sd.file, sio.DiskOffset, buf, sio.writeCompleted)
	if err != nil {
		sio.inFlight = false
		sio.abortWriting()
		return err
	}
	return nil
}

// writeCompleted runs on the swap dir loop.
func (sio *IoState) writeCompleted(n int, err error) {
	sio.inFlight = false
	if err == nil {
		sio.offset += int64(n)
	}
	if sio.DiskOffset+sio.offset > sio.sd.DiskOffsetLimit() {
		panic(moerr.NewInternalError("cell %d overran the db end", sio.FileNo))
	}

	if err == nil {
		// the cell is fully on disk: publish, keeping the read
		// lock for the owner
		sio.sd.dir.CloseForWriting(sio.FileNo, true)
		sio.sd.policy.Add(sio.FileNo, sio.e.Lastref)
	} else {
		logutil.Errorf("rock write of cell %d failed: %v", sio.FileNo, err)
		sio.abortWriting()
	}
	sio.finishedWriting(err)
}

func (sio *IoState) abortWriting() {
	sio.sd.policy.Remove(sio.FileNo)
	sio.sd.dir.AbortWriting(sio.FileNo)
}

func (sio *IoState) finishedWriting(err error) {
	if sio.finished {
		return
	}
	sio.finished = true
	done := sio.done
	sio.done = nil
	if done != nil && !sio.dead() {
		done(err)
	}
}

// Read fetches length bytes at the cell-relative offset; offset 0 is
// the cell header. The callback fires exactly once per submission.
func (sio *IoState) Read(offset, length int64, cb diskio.ReadCallback) error {
	if sio.mode != ioReading {
		return moerr.NewInvalidState("read on a writing io state")
	}
	if sio.inFlight {
		return moerr.NewInvalidState("cell %d io already in flight", sio.FileNo)
	}
	if offset < 0 || length < 0 || offset+length > sio.sd.maxObjSize {
		return moerr.NewInvalidInput("cell read [%d, %d) out of bounds", offset, offset+length)
	}
	if sio.DiskOffset+offset+length > sio.sd.DiskOffsetLimit() {
		panic(moerr.NewInternalError("cell %d read beyond the db end", sio.FileNo))
	}

	sio.inFlight = true
	sio.readCB = cb
	return sio.sd.io.Read(sio.sd.file, sio.DiskOffset+offset, int(length), sio.readCompleted)
}

// readCompleted runs on the swap dir loop.
func (sio *IoState) readCompleted(buf []byte, n int, err error) {
	sio.inFlight = false
	if err == nil {
		sio.offset += int64(n)
	}
	if sio.DiskOffset+sio.offset > sio.sd.DiskOffsetLimit() {
		panic(moerr.NewInternalError("cell %d overran the db end", sio.FileNo))
	}

	cb := sio.readCB
	sio.readCB = nil
	if cb != nil && !sio.dead() {
		cb(buf, n, err)
	}
}

// Close finishes this use of the cell. A reading state gives back its
// shared lock; a writing state that never submitted its write aborts
// the fill, while one whose write was submitted leaves the slot to the
// write completion. The finish callback fires at most once.
func (sio *IoState) Close(err error) {
	switch sio.mode {
	case ioReading:
		if sio.finished {
			return
		}
		sio.finished = true
		sio.sd.dir.CloseForReading(sio.FileNo)
		if sio.done != nil && !sio.dead() {
			sio.done(err)
		}
		sio.done = nil
	case ioWriting:
		if sio.wrote {
			return // completion settles the slot
		}
		sio.abortWriting()
		sio.finishedWriting(err)
	}
}
