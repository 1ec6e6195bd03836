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
	"github.com/openrock/rockstore/pkg/logutil"
)

// rebuilder repopulates the shared directory from the db file image at
// startup. It walks the cells one chained async read at a time, so the
// scan shares the loop with regular traffic instead of monopolizing
// it; a bad cell is skipped, never fatal.
type rebuilder struct {
	sd     *SwapDir
	fileno int32

	scanned  int
	restored int
	empty    int
	corrupt  int
	opaque   int // valid image but no swap meta to recover a key from
}

func newRebuilder(sd *SwapDir) *rebuilder {
	return &rebuilder{sd: sd}
}

func (r *rebuilder) start() {
	logutil.Infof("rebuilding rock dir %s: %d cells", r.sd.path, r.sd.entryLimit)
	r.step()
}

// step scans one cell; its completion schedules the next.
func (r *rebuilder) step() {
	if r.sd.closed || int(r.fileno) >= r.sd.entryLimit {
		r.finish()
		return
	}
	length := CellHeaderSize + SwapMetaSize
	if length > r.sd.maxObjSize {
		length = r.sd.maxObjSize
	}
	err := r.sd.io.Read(r.sd.file, r.sd.DiskOffset(r.fileno), int(length), r.cellRead)
	if err != nil {
		logutil.Errorf("rebuild of rock dir %s stopped at cell %d: %v",
			r.sd.path, r.fileno, err)
		r.finish()
	}
}

// cellRead runs on the swap dir loop.
func (r *rebuilder) cellRead(buf []byte, n int, err error) {
	r.scanned++
	if err != nil || int64(n) < CellHeaderSize {
		logutil.Warnf("rebuild of rock dir %s cannot read cell %d: %v",
			r.sd.path, r.fileno, err)
		r.next()
		return
	}
	r.examine(buf[:n])
	r.next()
}

func (r *rebuilder) next() {
	r.fileno++
	r.step()
}

func (r *rebuilder) examine(buf []byte) {
	header := decodeCellHeader(buf)
	maxPayload := uint64(r.sd.maxObjSize - CellHeaderSize)
	switch {
	case header.PayloadSize == 0:
		r.empty++
		return
	case header.PayloadSize > maxPayload:
		logutil.Warnf("rebuild of rock dir %s skips corrupt cell %d: payload %d exceeds %d",
			r.sd.path, r.fileno, header.PayloadSize, maxPayload)
		r.corrupt++
		return
	case header.PayloadSize < uint64(SwapMetaSize) ||
		int64(len(buf)) < CellHeaderSize+SwapMetaSize:
		// an image without our swap header: occupancy cannot be
		// reconstructed because the key only exists in the payload
		r.opaque++
		return
	}

	key, basics, err := parseSwapMeta(buf[CellHeaderSize:])
	if err != nil {
		r.opaque++
		return
	}
	if basics.SwapFileSz != header.PayloadSize {
		logutil.Warnf("rebuild of rock dir %s skips cell %d: meta size %d, header size %d",
			r.sd.path, r.fileno, basics.SwapFileSz, header.PayloadSize)
		r.corrupt++
		return
	}
	if !r.sd.dir.PutAt(key, basics, r.fileno) {
		logutil.Warnf("rebuild of rock dir %s cannot claim busy cell %d", r.sd.path, r.fileno)
		return
	}
	r.sd.policy.Add(r.fileno, basics.Lastref)
	r.restored++
}

func (r *rebuilder) finish() {
	logutil.Infof("rebuilt rock dir %s: scanned %d, restored %d, empty %d, corrupt %d, opaque %d",
		r.sd.path, r.scanned, r.restored, r.empty, r.corrupt, r.opaque)
	r.sd.ctx.decRebuilding()
	close(r.sd.rebuildDone)
}
