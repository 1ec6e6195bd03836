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

// Package dirmap is the shared key→fileno directory of a rock swap
// dir: a fixed array of slots in a named shared memory segment, one
// slot per on-disk cell, coordinated purely through per-slot atomics.
package dirmap

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/logutil"
	"github.com/openrock/rockstore/pkg/shm"
)

// AbsoluteEntryLimit is the maximum EntryLimit any map may be created
// with; filenos must stay well inside int32.
const AbsoluteEntryLimit = 1 << 25

const (
	headerSize = int(unsafe.Sizeof(sharedHeader{}))
	slotSize   = int(unsafe.Sizeof(Slot{}))
)

func init() {
	// the segment ABI: 64-bit fields must stay naturally aligned
	if slotSize%8 != 0 || headerSize%8 != 0 {
		panic("rock dirmap: misaligned shared layout")
	}
}

// sharedHeader precedes the slot array inside the segment. limit is
// immutable after creation; count tracks non-Empty slots.
type sharedHeader struct {
	limit uint32
	count uint32
}

// DirMap is one process's view of the shared directory.
type DirMap struct {
	path  string
	seg   *shm.Segment
	hdr   *sharedHeader
	slots []Slot
}

// SharedSize returns the segment size for a given entry limit.
func SharedSize(limit int) int {
	return headerSize + limit*slotSize
}

// Create builds a new shared directory for the cache_dir at path. Only
// the coordinator process calls this, before any worker attaches.
func Create(path string, limit int) (*DirMap, error) {
	if limit <= 0 || limit > AbsoluteEntryLimit {
		return nil, moerr.NewInvalidInput("entry limit %d out of range", limit)
	}
	seg, err := shm.Create(shm.NameForPath(path), SharedSize(limit))
	if err != nil {
		return nil, err
	}
	hdr := (*sharedHeader)(unsafe.Pointer(&seg.Data[0]))
	atomic.StoreUint32(&hdr.limit, uint32(limit))
	logutil.Infof("created rock dir map %s with %d slots", path, limit)
	return view(path, seg), nil
}

// Open attaches to the directory previously created for path.
func Open(path string) (*DirMap, error) {
	seg, err := shm.Attach(shm.NameForPath(path))
	if err != nil {
		return nil, err
	}
	m := view(path, seg)
	if got := SharedSize(m.EntryLimit()); got != seg.Size() {
		seg.Close()
		return nil, moerr.NewShmAttach(shm.NameForPath(path),
			moerr.NewInvalidState("segment size %d does not fit limit %d", seg.Size(), m.EntryLimit()))
	}
	return m, nil
}

func view(path string, seg *shm.Segment) *DirMap {
	hdr := (*sharedHeader)(unsafe.Pointer(&seg.Data[0]))
	limit := atomic.LoadUint32(&hdr.limit)
	var slots []Slot
	if limit > 0 {
		slots = unsafe.Slice((*Slot)(unsafe.Pointer(&seg.Data[headerSize])), limit)
	}
	return &DirMap{path: path, seg: seg, hdr: hdr, slots: slots}
}

// Close detaches this process from the segment.
func (m *DirMap) Close() error {
	return m.seg.Close()
}

// Unlink removes the segment name; the coordinator calls this on
// teardown.
func (m *DirMap) Unlink() error {
	return m.seg.Unlink()
}

func (m *DirMap) EntryLimit() int {
	return int(atomic.LoadUint32(&m.hdr.limit))
}

func (m *DirMap) EntryCount() int {
	return int(atomic.LoadUint32(&m.hdr.count))
}

// Full reports that no Empty slot is left.
func (m *DirMap) Full() bool {
	return m.EntryCount() >= m.EntryLimit()
}

// Valid reports whether n is a usable slot coordinate.
func (m *DirMap) Valid(n int32) bool {
	return n >= 0 && int(n) < m.EntryLimit()
}

func (m *DirMap) slotIdx(key Key) int32 {
	return int32(binary.LittleEndian.Uint32(key[0:4]) % uint32(m.EntryLimit()))
}

// OpenForWriting finds a slot for the key and locks it exclusively in
// Writeable state. Probing is linear with step 1 from the hashed slot,
// bounded by one full pass; a directory with no claimable slot yields
// ErrMapFull. An existing Readable entry with the same key is claimed
// for overwrite and keeps its fileno.
func (m *DirMap) OpenForWriting(key Key) (int32, *Slot, error) {
	limit := m.EntryLimit()
	start := m.slotIdx(key)
	for i := 0; i < limit; i++ {
		fileno := (start + int32(i)) % int32(limit)
		s := &m.slots[fileno]
		if !s.ExclusiveLock() {
			continue
		}
		m.freeLocked(fileno, s)
		switch {
		case s.State() == StateEmpty:
			s.SetKey(key)
			s.setState(StateWriteable)
			m.incCount()
			return fileno, s, nil
		case s.State() == StateReadable && s.CheckKey(key):
			// same key: overwrite in place
			s.setState(StateWriteable)
			return fileno, s, nil
		}
		s.ReleaseExclusiveLock()
	}
	return -1, nil, moerr.NewMapFull()
}

// CloseForWriting publishes the filled slot: Writeable becomes
// Readable and the exclusive lock is released, or downgraded to a
// single shared lock when keepReadLock is set.
func (m *DirMap) CloseForWriting(fileno int32, keepReadLock bool) {
	s := &m.slots[fileno]
	if s.State() != StateWriteable {
		panic(moerr.NewInvalidState("closing slot %d in state %d", fileno, s.State()))
	}
	s.setState(StateReadable)
	if keepReadLock {
		s.DowngradeLock()
		return
	}
	m.freeLocked(fileno, s)
	s.ReleaseExclusiveLock()
}

// AbortWriting gives up on a slot claimed by OpenForWriting without
// publishing it. The slot reverts to Empty and its key is cleared,
// for a fresh fill and an overwrite alike: the previous image of an
// overwritten key is no longer reachable.
func (m *DirMap) AbortWriting(fileno int32) {
	s := &m.slots[fileno]
	if s.State() != StateWriteable {
		panic(moerr.NewInvalidState("aborting slot %d in state %d", fileno, s.State()))
	}
	s.markWaitingToBeFreed()
	m.freeLocked(fileno, s)
	s.ReleaseExclusiveLock()
}

// OpenForReading locates a Readable entry with the key and returns it
// holding one shared lock.
func (m *DirMap) OpenForReading(key Key) (int32, *Slot, error) {
	limit := m.EntryLimit()
	start := m.slotIdx(key)
	for i := 0; i < limit; i++ {
		fileno := (start + int32(i)) % int32(limit)
		s := &m.slots[fileno]
		if !s.SharedLock() {
			continue
		}
		if s.State() == StateReadable && !s.WaitingToBeFreed() && s.CheckKey(key) {
			return fileno, s, nil
		}
		m.closeForReadingAt(fileno, s)
	}
	return -1, nil, moerr.NewNotFound()
}

// OpenForReadingAt is OpenForReading addressed by fileno, for callers
// that already hold a handle.
func (m *DirMap) OpenForReadingAt(fileno int32) (*Slot, error) {
	if !m.Valid(fileno) {
		return nil, moerr.NewInvalidInput("fileno %d out of range", fileno)
	}
	s := &m.slots[fileno]
	if !s.SharedLock() {
		return nil, moerr.NewSlotBusy(fileno)
	}
	if s.State() != StateReadable || s.WaitingToBeFreed() {
		m.closeForReadingAt(fileno, s)
		return nil, moerr.NewNotFound()
	}
	return s, nil
}

// CloseForReading releases one shared lock and finalizes a pending
// free if this was the last holder.
func (m *DirMap) CloseForReading(fileno int32) {
	m.closeForReadingAt(fileno, &m.slots[fileno])
}

func (m *DirMap) closeForReadingAt(fileno int32, s *Slot) {
	s.ReleaseSharedLock()
	if !s.WaitingToBeFreed() {
		return
	}
	if !s.ExclusiveLock() {
		return // another holder finalizes
	}
	m.freeLocked(fileno, s)
	s.ReleaseExclusiveLock()
}

// Free marks the slot as waiting to be freed and, when no holder is
// left, finalizes the reclaim right away. Otherwise the last holder
// (or the next would-be writer) finalizes.
func (m *DirMap) Free(fileno int32) {
	if !m.Valid(fileno) {
		return
	}
	s := &m.slots[fileno]
	s.markWaitingToBeFreed()
	if !s.ExclusiveLock() {
		return
	}
	m.freeLocked(fileno, s)
	s.ReleaseExclusiveLock()
}

// freeLocked finalizes a pending free. Caller holds the exclusive
// lock; a slot not marked waiting is left untouched.
func (m *DirMap) freeLocked(fileno int32, s *Slot) {
	if !s.WaitingToBeFreed() {
		return
	}
	if s.State() != StateEmpty {
		m.decCount()
	}
	s.clearKey()
	s.SetBasics(EntryBasics{})
	s.setState(StateEmpty)
	s.clearWaitingToBeFreed()
	logutil.Debugf("rock dir map %s freed slot %d", m.path, fileno)
}

// PutAt stores key and basics at the requested slot in Readable state,
// or returns false when the slot is locked. Used by the rebuilder,
// which knows the cell image behind fileno is already valid.
func (m *DirMap) PutAt(key Key, basics EntryBasics, fileno int32) bool {
	if !m.Valid(fileno) {
		return false
	}
	s := &m.slots[fileno]
	if !s.ExclusiveLock() {
		return false
	}
	m.freeLocked(fileno, s)
	if s.State() == StateEmpty {
		m.incCount()
	}
	s.SetKey(key)
	s.SetBasics(basics)
	s.setState(StateReadable)
	s.ReleaseExclusiveLock()
	return true
}

// SlotAt exposes a slot for diagnostics; callers must follow the lock
// protocol before trusting anything inside.
func (m *DirMap) SlotAt(fileno int32) *Slot {
	return &m.slots[fileno]
}

func (m *DirMap) incCount() {
	atomic.AddUint32(&m.hdr.count, 1)
}

func (m *DirMap) decCount() {
	atomic.AddUint32(&m.hdr.count, ^uint32(0))
}
