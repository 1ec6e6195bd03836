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
	"sync"

	"github.com/google/btree"
)

// PurgeVictim is one removal candidate produced by a walker.
type PurgeVictim struct {
	FileNo  int32
	Lastref int64
}

// PurgeWalker yields victims in eviction order until exhausted or
// Done.
type PurgeWalker interface {
	Next() (PurgeVictim, bool)
	Scanned() int
	Done()
}

// RemovalPolicy ranks entries for eviction. The swap dir feeds it on
// publish, reference and unlink; Maintain consumes walkers from it.
type RemovalPolicy interface {
	Add(fileno int32, lastref int64)
	Referenced(fileno int32, lastref int64)
	Remove(fileno int32)
	PurgeInit(maxScan int) PurgeWalker
}

// lruItem orders the btree by last reference time, fileno breaking
// ties.
type lruItem struct {
	lastref int64
	fileno  int32
}

func (a lruItem) Less(than btree.Item) bool {
	b := than.(lruItem)
	if a.lastref != b.lastref {
		return a.lastref < b.lastref
	}
	return a.fileno < b.fileno
}

// lruPolicy is the default policy: evict the least recently referenced
// entry first.
type lruPolicy struct {
	mu      sync.Mutex
	tree    *btree.BTree
	entries map[int32]int64 // fileno → lastref currently indexed
}

func NewLRUPolicy() RemovalPolicy {
	return &lruPolicy{
		tree:    btree.New(8),
		entries: make(map[int32]int64),
	}
}

func (p *lruPolicy) Add(fileno int32, lastref int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.entries[fileno]; ok {
		p.tree.Delete(lruItem{lastref: old, fileno: fileno})
	}
	p.entries[fileno] = lastref
	p.tree.ReplaceOrInsert(lruItem{lastref: lastref, fileno: fileno})
}

func (p *lruPolicy) Referenced(fileno int32, lastref int64) {
	p.Add(fileno, lastref)
}

func (p *lruPolicy) Remove(fileno int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, ok := p.entries[fileno]
	if !ok {
		return
	}
	delete(p.entries, fileno)
	p.tree.Delete(lruItem{lastref: old, fileno: fileno})
}

func (p *lruPolicy) PurgeInit(maxScan int) PurgeWalker {
	p.mu.Lock()
	defer p.mu.Unlock()
	victims := make([]PurgeVictim, 0, maxScan)
	p.tree.Ascend(func(i btree.Item) bool {
		item := i.(lruItem)
		victims = append(victims, PurgeVictim{FileNo: item.fileno, Lastref: item.lastref})
		return len(victims) < maxScan
	})
	return &lruWalker{victims: victims}
}

type lruWalker struct {
	victims []PurgeVictim
	next    int
}

func (w *lruWalker) Next() (PurgeVictim, bool) {
	if w.next >= len(w.victims) {
		return PurgeVictim{}, false
	}
	v := w.victims[w.next]
	w.next++
	return v, true
}

func (w *lruWalker) Scanned() int {
	return w.next
}

func (w *lruWalker) Done() {
	w.victims = nil
}
