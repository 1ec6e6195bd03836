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

// Package store binds the shared directory and the async I/O
// strategies into the rock swap directory: a fixed-cell object store
// addressed by content digests.
package store

import (
	"github.com/openrock/rockstore/pkg/dirmap"
)

// Entry is the store-level view of one cached object. It mirrors what
// the outer cache layer hands in plus the coordinates the swap dir
// assigns.
type Entry struct {
	Key    dirmap.Key
	FileNo int32

	Timestamp  int64
	Lastref    int64
	Expires    int64
	Lastmod    int64
	SwapFileSz uint64
	Refcount   uint16
	Flags      uint16

	// SwapHdrSz is the size of the caller's swap header at the front
	// of the cell payload; zero when the caller stores raw bytes.
	SwapHdrSz int64

	// ExpectedReplySize is the object size following the swap header.
	// It must be known up front to prevent cell overflows.
	ExpectedReplySize int64
}

func (e *Entry) basics() dirmap.EntryBasics {
	return dirmap.EntryBasics{
		Timestamp:  e.Timestamp,
		Lastref:    e.Lastref,
		Expires:    e.Expires,
		Lastmod:    e.Lastmod,
		SwapFileSz: e.SwapFileSz,
		Refcount:   e.Refcount,
		Flags:      e.Flags,
	}
}

func entryFromBasics(key dirmap.Key, fileno int32, b dirmap.EntryBasics) *Entry {
	return &Entry{
		Key:        key,
		FileNo:     fileno,
		Timestamp:  b.Timestamp,
		Lastref:    b.Lastref,
		Expires:    b.Expires,
		Lastmod:    b.Lastmod,
		SwapFileSz: b.SwapFileSz,
		Refcount:   b.Refcount,
		Flags:      b.Flags,
	}
}
