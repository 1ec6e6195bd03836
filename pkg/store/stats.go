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
	"github.com/openrock/rockstore/pkg/dirmap"
)

// Stats is a point-in-time snapshot of one swap dir.
type Stats struct {
	MaximumSize int64
	CurrentSize int64
	EntryLimit  int
	EntryCount  int

	// slot tallies; scanning is linear in EntryLimit
	Empty     int
	Writeable int
	Readable  int
	Readers   int64
	Writers   int64

	Load       uint8
	Rebuilding bool
}

// Stats walks the whole slot array; it is meant for cachemgr-style
// reporting, not hot paths.
func (sd *SwapDir) Stats() Stats {
	st := Stats{
		MaximumSize: sd.MaximumSize(),
		CurrentSize: sd.CurrentSize(),
		EntryLimit:  sd.entryLimit,
		EntryCount:  sd.EntryCount(),
		Rebuilding:  sd.ctx.Rebuilding(),
	}
	if sd.io != nil {
		st.Load = sd.io.Load()
	}
	if sd.dir == nil {
		return st
	}
	for n := int32(0); int(n) < sd.entryLimit; n++ {
		s := sd.dir.SlotAt(n)
		switch s.State() {
		case dirmap.StateEmpty:
			st.Empty++
		case dirmap.StateWriteable:
			st.Writeable++
		case dirmap.StateReadable:
			st.Readable++
		}
		st.Readers += int64(s.Readers())
		st.Writers += int64(s.Writers())
	}
	return st
}
