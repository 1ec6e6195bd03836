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
	"encoding/binary"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/dirmap"
)

// On-disk geometry. The db file starts with a reserved zeroed header;
// cell n occupies [HeaderSize + n*max_objsize, HeaderSize +
// (n+1)*max_objsize). Each cell begins with a little-endian
// CellHeader.
const (
	HeaderSize     int64 = 16 * 1024
	CellHeaderSize int64 = 8
)

// CellHeader prefixes every cell on disk.
type CellHeader struct {
	PayloadSize uint64
}

func (h CellHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf, h.PayloadSize)
}

func decodeCellHeader(buf []byte) CellHeader {
	return CellHeader{PayloadSize: binary.LittleEndian.Uint64(buf)}
}

// Swap meta is the store's own swap header: a fixed block at the front
// of the cell payload carrying the digest and the entry basics, so the
// rebuilder can repopulate the directory from the file image alone.
//
//	offset  0: u32 magic "Rock"
//	offset  4: u32 version
//	offset  8: key, 16 bytes
//	offset 24: i64 timestamp, lastref, expires, lastmod
//	offset 56: u64 swap_file_sz
//	offset 64: u16 refcount, u16 flags
//	offset 68: reserved, zero
const (
	SwapMetaMagic         = 0x6b636f52 // "Rock", little endian
	SwapMetaVersion       = 1
	SwapMetaSize    int64 = 80
)

func encodeSwapMeta(key dirmap.Key, b dirmap.EntryBasics) []byte {
	buf := make([]byte, SwapMetaSize)
	binary.LittleEndian.PutUint32(buf[0:], SwapMetaMagic)
	binary.LittleEndian.PutUint32(buf[4:], SwapMetaVersion)
	copy(buf[8:24], key[:])
	binary.LittleEndian.PutUint64(buf[24:], uint64(b.Timestamp))
	binary.LittleEndian.PutUint64(buf[32:], uint64(b.Lastref))
	binary.LittleEndian.PutUint64(buf[40:], uint64(b.Expires))
	binary.LittleEndian.PutUint64(buf[48:], uint64(b.Lastmod))
	binary.LittleEndian.PutUint64(buf[56:], b.SwapFileSz)
	binary.LittleEndian.PutUint16(buf[64:], b.Refcount)
	binary.LittleEndian.PutUint16(buf[66:], b.Flags)
	return buf
}

func parseSwapMeta(buf []byte) (dirmap.Key, dirmap.EntryBasics, error) {
	var key dirmap.Key
	var b dirmap.EntryBasics
	if int64(len(buf)) < SwapMetaSize {
		return key, b, moerr.NewInvalidInput("swap meta of %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:]) != SwapMetaMagic {
		return key, b, moerr.NewInvalidInput("swap meta magic mismatch")
	}
	if v := binary.LittleEndian.Uint32(buf[4:]); v != SwapMetaVersion {
		return key, b, moerr.NewInvalidInput("swap meta version %d", v)
	}
	copy(key[:], buf[8:24])
	b.Timestamp = int64(binary.LittleEndian.Uint64(buf[24:]))
	b.Lastref = int64(binary.LittleEndian.Uint64(buf[32:]))
	b.Expires = int64(binary.LittleEndian.Uint64(buf[40:]))
	b.Lastmod = int64(binary.LittleEndian.Uint64(buf[48:]))
	b.SwapFileSz = binary.LittleEndian.Uint64(buf[56:])
	b.Refcount = binary.LittleEndian.Uint16(buf[64:])
	b.Flags = binary.LittleEndian.Uint16(buf[66:])
	return key, b, nil
}
