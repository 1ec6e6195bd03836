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
	"time"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/dirmap"
)

// The operations in this file are the synchronous convenience surface
// the outer cache layer drives around CreateIO/OpenIO. Put prefixes
// the payload with the swap meta block so the rebuilder can recover
// the entry after a restart; Get strips it again.

// Put stores data under key, overwriting any previous image of the
// same key in place.
func (sd *SwapDir) Put(key dirmap.Key, data []byte) error {
	now := time.Now().Unix()
	e := &Entry{
		Key:               key,
		Timestamp:         now,
		Lastref:           now,
		SwapHdrSz:         SwapMetaSize,
		ExpectedReplySize: int64(len(data)),
	}

	done := make(chan error, 1)
	sio, err := sd.CreateIO(e, func(err error) { done <- err })
	if err != nil {
		return err
	}

	payload := make([]byte, 0, SwapMetaSize+int64(len(data)))
	payload = append(payload, encodeSwapMeta(e.Key, e.basics())...)
	payload = append(payload, data...)
	if err := sio.Write(payload); err != nil {
		return err
	}
	if err := <-done; err != nil {
		return err
	}
	// the publish left one read lock for us
	sd.Disconnect(e)
	return nil
}

// GetData fetches the payload stored under key. Cells written by Put
// come back without their swap meta block; cells filled through the
// raw CreateIO path are returned whole.
func (sd *SwapDir) GetData(key dirmap.Key) ([]byte, error) {
	e, err := sd.Get(key)
	if err != nil {
		return nil, err
	}
	defer sd.Disconnect(e)

	sio, err := sd.OpenIO(e, nil)
	if err != nil {
		return nil, err
	}
	defer sio.Close(nil)

	type result struct {
		buf []byte
		n   int
		err error
	}
	doneC := make(chan result, 1)
	err = sio.Read(0, sio.PayloadEnd, func(buf []byte, n int, err error) {
		doneC <- result{buf: buf, n: n, err: err}
	})
	if err != nil {
		return nil, err
	}
	res := <-doneC
	if res.err != nil {
		return nil, res.err
	}
	if int64(res.n) < sio.PayloadEnd {
		return nil, moerr.NewIO(moerr.NewInternalError("short cell read: %d of %d", res.n, sio.PayloadEnd))
	}

	header := decodeCellHeader(res.buf)
	if header.PayloadSize != e.SwapFileSz {
		return nil, moerr.NewCorruptCell(e.FileNo, header.PayloadSize, e.SwapFileSz)
	}
	payload := res.buf[CellHeaderSize:sio.PayloadEnd]
	if metaKey, _, err := parseSwapMeta(payload); err == nil && metaKey == key {
		return payload[SwapMetaSize:], nil
	}
	return payload, nil
}

// Delete unlinks the entry stored under key. Reclaim may be delayed
// by concurrent readers but the entry is immediately unreachable.
func (sd *SwapDir) Delete(key dirmap.Key) error {
	e, err := sd.Get(key)
	if err != nil {
		return err
	}
	sd.Unlink(e)
	sd.Disconnect(e)
	return nil
}
