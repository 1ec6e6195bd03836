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

package diskio

import (
	"encoding/binary"
	"io"

	"github.com/openrock/rockstore/pkg/common/moerr"
)

// Worker↔disker wire format. Every frame is a u32 little-endian body
// length followed by the body:
//
//	request:  u64 id | u8 op | i64 offset | u32 length | payload
//	response: u64 id | u8 op | u8 errno   | u32 count  | payload
//
// Requests carry payload only for OpWrite (the bytes to store) and
// OpOpen (the file path); responses only for OpRead (the bytes read).

const (
	OpOpen uint8 = iota + 1
	OpRead
	OpWrite
)

// errno values carried in responses.
const (
	IpcOK uint8 = iota
	IpcErrIO
	IpcErrDiskFull
	IpcErrOpen
)

// maxFrameSize guards decoders against corrupt lengths. Cells are
// bounded by max_objsize, which is far below this.
const maxFrameSize = 64 << 20

const (
	requestHeaderSize  = 8 + 1 + 8 + 4
	responseHeaderSize = 8 + 1 + 1 + 4
)

type ipcRequest struct {
	ID      uint64
	Op      uint8
	Offset  int64
	Length  uint32
	Payload []byte
}

type ipcResponse struct {
	ID      uint64
	Op      uint8
	Errno   uint8
	Count   uint32
	Payload []byte
}

func writeFrame(w io.Writer, body []byte) error {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(body)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return moerr.NewIO(err)
	}
	if _, err := w.Write(body); err != nil {
		return moerr.NewIO(err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenbuf[:])
	if size > maxFrameSize {
		return nil, moerr.NewInvalidInput("ipc frame of %d bytes", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (req *ipcRequest) encode() []byte {
	body := make([]byte, requestHeaderSize+len(req.Payload))
	binary.LittleEndian.PutUint64(body[0:], req.ID)
	body[8] = req.Op
	binary.LittleEndian.PutUint64(body[9:], uint64(req.Offset))
	binary.LittleEndian.PutUint32(body[17:], req.Length)
	copy(body[requestHeaderSize:], req.Payload)
	return body
}

func decodeRequest(body []byte) (*ipcRequest, error) {
	if len(body) < requestHeaderSize {
		return nil, moerr.NewInvalidInput("short ipc request of %d bytes", len(body))
	}
	req := &ipcRequest{
		ID:     binary.LittleEndian.Uint64(body[0:]),
		Op:     body[8],
		Offset: int64(binary.LittleEndian.Uint64(body[9:])),
		Length: binary.LittleEndian.Uint32(body[17:]),
	}
	if len(body) > requestHeaderSize {
		req.Payload = body[requestHeaderSize:]
	}
	return req, nil
}

func (resp *ipcResponse) encode() []byte {
	body := make([]byte, responseHeaderSize+len(resp.Payload))
	binary.LittleEndian.PutUint64(body[0:], resp.ID)
	body[8] = resp.Op
	body[9] = resp.Errno
	binary.LittleEndian.PutUint32(body[10:], resp.Count)
	copy(body[responseHeaderSize:], resp.Payload)
	return body
}

func decodeResponse(body []byte) (*ipcResponse, error) {
	if len(body) < responseHeaderSize {
		return nil, moerr.NewInvalidInput("short ipc response of %d bytes", len(body))
	}
	resp := &ipcResponse{
		ID:    binary.LittleEndian.Uint64(body[0:]),
		Op:    body[8],
		Errno: body[9],
		Count: binary.LittleEndian.Uint32(body[10:]),
	}
	if len(body) > responseHeaderSize {
		resp.Payload = body[responseHeaderSize:]
	}
	return resp, nil
}
