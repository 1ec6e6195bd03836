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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCodec(t *testing.T) {
	req := &ipcRequest{
		ID:      77,
		Op:      OpWrite,
		Offset:  16384 + 4096*3,
		Length:  5,
		Payload: []byte("hello"),
	}
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, req.encode()))

	body, err := readFrame(&wire)
	require.NoError(t, err)
	got, err := decodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Op, got.Op)
	assert.Equal(t, req.Offset, got.Offset)
	assert.Equal(t, req.Length, got.Length)
	assert.Equal(t, req.Payload, got.Payload)
}

func TestResponseCodec(t *testing.T) {
	resp := &ipcResponse{
		ID:      78,
		Op:      OpRead,
		Errno:   IpcOK,
		Count:   3,
		Payload: []byte{1, 2, 3},
	}
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, resp.encode()))

	body, err := readFrame(&wire)
	require.NoError(t, err)
	got, err := decodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, got.ID)
	assert.Equal(t, resp.Errno, got.Errno)
	assert.Equal(t, resp.Count, got.Count)
	assert.Equal(t, resp.Payload, got.Payload)
}

func TestEmptyPayloads(t *testing.T) {
	req := &ipcRequest{ID: 1, Op: OpRead, Offset: 0, Length: 64}
	got, err := decodeRequest(req.encode())
	require.NoError(t, err)
	assert.Nil(t, got.Payload)

	resp := &ipcResponse{ID: 1, Op: OpWrite, Errno: IpcErrDiskFull}
	gotr, err := decodeResponse(resp.encode())
	require.NoError(t, err)
	assert.Nil(t, gotr.Payload)
	assert.Equal(t, IpcErrDiskFull, gotr.Errno)
}

func TestShortFrames(t *testing.T) {
	_, err := decodeRequest(make([]byte, requestHeaderSize-1))
	assert.Error(t, err)
	_, err = decodeResponse(make([]byte, responseHeaderSize-1))
	assert.Error(t, err)
}
