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

package moerr

import (
	"errors"
	"fmt"
)

const (
	// 0 - 99 is OK. They do not carry info.
	Ok uint16 = 0

	OkMax uint16 = 99

	// Group 1: internal errors
	ErrStart        uint16 = 20100
	ErrInternal     uint16 = 20101
	ErrNYI          uint16 = 20102
	ErrInvalidState uint16 = 20103

	// Group 2: invalid input
	ErrBadConfig     uint16 = 20200
	ErrInvalidInput  uint16 = 20201
	ErrEntryTooLarge uint16 = 20202

	// Group 3: shared memory
	ErrShmCreate uint16 = 20300
	ErrShmAttach uint16 = 20301

	// Group 4: backing file
	ErrFileCreate   uint16 = 20400
	ErrFileOpen     uint16 = 20401
	ErrFileTruncate uint16 = 20402
	ErrDiskFull     uint16 = 20403

	// Group 5: directory and I/O
	ErrSlotBusy    uint16 = 20500
	ErrMapFull     uint16 = 20501
	ErrNotFound    uint16 = 20502
	ErrIO          uint16 = 20503
	ErrCorruptCell uint16 = 20504
	ErrIpcClosed   uint16 = 20505

	// Group End: max value of the error code space
	ErrEnd uint16 = 65535
)

type moErrorMsgItem struct {
	errorMsgOrFormat string
}

var errorMsgRefer = map[uint16]moErrorMsgItem{
	Ok: {"ok"},

	ErrInternal:     {"internal error: %s"},
	ErrNYI:          {"%s is not yet implemented"},
	ErrInvalidState: {"invalid state %s"},

	ErrBadConfig:     {"invalid configuration: %s"},
	ErrInvalidInput:  {"invalid input: %s"},
	ErrEntryTooLarge: {"entry size %d exceeds the %d-byte cell payload limit"},

	ErrShmCreate: {"cannot create shared segment %s: %s"},
	ErrShmAttach: {"cannot attach shared segment %s: %s"},

	ErrFileCreate:   {"cannot create db file %s: %s"},
	ErrFileOpen:     {"cannot open db file %s: %s"},
	ErrFileTruncate: {"cannot size db file %s: %s"},
	ErrDiskFull:     {"no space left on db file %s"},

	ErrSlotBusy:    {"slot %d is busy"},
	ErrMapFull:     {"no writeable slot for the entry"},
	ErrNotFound:    {"entry not found"},
	ErrIO:          {"disk I/O error: %s"},
	ErrCorruptCell: {"corrupt cell %d: payload size %d exceeds %d"},
	ErrIpcClosed:   {"disker connection is closed"},

	ErrEnd: {"internal error: end of error code space"},
}

type Error struct {
	code    uint16
	message string
}

func newError(code uint16, args ...any) *Error {
	item, has := errorMsgRefer[code]
	if !has {
		panic(NewInternalError("unknown error code: %d", code))
	}
	if len(args) == 0 {
		return &Error{code: code, message: item.errorMsgOrFormat}
	}
	return &Error{
		code:    code,
		message: fmt.Sprintf(item.errorMsgOrFormat, args...),
	}
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) Is(err error) bool {
	me, ok := err.(*Error)
	if !ok {
		return false
	}
	return me.code == e.code
}

// IsMoErrCode returns true if err is a moerr with the given code.
func IsMoErrCode(e error, rc uint16) bool {
	if e == nil {
		return rc == Ok
	}
	var me *Error
	if !errors.As(e, &me) {
		return false
	}
	return me.code == rc
}

// ConvertGoError converts a go error into a moerr. An error that is
// already a moerr is returned as is.
func ConvertGoError(err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return NewInternalError("convert go error to mo error %v", err)
}

func NewInternalError(msg string, args ...any) *Error {
	return newError(ErrInternal, fmt.Sprintf(msg, args...))
}

func NewNYI(msg string, args ...any) *Error {
	return newError(ErrNYI, fmt.Sprintf(msg, args...))
}

func NewInvalidState(msg string, args ...any) *Error {
	return newError(ErrInvalidState, fmt.Sprintf(msg, args...))
}

func NewBadConfig(msg string, args ...any) *Error {
	return newError(ErrBadConfig, fmt.Sprintf(msg, args...))
}

func NewInvalidInput(msg string, args ...any) *Error {
	return newError(ErrInvalidInput, fmt.Sprintf(msg, args...))
}

func NewEntryTooLarge(size, limit int64) *Error {
	return newError(ErrEntryTooLarge, size, limit)
}

func NewShmCreate(name string, cause error) *Error {
	return newError(ErrShmCreate, name, cause)
}

func NewShmAttach(name string, cause error) *Error {
	return newError(ErrShmAttach, name, cause)
}

func NewFileCreate(path string, cause error) *Error {
	return newError(ErrFileCreate, path, cause)
}

func NewFileOpen(path string, cause error) *Error {
	return newError(ErrFileOpen, path, cause)
}

func NewFileTruncate(path string, cause error) *Error {
	return newError(ErrFileTruncate, path, cause)
}

func NewDiskFull(path string) *Error {
	return newError(ErrDiskFull, path)
}

func NewSlotBusy(fileno int32) *Error {
	return newError(ErrSlotBusy, fileno)
}

func NewMapFull() *Error {
	return newError(ErrMapFull)
}

func NewNotFound() *Error {
	return newError(ErrNotFound)
}

func NewIO(cause error) *Error {
	return newError(ErrIO, cause)
}

func NewCorruptCell(fileno int32, payloadSize, limit uint64) *Error {
	return newError(ErrCorruptCell, fileno, payloadSize, limit)
}

func NewIpcClosed() *Error {
	return newError(ErrIpcClosed)
}
