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

package shm

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrock/rockstore/pkg/common/moerr"
)

func testName(t *testing.T) string {
	return fmt.Sprintf("rocktest.%d.%s", os.Getpid(), t.Name())
}

func TestCreateAttach(t *testing.T) {
	name := testName(t)
	seg, err := Create(name, 4096)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, seg.Close())
		assert.NoError(t, seg.Unlink())
	}()

	assert.Equal(t, 4096, seg.Size())
	seg.Data[0] = 0xab
	seg.Data[4095] = 0xcd

	worker, err := Attach(name)
	require.NoError(t, err)
	defer worker.Close()

	assert.Equal(t, 4096, worker.Size())
	assert.Equal(t, byte(0xab), worker.Data[0])
	assert.Equal(t, byte(0xcd), worker.Data[4095])

	// writes travel both ways
	worker.Data[1] = 0x7f
	assert.Equal(t, byte(0x7f), seg.Data[1])
}

func TestCreateSizeMismatch(t *testing.T) {
	name := testName(t)
	seg, err := Create(name, 4096)
	require.NoError(t, err)
	defer func() {
		seg.Close()
		seg.Unlink()
	}()

	_, err = Create(name, 8192)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrShmCreate))
}

func TestCreateDiscardsOldImage(t *testing.T) {
	name := testName(t)
	seg, err := Create(name, 64)
	require.NoError(t, err)
	seg.Data[0] = 0xff
	require.NoError(t, seg.Close())

	again, err := Create(name, 64)
	require.NoError(t, err)
	defer func() {
		again.Close()
		again.Unlink()
	}()
	assert.Equal(t, byte(0), again.Data[0])
}

func TestAttachMissing(t *testing.T) {
	_, err := Attach(testName(t))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrShmAttach))
}

func TestNameForPath(t *testing.T) {
	assert.Equal(t, "rock.var.cache.rock", NameForPath("/var/cache/rock"))
	assert.Equal(t, "rock.var.cache.rock", NameForPath("/var/cache/rock/"))
	assert.Equal(t, "rock.tmp.a.b", NameForPath("/tmp//a/b"))
}
