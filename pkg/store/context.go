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
	"sync/atomic"
)

// Role of this process within one rock deployment.
type Role uint8

const (
	// RoleSingle is the non-SMP mode: one process creates the
	// segment, serves requests and performs its own disk I/O.
	RoleSingle Role = iota

	// RoleCoordinator creates segments and backing files, then
	// supervises; it serves no requests itself.
	RoleCoordinator

	// RoleWorker attaches to existing segments and serves requests.
	RoleWorker

	// RoleDisker owns the backing file descriptor and performs the
	// disk I/O for workers.
	RoleDisker
)

// Context is the explicit process-wide state shared by every swap
// directory: the registry and the rebuild counter. Subsystems receive
// it instead of reaching for globals.
type Context struct {
	role Role

	mu   sync.Mutex
	dirs []*SwapDir

	// dirsRebuilding is incremented at Init and decremented when a
	// dir's rebuild finishes, so maintenance knows to stay away.
	dirsRebuilding int32
}

func NewContext(role Role) *Context {
	return &Context{role: role}
}

func (c *Context) Role() Role {
	return c.role
}

// ownsSegments reports whether this process creates shared segments
// and backing files rather than attaching to existing ones.
func (c *Context) ownsSegments() bool {
	return c.role == RoleSingle || c.role == RoleCoordinator
}

func (c *Context) register(sd *SwapDir) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs = append(c.dirs, sd)
}

// Dirs snapshots the registered swap directories.
func (c *Context) Dirs() []*SwapDir {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*SwapDir, len(c.dirs))
	copy(out, c.dirs)
	return out
}

func (c *Context) incRebuilding() {
	atomic.AddInt32(&c.dirsRebuilding, 1)
}

func (c *Context) decRebuilding() {
	atomic.AddInt32(&c.dirsRebuilding, -1)
}

// Rebuilding reports whether any registered dir is still rebuilding
// its directory from disk.
func (c *Context) Rebuilding() bool {
	return atomic.LoadInt32(&c.dirsRebuilding) > 0
}
