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

package config

import (
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/openrock/rockstore/pkg/common/moerr"
	"github.com/openrock/rockstore/pkg/logutil"
)

// DiskIO module names accepted by StoreConfig.DiskIO.
const (
	DiskIOBlocking = "Blocking"
	DiskIOIpcIo    = "IpcIo"
)

type Config struct {
	Log   logutil.LogConfig `toml:"log"`
	Store StoreConfig       `toml:"store"`
}

// StoreConfig describes one rock swap directory.
type StoreConfig struct {
	// Path is the cache_dir directory; the db file lives at Path/rock.
	Path string `toml:"path"`

	// MaxSizeMB is the maximum db size in MiB, header included.
	MaxSizeMB int64 `toml:"max-size-mb"`

	// MaxObjSize is the cell size in bytes. Every cell holds its
	// 8-byte header plus at most MaxObjSize-8 payload bytes.
	MaxObjSize int64 `toml:"max-objsize"`

	// DiskIO selects the I/O module: Blocking or IpcIo.
	DiskIO string `toml:"diskio"`

	// DiskerAddr is the unix socket of the disker process. Only used
	// with the IpcIo module; defaults to Path/rock.sock.
	DiskerAddr string `toml:"disker-addr"`
}

// Load reads and validates a toml configuration file.
func Load(file string) (*Config, error) {
	cfg := &Config{
		Log: logutil.LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{
			DiskIO: DiskIOBlocking,
		},
	}
	if _, err := toml.DecodeFile(file, cfg); err != nil {
		return nil, moerr.NewBadConfig("%s: %s", file, err)
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *StoreConfig) Validate() error {
	if c.Path == "" {
		return moerr.NewBadConfig("store path is required")
	}
	if c.MaxSizeMB <= 0 {
		return moerr.NewBadConfig("max-size-mb must be positive, got %d", c.MaxSizeMB)
	}
	if c.MaxObjSize <= 0 {
		return moerr.NewBadConfig("max-objsize must be positive, got %d", c.MaxObjSize)
	}
	switch c.DiskIO {
	case DiskIOBlocking, DiskIOIpcIo:
	default:
		return moerr.NewBadConfig("unknown diskio module %q", c.DiskIO)
	}
	return nil
}

// MaximumSize is the db file size in bytes.
func (c *StoreConfig) MaximumSize() int64 {
	return c.MaxSizeMB << 20
}

// FilePath is the location of the backing db file.
func (c *StoreConfig) FilePath() string {
	return filepath.Join(c.Path, "rock")
}

// SocketPath is the disker unix socket location.
func (c *StoreConfig) SocketPath() string {
	if c.DiskerAddr != "" {
		return c.DiskerAddr
	}
	return filepath.Join(c.Path, "rock.sock")
}
