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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openrock/rockstore/pkg/config"
	"github.com/openrock/rockstore/pkg/diskio"
	"github.com/openrock/rockstore/pkg/logutil"
	"github.com/openrock/rockstore/pkg/store"
)

var (
	roleFlag   = flag.String("role", "single", "process role: single|master|worker|disker")
	createFlag = flag.Bool("create", false, "initialize the db file and directory, then exit")
)

func usage() {
	fmt.Printf("Usage: %s [-role single|master|worker|disker] [-create] configFile\n", os.Args[0])
	os.Exit(-1)
}

func waitSignal() {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGTERM, syscall.SIGINT)
	<-sigchan
}

func roleOf(name string) (store.Role, bool) {
	switch name {
	case "single":
		return store.RoleSingle, true
	case "master":
		return store.RoleCoordinator, true
	case "worker":
		return store.RoleWorker, true
	case "disker":
		return store.RoleDisker, true
	}
	return store.RoleSingle, false
}

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(-1)
	}
	logutil.SetupRockLogger(&cfg.Log)

	role, ok := roleOf(*roleFlag)
	if !ok {
		usage()
	}

	if *createFlag {
		ctx := store.NewContext(store.RoleCoordinator)
		sd, err := store.NewSwapDir(ctx, cfg.Store)
		if err != nil {
			logutil.Fatalf("rock dir rejected: %v", err)
		}
		if err := sd.Create(); err != nil {
			logutil.Fatalf("rock db creation error: %v", err)
		}
		return
	}

	switch role {
	case store.RoleDisker:
		runDisker(cfg)
	case store.RoleCoordinator:
		runMaster(cfg)
	default:
		runStore(cfg, role)
	}
}

func runDisker(cfg *config.Config) {
	d, err := diskio.NewDisker(cfg.Store.SocketPath(), cfg.Store.FilePath(),
		diskio.DefaultDiskerWorkers)
	if err != nil {
		logutil.Fatalf("disker failed to start: %v", err)
	}
	d.Start()
	waitSignal()
	if err := d.Close(); err != nil {
		logutil.Errorf("disker shutdown: %v", err)
	}
}

// runMaster creates the shared segment before any worker attaches and
// unlinks it on teardown.
func runMaster(cfg *config.Config) {
	ctx := store.NewContext(store.RoleCoordinator)
	sd, err := store.NewSwapDir(ctx, cfg.Store)
	if err != nil {
		logutil.Fatalf("rock dir rejected: %v", err)
	}
	if err := sd.CreateMap(); err != nil {
		logutil.Fatalf("rock segment creation error: %v", err)
	}
	waitSignal()
	sd.Close()
	if err := sd.UnlinkSegment(); err != nil {
		logutil.Errorf("segment teardown: %v", err)
	}
}

func runStore(cfg *config.Config, role store.Role) {
	ctx := store.NewContext(role)
	sd, err := store.NewSwapDir(ctx, cfg.Store)
	if err != nil {
		logutil.Fatalf("rock dir rejected: %v", err)
	}
	if err := sd.Init(); err != nil {
		logutil.Fatalf("rock dir failed to initialize: %v", err)
	}

	stopMaintain := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopMaintain:
				return
			case <-ticker.C:
				sd.Maintain()
			}
		}
	}()

	waitSignal()
	close(stopMaintain)
	if err := sd.Close(); err != nil {
		logutil.Errorf("rock dir shutdown: %v", err)
	}
	if role == store.RoleSingle {
		if err := sd.UnlinkSegment(); err != nil {
			logutil.Errorf("segment teardown: %v", err)
		}
	}
}
