// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ncandio/razorfs/cfg"
	"github.com/ncandio/razorfs/internal/engine"
	"github.com/ncandio/razorfs/internal/filedata"
	"github.com/ncandio/razorfs/internal/fuseadapter"
	"github.com/ncandio/razorfs/internal/razorlog"
	"github.com/ncandio/razorfs/internal/telemetry"
	"github.com/ncandio/razorfs/internal/tree"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount razorfs at the given directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(_ *cobra.Command, args []string) (err error) {
	if err := requireNoConfigError(); err != nil {
		return err
	}
	c := MountCfg
	c.Mount.Dir = args[0]
	if err := cfg.ValidateConfig(&c); err != nil {
		return err
	}

	storageDir, err := cfg.ResolveStorageDir(c.Storage.Dir, c.Storage.AllowTmpfsFallback)
	if err != nil {
		return fmt.Errorf("resolving storage directory: %w", err)
	}

	if err := razorlog.Init(razorlog.Config{
		Severity: razorlog.Severity(c.Logging.Severity),
		Format:   string(c.Logging.Format),
		FilePath: c.Logging.FilePath,
		Rotate: razorlog.RotateConfig{
			MaxSizeMB:  c.Logging.LogRotate.MaxFileSizeMb,
			MaxBackups: c.Logging.LogRotate.BackupFileCount,
			Compress:   c.Logging.LogRotate.Compress,
		},
	}); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer razorlog.Close()

	provider, err := telemetry.NewProvider()
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer provider.Shutdown(context.Background())

	eng, err := engine.Open(engine.Config{
		Dir:                 storageDir,
		WALPath:             c.WAL.Path,
		GroupCommitWindow:   c.WAL.GroupCommitWindow,
		CheckpointThreshold: c.WAL.CheckpointThresholdMB * 1024 * 1024,
		CompressionPolicy: filedata.CompressionPolicy{
			MinSize:  c.FileData.CompressionMinSizeBytes,
			MinRatio: c.FileData.CompressionMinRatio,
		},
	})
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()

	owner := tree.Caller{Uid: uint32(unix.Getuid()), Gid: uint32(unix.Getgid())}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mfs, pool, err := fuseadapter.Mount(ctx, c.Mount.Dir, eng, fuseadapter.MountConfig{
		PriorityWorkers: c.FuseAdapter.PriorityWorkers,
		NormalWorkers:   c.FuseAdapter.NormalWorkers,
		Owner:           owner,
		Metrics:         provider.Metrics,
		ReadOnly:        c.Mount.ReadOnly,
		FSName:          c.Mount.FSName,
	})
	if err != nil {
		return fmt.Errorf("mounting: %w", err)
	}
	defer pool.Stop()

	go fuseadapter.MaybeCheckpointLoop(ctx, eng, c.Mount.CheckpointInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		razorlog.Infof("cmd: received shutdown signal, unmounting %s", c.Mount.Dir)
		if err := mfs.Unmount(); err != nil {
			razorlog.Errorf("cmd: unmount failed: %v", err)
		}
	}()

	return mfs.Join()
}
