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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ncandio/razorfs/internal/engine"
)

var initCmd = &cobra.Command{
	Use:   "init <storage-dir>",
	Short: "Create a fresh razorfs storage directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, args []string) error {
	if err := requireNoConfigError(); err != nil {
		return err
	}
	dir := args[0]

	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return fmt.Errorf("%s is not empty; refusing to overwrite an existing storage directory", dir)
	}

	eng, err := engine.Open(engine.Config{
		Dir:                 dir,
		GroupCommitWindow:   MountCfg.WAL.GroupCommitWindow,
		CheckpointThreshold: MountCfg.WAL.CheckpointThresholdMB * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("initializing storage directory: %w", err)
	}
	defer eng.Close()

	fmt.Printf("initialized razorfs storage directory at %s\n", dir)
	return nil
}
