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

	"github.com/spf13/cobra"

	"github.com/ncandio/razorfs/internal/engine"
	"github.com/ncandio/razorfs/internal/tree"
)

var statCmd = &cobra.Command{
	Use:   "stat <storage-dir>",
	Short: "Report node/byte capacity and usage for a storage directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(_ *cobra.Command, args []string) error {
	if err := requireNoConfigError(); err != nil {
		return err
	}
	dir := args[0]

	eng, err := engine.Open(engine.Config{
		Dir:                 dir,
		GroupCommitWindow:   MountCfg.WAL.GroupCommitWindow,
		CheckpointThreshold: MountCfg.WAL.CheckpointThresholdMB * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer eng.Close()

	st, err := eng.Statfs()
	if err != nil {
		return fmt.Errorf("statfs: %w", err)
	}

	fmt.Printf("storage dir:        %s\n", dir)
	fmt.Printf("nodes:               %d / %d used\n", st.UsedNodes, st.TotalNodes)
	fmt.Printf("bytes:               %d / %d used\n", st.TotalBytes-st.FreeBytes, st.TotalBytes)
	fmt.Printf("file-data used:      %d bytes\n", st.UsedBytes)
	fmt.Printf("branching factor:    %d (compile-time)\n", tree.Branching)
	fmt.Printf("linear-scan thresh:  %d (compile-time)\n", tree.LinearThreshold)
	return nil
}
