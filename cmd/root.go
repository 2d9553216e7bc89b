// Copyright 2024 Google Inc. All Rights Reserved.
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
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ncandio/razorfs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error

	// MountCfg is populated by initConfig on every subcommand run, after
	// flags and any --config-file have been parsed and Rationalize has run,
	// but before ValidateConfig — only mount calls that itself, so a
	// read-only subcommand like stat isn't forced through mount-only
	// validation.
	MountCfg cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "razorfsctl",
	Short: "Mount and administer razorfs, a cache-aligned user-space filesystem",
	Long: `razorfsctl mounts razorfs via FUSE and administers its on-disk
storage directory: initializing a fresh one, checking an existing one
for consistency, and reporting statistics.`,
	SilenceUsage: true,
}

// Execute runs the selected subcommand, printing any error to stderr and
// exiting nonzero. A panic during a subcommand is appended to a crash
// file next to the process's working directory before being re-raised,
// so a mount that dies unexpectedly leaves a trace behind even when
// stderr was redirected or already closed by a parent daemonizer.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			cw := NewCrashWriter("razorfsctl.crash.log")
			fmt.Fprintf(cw, "panic: %v\n", r)
			panic(r)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if bindErr != nil {
		configFileErr = bindErr
		return
	}

	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			configFileErr = fmt.Errorf("resolving config file path: %w", err)
			return
		}
		viper.SetConfigFile(abs)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}

	if err := viper.Unmarshal(&MountCfg, viper.DecodeHook(cfg.DecodeHook())); err != nil {
		configFileErr = fmt.Errorf("parsing config: %w", err)
		return
	}

	if err := cfg.Rationalize(&MountCfg); err != nil {
		configFileErr = fmt.Errorf("rationalizing config: %w", err)
	}
}

func requireNoConfigError() error {
	if configFileErr != nil {
		return configFileErr
	}
	return nil
}
