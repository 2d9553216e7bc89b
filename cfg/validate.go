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

package cfg

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidWALConfig(w *WALConfig) error {
	if w.GroupCommitWindow < 0 {
		return fmt.Errorf("group-commit-window can't be negative")
	}
	if w.CheckpointThresholdMB <= 0 {
		return fmt.Errorf("checkpoint-threshold-mb should be at least 1")
	}
	return nil
}

func isValidFileDataConfig(f *FileDataConfig) error {
	if f.CompressionMinSizeBytes < 0 {
		return fmt.Errorf("compression-min-size-bytes can't be negative")
	}
	if f.CompressionMinRatio <= 0 || f.CompressionMinRatio > 1 {
		return fmt.Errorf("compression-min-ratio must be in (0, 1]")
	}
	return nil
}

func isValidFuseAdapterConfig(f *FuseAdapterConfig) error {
	if f.PriorityWorkers == 0 && f.NormalWorkers == 0 {
		return fmt.Errorf("at least one of priority-workers or normal-workers must be nonzero")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidWALConfig(&config.WAL); err != nil {
		return fmt.Errorf("error parsing wal config: %w", err)
	}
	if err := isValidFileDataConfig(&config.FileData); err != nil {
		return fmt.Errorf("error parsing file-data config: %w", err)
	}
	if err := isValidFuseAdapterConfig(&config.FuseAdapter); err != nil {
		return fmt.Errorf("error parsing fuse-adapter config: %w", err)
	}
	return nil
}
