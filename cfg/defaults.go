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

import "time"

// GetDefaultLoggingConfig returns the configuration used before a config
// file or flags have been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   TextLogFormat,
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: DefaultLogBackupFileCount,
			Compress:        true,
			MaxFileSizeMb:   DefaultLogMaxFileSizeMB,
		},
	}
}

// GetDefaultConfig returns a Config usable without any flags or config
// file, for tests and for razorfsctl subcommands that only need a
// storage directory.
func GetDefaultConfig() Config {
	return Config{
		AppName: "razorfs",
		WAL: WALConfig{
			GroupCommitWindow:    DefaultGroupCommitWindow,
			CheckpointThresholdMB: DefaultCheckpointThresholdMB,
		},
		FileData: FileDataConfig{
			CompressionMinSizeBytes: DefaultCompressionMinSizeBytes,
			CompressionMinRatio:     DefaultCompressionMinRatio,
		},
		FuseAdapter: FuseAdapterConfig{
			PriorityWorkers: DefaultPriorityWorkers,
			NormalWorkers:   DefaultNormalWorkers,
		},
		Mount: MountConfig{
			FSName:             "razorfs",
			CheckpointInterval: 30 * time.Second,
		},
		Logging: GetDefaultLoggingConfig(),
	}
}
