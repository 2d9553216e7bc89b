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

const (
	// Logging-level constants, mirrored as plain strings for flag help text.

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// DefaultCheckpointThresholdMB is the WAL size past which MaybeCheckpoint
	// folds the log into a fresh checkpoint.
	DefaultCheckpointThresholdMB int64 = 64

	// DefaultGroupCommitWindow is how long the WAL's commit goroutine waits
	// to batch concurrent fsyncs before flushing.
	DefaultGroupCommitWindow = 2 * time.Millisecond

	// DefaultCompressionMinSizeBytes and DefaultCompressionMinRatio match
	// internal/filedata.DefaultCompressionPolicy.
	DefaultCompressionMinSizeBytes = 512
	DefaultCompressionMinRatio     = 0.9

	// DefaultPriorityWorkers and DefaultNormalWorkers size the FUSE
	// adapter's worker pool lanes when unconfigured.
	DefaultPriorityWorkers uint32 = 4
	DefaultNormalWorkers   uint32 = 4

	// DefaultLogMaxFileSizeMB and DefaultLogBackupFileCount are the log
	// rotation flag defaults; internal/razorlog has no defaults of its own
	// and passes the configured values straight to lumberjack.
	DefaultLogMaxFileSizeMB   = 64
	DefaultLogBackupFileCount = 5
)
