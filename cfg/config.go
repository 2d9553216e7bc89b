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

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root of razorfs's mount-time configuration, populated by
// BindFlags plus whatever config file viper.ReadInConfig loaded. Branching
// factor and the linear-scan/binary-search crossover are compile-time
// constants in internal/tree, not configuration here — they are load-bearing
// for the packed 64-byte node layout, not a sizing knob.
type Config struct {
	AppName string `yaml:"app-name"`

	Storage StorageConfig `yaml:"storage"`

	WAL WALConfig `yaml:"wal"`

	FileData FileDataConfig `yaml:"file-data"`

	FuseAdapter FuseAdapterConfig `yaml:"fuse-adapter"`

	Mount MountConfig `yaml:"mount"`

	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`
}

// StorageConfig selects where the mmap'd node/string-table files and the
// WAL live on disk.
type StorageConfig struct {
	// Dir is the storage directory; resolved via ResolveStorageDir before
	// use so a missing or unwritable path can fall back to tmpfs.
	Dir string `yaml:"dir"`

	// AllowTmpfsFallback permits ResolveStorageDir to fall back to a
	// tmpfs-backed temp directory (with a logged warning) when Dir can't
	// be created or isn't writable, instead of failing the mount.
	AllowTmpfsFallback bool `yaml:"allow-tmpfs-fallback"`
}

// WALConfig tunes the write-ahead log's group-commit and checkpoint
// behavior.
type WALConfig struct {
	// Path overrides the WAL file location; defaults to Storage.Dir/wal.log.
	Path string `yaml:"path"`

	// GroupCommitWindow is how long concurrent fsyncs are batched before
	// the WAL's commit goroutine flushes them as one fsync.
	GroupCommitWindow time.Duration `yaml:"group-commit-window"`

	// CheckpointThresholdMB is the WAL size past which a checkpoint is
	// folded in on the next MaybeCheckpoint call.
	CheckpointThresholdMB int64 `yaml:"checkpoint-threshold-mb"`
}

// FileDataConfig tunes the file-data blob store's compression policy.
type FileDataConfig struct {
	// CompressionMinSizeBytes is the blob size below which compression
	// isn't attempted — the framing overhead isn't worth it.
	CompressionMinSizeBytes int `yaml:"compression-min-size-bytes"`

	// CompressionMinRatio is the compressed:original size ratio a blob
	// must beat to keep the compressed form; otherwise the original is
	// stored as-is.
	CompressionMinRatio float64 `yaml:"compression-min-ratio"`
}

// FuseAdapterConfig sizes the FUSE front end's worker pool.
type FuseAdapterConfig struct {
	PriorityWorkers uint32 `yaml:"priority-workers"`
	NormalWorkers   uint32 `yaml:"normal-workers"`
}

// MountConfig selects the mount point and presentation options passed to
// jacobsa/fuse.
type MountConfig struct {
	Dir      string `yaml:"dir"`
	ReadOnly bool   `yaml:"read-only"`
	FSName   string `yaml:"fs-name"`

	// CheckpointInterval controls fuseadapter.MaybeCheckpointLoop's ticker.
	CheckpointInterval time.Duration `yaml:"checkpoint-interval"`
}

// LoggingConfig mirrors internal/razorlog.Config's decodable surface.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    LogFormat              `yaml:"format"`
	FilePath  string                 `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig mirrors internal/razorlog.RotateConfig.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// BindFlags registers every flag razorfsctl exposes and binds each to its
// viper key via the flagSet-then-viper.BindPFlag pattern.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "razorfs", "The application name of this mount.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.StringP("storage-dir", "", "", "Directory holding the node/string-table files and WAL.")
	if err = viper.BindPFlag("storage.dir", flagSet.Lookup("storage-dir")); err != nil {
		return err
	}

	flagSet.BoolP("allow-tmpfs-fallback", "", false, "Fall back to a tmpfs-backed directory (with a logged warning) when storage-dir is unwritable.")
	if err = viper.BindPFlag("storage.allow-tmpfs-fallback", flagSet.Lookup("allow-tmpfs-fallback")); err != nil {
		return err
	}

	flagSet.StringP("wal-path", "", "", "Write-ahead log path. Defaults to storage-dir/wal.log.")
	if err = viper.BindPFlag("wal.path", flagSet.Lookup("wal-path")); err != nil {
		return err
	}

	flagSet.DurationP("group-commit-window", "", DefaultGroupCommitWindow, "How long concurrent writers are batched before one fsync.")
	if err = viper.BindPFlag("wal.group-commit-window", flagSet.Lookup("group-commit-window")); err != nil {
		return err
	}

	flagSet.Int64P("checkpoint-threshold-mb", "", DefaultCheckpointThresholdMB, "WAL size, in MiB, past which a checkpoint is folded in.")
	if err = viper.BindPFlag("wal.checkpoint-threshold-mb", flagSet.Lookup("checkpoint-threshold-mb")); err != nil {
		return err
	}

	flagSet.IntP("compression-min-size-bytes", "", DefaultCompressionMinSizeBytes, "Blobs smaller than this are never compressed.")
	if err = viper.BindPFlag("file-data.compression-min-size-bytes", flagSet.Lookup("compression-min-size-bytes")); err != nil {
		return err
	}

	flagSet.Float64P("compression-min-ratio", "", DefaultCompressionMinRatio, "Compressed:original ratio a blob must beat to stay compressed.")
	if err = viper.BindPFlag("file-data.compression-min-ratio", flagSet.Lookup("compression-min-ratio")); err != nil {
		return err
	}

	flagSet.Uint32P("priority-workers", "", DefaultPriorityWorkers, "Worker-pool lane size for metadata operations.")
	if err = viper.BindPFlag("fuse-adapter.priority-workers", flagSet.Lookup("priority-workers")); err != nil {
		return err
	}

	flagSet.Uint32P("normal-workers", "", DefaultNormalWorkers, "Worker-pool lane size for data operations.")
	if err = viper.BindPFlag("fuse-adapter.normal-workers", flagSet.Lookup("normal-workers")); err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Mount read-only.")
	if err = viper.BindPFlag("mount.read-only", flagSet.Lookup("read-only")); err != nil {
		return err
	}

	flagSet.StringP("fs-name", "", "razorfs", "Filesystem name reported to the kernel.")
	if err = viper.BindPFlag("mount.fs-name", flagSet.Lookup("fs-name")); err != nil {
		return err
	}

	flagSet.DurationP("checkpoint-interval", "", 30*time.Second, "Background checkpoint poll interval.")
	if err = viper.BindPFlag("mount.checkpoint-interval", flagSet.Lookup("checkpoint-interval")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging verbosity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", string(TextLogFormat), "Log handler format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Log file path. Empty means stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("log-max-file-size-mb", "", DefaultLogMaxFileSizeMB, "Log rotation size threshold, in MiB.")
	if err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-max-file-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-backup-file-count", "", DefaultLogBackupFileCount, "Rotated log files to retain; 0 retains all.")
	if err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-backup-file-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-compress", "", true, "Gzip rotated log files.")
	if err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-compress")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Raise logging severity to TRACE. Invariant violations still latch the store as needing recovery; the process does not exit.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Raise logging severity to TRACE. Mutex hold times are not logged.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	return nil
}
