package fuseadapter

import (
	"context"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ncandio/razorfs/internal/engine"
	"github.com/ncandio/razorfs/internal/razorlog"
	"github.com/ncandio/razorfs/internal/telemetry"
	"github.com/ncandio/razorfs/internal/tree"
)

// MountConfig selects the worker-pool sizing and owner identity for a
// mounted Adapter.
type MountConfig struct {
	PriorityWorkers uint32
	NormalWorkers   uint32
	Owner           tree.Caller
	Metrics         *telemetry.Metrics
	ReadOnly        bool
	FSName          string
}

// Mount starts a worker pool, wraps eng in an Adapter, and mounts it at
// dir via jacobsa/fuse. The returned *fuse.MountedFileSystem's Join waits
// for unmount; the caller is responsible for calling Unmount (typically
// on SIGINT/SIGTERM) and then mfs.Join().
func Mount(ctx context.Context, dir string, eng *engine.Engine, cfg MountConfig) (*fuse.MountedFileSystem, *StaticWorkerPool, error) {
	priority, normal := cfg.PriorityWorkers, cfg.NormalWorkers
	if priority == 0 && normal == 0 {
		priority, normal = 4, 4
	}
	pool, err := NewStaticWorkerPool(priority, normal)
	if err != nil {
		return nil, nil, err
	}

	adapter := New(eng, pool, cfg.Metrics, cfg.Owner)
	server := fuseutil.NewFileSystemServer(adapter)

	fsName := cfg.FSName
	if fsName == "" {
		fsName = "razorfs"
	}

	mountCfg := &fuse.MountConfig{
		FSName:                  fsName,
		ReadOnly:                cfg.ReadOnly,
		DisableWritebackCaching: true,
	}

	razorlog.Infof("fuseadapter: mounting %s at %s", fsName, dir)
	mfs, err := fuse.Mount(dir, server, mountCfg)
	if err != nil {
		pool.Stop()
		return nil, nil, err
	}
	return mfs, pool, nil
}

// MaybeCheckpointLoop periodically checkpoints eng until ctx is cancelled,
// the background half of the worker-pool dispatch seam: mutation RPCs
// never themselves block on folding a checkpoint.
func MaybeCheckpointLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.MaybeCheckpoint(); err != nil {
				razorlog.Errorf("fuseadapter: checkpoint failed: %v", err)
			}
		}
	}
}
