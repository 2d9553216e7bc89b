// Package fuseadapter is the front-end seam between jacobsa/fuse's kernel
// callback surface and internal/engine's operation table: fuseutil.FileSystem
// methods translate fuseops request/response structs to and from Engine
// calls and dispatch each one onto a StaticWorkerPool's priority/normal
// lane split.
package fuseadapter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ncandio/razorfs/internal/engine"
	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/razorlog"
	"github.com/ncandio/razorfs/internal/telemetry"
	"github.com/ncandio/razorfs/internal/tree"
)

var errNotFoundSentinel = errs.New(errs.NotFound, "fuseadapter.LookUpInode", "")

// Adapter implements fuseutil.FileSystem over an *engine.Engine.
// Unimplemented methods (symlinks, xattrs, fallocate) fall through to
// NotImplementedFileSystem's ENOSYS stubs.
//
// Permission checks use a single mount-time owner (Uid/Gid) as the caller
// for every operation: jacobsa/fuse's op structs do not surface the
// kernel request's per-call uid/gid, so finer-grained multi-user
// enforcement would need a lower-level binding than fuseutil.FileSystem
// offers. Mounting with -o default_permissions lets the kernel itself
// enforce per-user access outside this process.
type Adapter struct {
	fuseutil.NotImplementedFileSystem

	eng     *engine.Engine
	pool    WorkerPool
	metrics *telemetry.Metrics
	owner   tree.Caller

	mu         sync.Mutex
	dirHandles map[fuseops.HandleID][]tree.DirEntry
	nextHandle atomic.Uint64
}

// New wraps eng behind the FUSE callback surface, dispatching metadata
// calls (lookup/getattr/readdir) on pool's priority lane and data calls
// (read/write) on its normal lane. metrics may be nil to disable
// per-operation instrumentation.
func New(eng *engine.Engine, pool WorkerPool, metrics *telemetry.Metrics, owner tree.Caller) *Adapter {
	return &Adapter{
		eng:        eng,
		pool:       pool,
		metrics:    metrics,
		owner:      owner,
		dirHandles: make(map[fuseops.HandleID][]tree.DirEntry),
	}
}

func (a *Adapter) allocHandle() fuseops.HandleID {
	return fuseops.HandleID(a.nextHandle.Add(1))
}

// dispatch runs fn on the worker pool's priority or normal lane (or
// inline if no pool was configured), converting its error to the errno
// the kernel expects and recording op/error metrics.
func (a *Adapter) dispatch(op string, priority bool, fn func() error) error {
	ctx := context.Background()
	var done func(err error, errCategory string)
	if a.metrics != nil {
		done = a.metrics.Track(ctx, op)
	}

	var err error
	if a.pool == nil {
		err = fn()
	} else {
		result := make(chan error, 1)
		schedErr := a.pool.Schedule(TaskFunc(func() { result <- fn() }), priority)
		if schedErr != nil {
			return schedErr
		}
		err = <-result
	}

	if done != nil {
		category := ""
		if err != nil {
			category = errorCategory(err)
		}
		done(err, category)
	}
	if err != nil {
		razorlog.Debugf("fuseadapter: %s failed: %v", op, err)
	}
	return toErrno(err)
}

func errorCategory(err error) string {
	if kind, ok := errs.KindOf(err); ok {
		return kind.String()
	}
	return "unknown"
}

func (a *Adapter) Init(op *fuseops.InitOp) error {
	return nil
}

func (a *Adapter) LookUpInode(op *fuseops.LookUpInodeOp) error {
	return a.dispatch("lookup", true, func() error {
		entries, err := a.eng.ReadDir(toNodeIdx(op.Parent), a.owner)
		if err != nil {
			return err
		}
		for _, de := range entries {
			if de.Name != op.Name {
				continue
			}
			idx := uint16(de.Inode)
			attr, err := a.eng.GetAttr(idx)
			if err != nil {
				return err
			}
			op.Entry.Child = toFuseInode(idx)
			op.Entry.Attributes = toAttributes(attr)
			return nil
		}
		return errNotFoundSentinel
	})
}

func (a *Adapter) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	return a.dispatch("getattr", true, func() error {
		attr, err := a.eng.GetAttr(toNodeIdx(op.Inode))
		if err != nil {
			return err
		}
		op.Attributes = toAttributes(attr)
		return nil
	})
}

func (a *Adapter) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	return a.dispatch("setattr", true, func() error {
		idx := toNodeIdx(op.Inode)
		if op.Mode != nil {
			if err := a.eng.Chmod(idx, uint16(op.Mode.Perm()), a.owner); err != nil {
				return err
			}
		}
		if op.Size != nil {
			if err := a.eng.Truncate(idx, *op.Size, a.owner); err != nil {
				return err
			}
		}
		if op.Mtime != nil {
			if err := a.eng.Utimens(idx, uint32(op.Mtime.Unix()), a.owner); err != nil {
				return err
			}
		}
		attr, err := a.eng.GetAttr(idx)
		if err != nil {
			return err
		}
		op.Attributes = toAttributes(attr)
		return nil
	})
}

func (a *Adapter) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (a *Adapter) MkDir(op *fuseops.MkDirOp) error {
	return a.dispatch("mkdir", true, func() error {
		idx, err := a.eng.Mkdir(toNodeIdx(op.Parent), op.Name, uint16(op.Mode.Perm()), a.owner.Uid, a.owner.Gid, a.owner)
		if err != nil {
			return err
		}
		attr, err := a.eng.GetAttr(idx)
		if err != nil {
			return err
		}
		op.Entry.Child = toFuseInode(idx)
		op.Entry.Attributes = toAttributes(attr)
		return nil
	})
}

func (a *Adapter) CreateFile(op *fuseops.CreateFileOp) error {
	return a.dispatch("create", true, func() error {
		idx, err := a.eng.Create(toNodeIdx(op.Parent), op.Name, uint16(op.Mode.Perm()), a.owner.Uid, a.owner.Gid, a.owner)
		if err != nil {
			return err
		}
		attr, err := a.eng.GetAttr(idx)
		if err != nil {
			return err
		}
		op.Entry.Child = toFuseInode(idx)
		op.Entry.Attributes = toAttributes(attr)
		return nil
	})
}

func (a *Adapter) RmDir(op *fuseops.RmDirOp) error {
	return a.dispatch("rmdir", true, func() error {
		return a.eng.Rmdir(toNodeIdx(op.Parent), op.Name, a.owner)
	})
}

func (a *Adapter) Unlink(op *fuseops.UnlinkOp) error {
	return a.dispatch("unlink", true, func() error {
		return a.eng.Unlink(toNodeIdx(op.Parent), op.Name, a.owner)
	})
}

func (a *Adapter) Rename(op *fuseops.RenameOp) error {
	return a.dispatch("rename", true, func() error {
		return a.eng.Rename(toNodeIdx(op.OldParent), op.OldName, toNodeIdx(op.NewParent), op.NewName, a.owner)
	})
}

func (a *Adapter) OpenDir(op *fuseops.OpenDirOp) error {
	return a.dispatch("opendir", true, func() error {
		entries, err := a.eng.ReadDir(toNodeIdx(op.Inode), a.owner)
		if err != nil {
			return err
		}
		handle := a.allocHandle()
		a.mu.Lock()
		a.dirHandles[handle] = entries
		a.mu.Unlock()
		op.Handle = handle
		return nil
	})
}

func (a *Adapter) ReadDir(op *fuseops.ReadDirOp) error {
	return a.dispatch("readdir", true, func() error {
		a.mu.Lock()
		entries := a.dirHandles[op.Handle]
		a.mu.Unlock()

		off := int(op.Offset)
		n := 0
		for off+n < len(entries) {
			de := entries[off+n]
			dirent := fuseutil.Dirent{
				Offset: fuseops.DirOffset(off + n + 1),
				Inode:  toFuseInode(uint16(de.Inode)),
				Name:   de.Name,
				Type:   toDirentType(tree.NodeType(de.Mode >> 9)),
			}
			written := fuseutil.WriteDirent(op.Dst[n:], dirent)
			if written == 0 {
				break
			}
			n += written
		}
		op.BytesRead = n
		return nil
	})
}

func (a *Adapter) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	a.mu.Lock()
	delete(a.dirHandles, op.Handle)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) OpenFile(op *fuseops.OpenFileOp) error {
	return nil
}

func (a *Adapter) ReadFile(op *fuseops.ReadFileOp) error {
	return a.dispatch("read", false, func() error {
		n, err := a.eng.Read(toNodeIdx(op.Inode), op.Dst, uint64(op.Offset), a.owner)
		op.BytesRead = n
		return err
	})
}

func (a *Adapter) WriteFile(op *fuseops.WriteFileOp) error {
	return a.dispatch("write", false, func() error {
		_, err := a.eng.Write(toNodeIdx(op.Inode), op.Data, uint64(op.Offset), a.owner)
		return err
	})
}

func (a *Adapter) SyncFile(op *fuseops.SyncFileOp) error {
	return a.dispatch("fsync", false, func() error {
		return a.eng.Fsync(toNodeIdx(op.Inode))
	})
}

func (a *Adapter) FlushFile(op *fuseops.FlushFileOp) error {
	return a.dispatch("flush", false, func() error {
		return a.eng.Fsync(toNodeIdx(op.Inode))
	})
}

func (a *Adapter) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (a *Adapter) StatFS(op *fuseops.StatFSOp) error {
	return a.dispatch("statfs", true, func() error {
		sf, err := a.eng.Statfs()
		if err != nil {
			return err
		}
		op.Blocks = sf.TotalBytes / statfsBlockSize
		op.BlocksFree = sf.FreeBytes / statfsBlockSize
		op.BlocksAvailable = sf.FreeBytes / statfsBlockSize
		op.IoSize = statfsBlockSize
		op.BlockSize = statfsBlockSize
		op.Inodes = sf.TotalNodes
		op.InodesFree = sf.TotalNodes - sf.UsedNodes
		return nil
	})
}

const statfsBlockSize = 4096
