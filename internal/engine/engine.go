// Package engine ties the String Table, Tree Store, File-Data Store,
// Persistence Layer, Write-Ahead Log, and Recovery together into the
// operation table a front-end adapter drives: resolve, getattr, readdir,
// create, mkdir, unlink/rmdir, rename, chmod/chown/utimens, read, write,
// truncate, fsync, and statfs.
//
// Open attaches (or initializes) the storage directory, replays the WAL
// tail against the attached snapshot, runs ARIES recovery, and resumes the
// WAL's LSN/transaction-id counters before returning a usable Engine — the
// sequence a crash-recovery restart requires.
package engine

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/filedata"
	"github.com/ncandio/razorfs/internal/persist"
	"github.com/ncandio/razorfs/internal/razorlog"
	"github.com/ncandio/razorfs/internal/recovery"
	"github.com/ncandio/razorfs/internal/stringtable"
	"github.com/ncandio/razorfs/internal/tree"
	"github.com/ncandio/razorfs/internal/wal"
)

// DefaultCheckpointThreshold is the WAL size past which MaybeCheckpoint
// folds the log into a fresh checkpoint.
const DefaultCheckpointThreshold = 64 * 1024 * 1024

const walFileName = "wal.log"

// Config selects the storage directory and the handful of tunables this
// engine exposes (branching factor and linear-scan threshold are
// compile-time constants in internal/tree, not configuration here).
type Config struct {
	Dir                 string
	WALPath             string // defaults to Dir/wal.log
	GroupCommitWindow   time.Duration
	CompressionPolicy   filedata.CompressionPolicy
	CheckpointThreshold int64
	Clock               clock.Clock
}

func (c Config) walPath() string {
	if c.WALPath != "" {
		return c.WALPath
	}
	return filepath.Join(c.Dir, walFileName)
}

// Engine is the attached, runnable instance of the six core components.
// It is safe for concurrent use: every method below delegates to the
// already-concurrency-safe Store/filedata.Store, adding only a
// corruption latch.
type Engine struct {
	dir     string
	arr     *tree.Array
	names   *stringtable.Table
	store   *tree.Store
	fd      *filedata.Store
	log     *wal.Log
	persist *persist.Store
	clk     clock.Clock

	checkpointThreshold int64

	// corrupted latches on the first Corruption error any mutation
	// observes: once set, every further mutating call returns
	// RecoveryRequired instead of touching the store again. Reads remain
	// best-effort and are never gated by this flag.
	corrupted atomic.Bool
}

// Open attaches an existing storage directory, or initializes a fresh one
// if Dir has no nodes.dat yet, replays and recovers the WAL tail, and
// returns a ready-to-serve Engine.
func Open(cfg Config) (*Engine, error) {
	if cfg.Dir == "" {
		return nil, errs.New(errs.InvalidPath, "engine.Open", "empty storage directory")
	}

	fresh := false
	if _, err := os.Stat(filepath.Join(cfg.Dir, "nodes.dat")); err != nil {
		if !os.IsNotExist(err) {
			return nil, errs.Wrap(errs.IOError, "engine.Open", err)
		}
		fresh = true
	}

	var (
		pstore *persist.Store
		arr    *tree.Array
		names  *stringtable.Table
		err    error
	)
	if fresh {
		pstore, arr, names, err = persist.Init(cfg.Dir)
	} else {
		pstore, arr, names, err = persist.Attach(cfg.Dir)
	}
	if err != nil {
		return nil, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	walPath := cfg.walPath()
	log, err := wal.Open(walPath, cfg.GroupCommitWindow, clk)
	if err != nil {
		_ = pstore.Close()
		return nil, err
	}

	policy := cfg.CompressionPolicy
	if policy == (filedata.CompressionPolicy{}) {
		policy = filedata.DefaultCompressionPolicy
	}
	fd := filedata.NewStore(cfg.Dir, log, policy)

	if !fresh {
		records, err := wal.Replay(walPath)
		if err != nil {
			_ = log.Close()
			_ = pstore.Close()
			return nil, err
		}
		razorlog.Infof("engine: replaying %d WAL record(s) from %s", len(records), walPath)
		res, err := recovery.Recover(arr, names, fd, records, pstore.LastLSN())
		if err != nil {
			_ = log.Close()
			_ = pstore.Close()
			return nil, err
		}
		log.ResumeFrom(res.LastLSN, res.LastTxID)
	}

	threshold := cfg.CheckpointThreshold
	if threshold <= 0 {
		threshold = DefaultCheckpointThreshold
	}

	return &Engine{
		dir:                 cfg.Dir,
		arr:                 arr,
		names:               names,
		store:               tree.NewStore(arr, names, log, clk),
		fd:                  fd,
		log:                 log,
		persist:             pstore,
		clk:                 clk,
		checkpointThreshold: threshold,
	}, nil
}

// Close checkpoints the current state, then closes the WAL, unmaps every
// loaded file-data blob, and releases the storage directory's lock.
// Callers must quiesce in-flight operations first; Close does not do so
// itself.
func (e *Engine) Close() error {
	if err := e.Checkpoint(); err != nil {
		return err
	}
	if err := e.log.Close(); err != nil {
		return err
	}
	if err := e.fd.Close(); err != nil {
		return err
	}
	return e.persist.Close()
}

// Checkpoint forces every loaded file-data blob durable, forces a WAL
// checkpoint record, and folds the current namespace-tree state into
// nodes.dat/strings.dat, so a future Open need only replay records after
// the returned LSN — for both the tree and file content.
func (e *Engine) Checkpoint() error {
	if err := e.fd.FlushAll(); err != nil {
		return err
	}
	lsn, err := e.log.Checkpoint()
	if err != nil {
		return errs.Wrap(errs.IOError, "engine.Checkpoint", err)
	}
	return e.persist.Checkpoint(e.arr, e.names, lsn)
}

// MaybeCheckpoint checkpoints if the WAL has grown past the configured
// threshold, and is a no-op otherwise. Callers (internal/fuseadapter's
// MaybeCheckpointLoop ticker) call this periodically rather than
// checkpointing unconditionally after every operation.
func (e *Engine) MaybeCheckpoint() error {
	size, err := e.log.Size()
	if err != nil {
		return err
	}
	if size < e.checkpointThreshold {
		return nil
	}
	return e.Checkpoint()
}

func (e *Engine) requireHealthy() error {
	if e.corrupted.Load() {
		return errs.New(errs.RecoveryRequired, "engine", "store flagged corrupt; recovery must run before further mutation")
	}
	return nil
}

// guardMutation latches corrupted on a Corruption error so every
// subsequent mutating call short-circuits with RecoveryRequired, and
// passes every other error (or nil) through unchanged.
func (e *Engine) guardMutation(err error) error {
	if kind, ok := errs.KindOf(err); ok && kind == errs.Corruption {
		if !e.corrupted.Swap(true) {
			razorlog.Errorf("engine: store flagged corrupt, further mutations require recovery: %v", err)
		}
	}
	return err
}

// Resolve walks path from the root and returns the node index it names.
func (e *Engine) Resolve(path string) (uint16, error) {
	return e.store.PathResolve(path)
}

// GetAttr reads a node's attributes. Always best-effort, even if the store
// is flagged corrupt.
func (e *Engine) GetAttr(nodeIdx uint16) (tree.Attr, error) {
	return e.store.Stat(nodeIdx)
}

// ReadDir lists nodeIdx's children. Always best-effort, even if the store
// is flagged corrupt.
func (e *Engine) ReadDir(nodeIdx uint16, caller tree.Caller) ([]tree.DirEntry, error) {
	return e.store.List(nodeIdx, caller)
}

// Create makes a new regular file under parentIdx.
func (e *Engine) Create(parentIdx uint16, name string, perm uint16, uid, gid uint32, caller tree.Caller) (uint16, error) {
	if err := e.requireHealthy(); err != nil {
		return 0, err
	}
	idx, err := e.store.Insert(parentIdx, name, tree.TypeRegular, perm, uid, gid, caller)
	return idx, e.guardMutation(err)
}

// Mkdir makes a new directory under parentIdx.
func (e *Engine) Mkdir(parentIdx uint16, name string, perm uint16, uid, gid uint32, caller tree.Caller) (uint16, error) {
	if err := e.requireHealthy(); err != nil {
		return 0, err
	}
	idx, err := e.store.Insert(parentIdx, name, tree.TypeDirectory, perm, uid, gid, caller)
	return idx, e.guardMutation(err)
}

// lookupChild finds name directly under parentIdx, returning its inode and
// whether it is a regular file, so Unlink/Rename know whether a blob needs
// cleanup after the tree-level operation commits. It is deliberately a
// List-and-scan rather than a new Store method: Branching caps a
// directory's child count at 16, so the linear scan costs nothing a real
// lookup wouldn't already pay.
func (e *Engine) lookupChild(parentIdx uint16, name string, caller tree.Caller) (inode uint32, isRegular bool, found bool) {
	entries, err := e.store.List(parentIdx, caller)
	if err != nil {
		return 0, false, false
	}
	for _, de := range entries {
		if de.Name == name {
			return de.Inode, tree.NodeType(de.Mode>>9) == tree.TypeRegular, true
		}
	}
	return 0, false, false
}

// Unlink removes a regular file (or any non-directory entry) named name
// from parentIdx, and frees its file-data blob once the tree-level removal
// has committed.
func (e *Engine) Unlink(parentIdx uint16, name string, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	inode, isRegular, _ := e.lookupChild(parentIdx, name, caller)
	if err := e.guardMutation(e.store.Delete(parentIdx, name, caller)); err != nil {
		return err
	}
	if isRegular {
		return e.fd.Remove(inode)
	}
	return nil
}

// Rmdir removes an empty directory named name from parentIdx.
func (e *Engine) Rmdir(parentIdx uint16, name string, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	return e.guardMutation(e.store.Delete(parentIdx, name, caller))
}

// Rename moves or renames a child, optionally across directories. If the
// destination name already names a regular file, that file's blob is
// freed once the rename has committed (the tree-level clobber itself is
// handled, and made crash-durable, inside Store.Rename).
func (e *Engine) Rename(oldParentIdx uint16, oldName string, newParentIdx uint16, newName string, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	clobberInode, clobberRegular, clobberFound := e.lookupChild(newParentIdx, newName, caller)

	if err := e.guardMutation(e.store.Rename(oldParentIdx, oldName, newParentIdx, newName, caller)); err != nil {
		return err
	}
	if clobberFound && clobberRegular {
		return e.fd.Remove(clobberInode)
	}
	return nil
}

// Chmod changes a node's permission bits.
func (e *Engine) Chmod(nodeIdx uint16, perm uint16, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	return e.guardMutation(e.store.UpdateMetadata(nodeIdx, tree.Fields{
		Mask: tree.FieldMode,
		Perm: perm,
	}, caller))
}

// Chown changes a node's owning uid and/or gid; pass nil for whichever is
// not being changed.
func (e *Engine) Chown(nodeIdx uint16, uid, gid *uint32, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	var f tree.Fields
	if uid != nil {
		f.Mask |= tree.FieldUid
		f.Uid = *uid
	}
	if gid != nil {
		f.Mask |= tree.FieldGid
		f.Gid = *gid
	}
	if f.Mask == 0 {
		return nil
	}
	return e.guardMutation(e.store.UpdateMetadata(nodeIdx, f, caller))
}

// Utimens sets a node's modification time (seconds since the epoch).
func (e *Engine) Utimens(nodeIdx uint16, mtime uint32, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	return e.guardMutation(e.store.UpdateMetadata(nodeIdx, tree.Fields{
		Mask:  tree.FieldMtime,
		Mtime: mtime,
	}, caller))
}

// Read copies up to len(p) bytes of nodeIdx's content starting at off.
// Always best-effort, even if the store is flagged corrupt.
func (e *Engine) Read(nodeIdx uint16, p []byte, off uint64, caller tree.Caller) (int, error) {
	attr, err := e.store.Stat(nodeIdx)
	if err != nil {
		return 0, err
	}
	if attr.Type != tree.TypeRegular {
		return 0, errs.New(errs.IsDirectory, "engine.Read", "")
	}
	if !tree.CanReadAttr(attr, caller) {
		return 0, errs.New(errs.PermissionDenied, "engine.Read", "")
	}
	return e.fd.Read(attr.Inode, p, off)
}

// Write durably writes p at offset off in nodeIdx's content, then updates
// the node's size and modification time to match.
func (e *Engine) Write(nodeIdx uint16, p []byte, off uint64, caller tree.Caller) (uint64, error) {
	if err := e.requireHealthy(); err != nil {
		return 0, err
	}
	attr, err := e.store.Stat(nodeIdx)
	if err != nil {
		return 0, err
	}
	if attr.Type != tree.TypeRegular {
		return 0, errs.New(errs.IsDirectory, "engine.Write", "")
	}
	if !tree.CanWriteAttr(attr, caller) {
		return 0, errs.New(errs.PermissionDenied, "engine.Write", "")
	}

	newSize, err := e.fd.Write(attr.Inode, p, off)
	if err != nil {
		return 0, e.guardMutation(err)
	}

	err = e.store.UpdateMetadata(nodeIdx, tree.Fields{
		Mask:  tree.FieldSize | tree.FieldMtime,
		Size:  newSize,
		Mtime: uint32(e.clk.Now().Unix()),
	}, caller)
	if err != nil {
		return 0, e.guardMutation(err)
	}
	return newSize, nil
}

// Truncate resizes nodeIdx's content, then updates the node's size and
// modification time to match.
func (e *Engine) Truncate(nodeIdx uint16, size uint64, caller tree.Caller) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}
	attr, err := e.store.Stat(nodeIdx)
	if err != nil {
		return err
	}
	if attr.Type != tree.TypeRegular {
		return errs.New(errs.IsDirectory, "engine.Truncate", "")
	}
	if !tree.CanWriteAttr(attr, caller) {
		return errs.New(errs.PermissionDenied, "engine.Truncate", "")
	}

	if err := e.fd.Truncate(attr.Inode, size); err != nil {
		return e.guardMutation(err)
	}
	return e.guardMutation(e.store.UpdateMetadata(nodeIdx, tree.Fields{
		Mask:  tree.FieldSize | tree.FieldMtime,
		Size:  size,
		Mtime: uint32(e.clk.Now().Unix()),
	}, caller))
}

// Fsync forces nodeIdx's file-data blob durable. Every Write/Truncate
// already commits its mapping and msyncs before returning, so this is an
// extra barrier rather than the sole durability gate.
func (e *Engine) Fsync(nodeIdx uint16) error {
	attr, err := e.store.Stat(nodeIdx)
	if err != nil {
		return err
	}
	if attr.Type != tree.TypeRegular {
		return nil
	}
	return e.fd.Flush(attr.Inode)
}

// Statfs is the capacity/usage snapshot the statfs operation reports.
type Statfs struct {
	TotalNodes uint64
	UsedNodes  uint64
	TotalBytes uint64
	FreeBytes  uint64
	UsedBytes  uint64
}

// Statfs reports node-array and storage-directory capacity alongside
// file-data usage.
func (e *Engine) Statfs() (Statfs, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(e.dir, &st); err != nil {
		return Statfs{}, errs.Wrap(errs.IOError, "engine.Statfs", err)
	}
	used, err := e.fd.UsedBytes()
	if err != nil {
		return Statfs{}, err
	}
	return Statfs{
		TotalNodes: uint64(tree.MaxNodes),
		UsedNodes:  uint64(e.arr.LiveCount()),
		TotalBytes: uint64(st.Blocks) * uint64(st.Bsize),
		FreeBytes:  uint64(st.Bfree) * uint64(st.Bsize),
		UsedBytes:  used,
	}, nil
}
