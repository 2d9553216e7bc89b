package filedata

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/wal"
)

// blobFilePrefix names each inode's backing file file_<inode>, per the
// blob file's header (which also carries the inode, checked on open).
const blobFilePrefix = "file_"

// Store is the File-Data Store: one memory-mapped Blob per inode, with
// writes durable through the same WAL the namespace tree uses and, on top
// of that, a synchronous page flush on every committed write or truncate.
type Store struct {
	mu     sync.Mutex // GUARDS blobs: map membership only, not blob contents
	blobs  map[uint32]*Blob
	dir    string
	log    *wal.Log
	policy CompressionPolicy
}

// NewStore returns a Store rooted at dir, durable through log, applying
// policy at commit time.
func NewStore(dir string, log *wal.Log, policy CompressionPolicy) *Store {
	return &Store{
		blobs:  make(map[uint32]*Blob),
		dir:    dir,
		log:    log,
		policy: policy,
	}
}

func (s *Store) blobPath(inode uint32) string {
	return filepath.Join(s.dir, blobFilePrefix+strconv.FormatUint(uint64(inode), 10))
}

// getOrLoad returns the in-memory Blob for inode, mmapping it from disk on
// first access if a blob file already exists there. A blob with no file
// yet stays unmaterialized until the first Write or Truncate.
func (s *Store) getOrLoad(inode uint32) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[inode]; ok {
		return b, nil
	}

	b := newBlob(s.blobPath(inode), inode, s.policy)
	if _, err := os.Stat(b.path); err == nil {
		if err := b.openExisting(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.IOError, "filedata.getOrLoad", err)
	}
	s.blobs[inode] = b
	return b, nil
}

// Read copies up to len(p) bytes of inode's content starting at off.
func (s *Store) Read(inode uint32, p []byte, off uint64) (int, error) {
	b, err := s.getOrLoad(inode)
	if err != nil {
		return 0, err
	}
	return b.ReadAt(p, off)
}

// Write durably writes p at offset off in inode's blob: a WAL WRITE record
// carrying the prior bytes is committed before the mapped blob is mutated,
// so a crash between commit and mutation is redone from the log.
func (s *Store) Write(inode uint32, p []byte, off uint64) (uint64, error) {
	b, err := s.getOrLoad(inode)
	if err != nil {
		return 0, err
	}

	priorData, priorSize, err := b.peekPrior(off, len(p))
	if err != nil {
		return 0, err
	}
	newSize := off + uint64(len(p))
	if newSize < priorSize {
		newSize = priorSize
	}

	snapshot := make([]byte, len(p))
	copy(snapshot, p)

	txID, err := s.log.Begin()
	if err != nil {
		return 0, errs.Wrap(errs.IOError, "filedata.Write", err)
	}
	_, err = s.log.AppendWrite(txID, wal.WriteRecord{
		Inode:     inode,
		Offset:    off,
		NewData:   snapshot,
		PriorData: priorData,
		PriorSize: priorSize,
		NewSize:   newSize,
	})
	if err != nil {
		_ = s.log.Abort(txID)
		return 0, errs.Wrap(errs.IOError, "filedata.Write", err)
	}
	if err := s.log.Commit(txID); err != nil {
		return 0, errs.Wrap(errs.IOError, "filedata.Write", err)
	}

	if _, err := b.WriteAt(snapshot, off); err != nil {
		return 0, err
	}
	return newSize, nil
}

// Truncate resizes inode's blob, logging the prior size for undo.
func (s *Store) Truncate(inode uint32, size uint64) error {
	b, err := s.getOrLoad(inode)
	if err != nil {
		return err
	}

	txID, err := s.log.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "filedata.Truncate", err)
	}
	priorSize, err := b.Truncate(size)
	if err != nil {
		_ = s.log.Abort(txID)
		return err
	}
	_, err = s.log.AppendWrite(txID, wal.WriteRecord{
		Inode:      inode,
		Offset:     size,
		PriorSize:  priorSize,
		NewSize:    size,
		IsTruncate: true,
	})
	if err != nil {
		_ = s.log.Abort(txID)
		return errs.Wrap(errs.IOError, "filedata.Truncate", err)
	}
	return errs.Wrap(errs.IOError, "filedata.Truncate", s.log.Commit(txID))
}

// Size returns inode's current blob length.
func (s *Store) Size(inode uint32) (uint64, error) {
	b, err := s.getOrLoad(inode)
	if err != nil {
		return 0, err
	}
	return b.Size()
}

// Flush forces inode's blob durable. WriteAt/Truncate already commit and
// msync inline, so this is an idempotent extra barrier at checkpoint
// boundaries.
func (s *Store) Flush(inode uint32) error {
	b, err := s.getOrLoad(inode)
	if err != nil {
		return err
	}
	return b.flush()
}

// ApplyWriteRedo reapplies an already-WAL-logged write or truncate directly
// to inode's blob, bypassing the log itself. Used by internal/recovery's
// redo phase. A record with IsTruncate set (only Store.Truncate sets it) is
// a truncate; otherwise it is a byte-range write.
func (s *Store) ApplyWriteRedo(rec wal.WriteRecord) error {
	b, err := s.getOrLoad(rec.Inode)
	if err != nil {
		return err
	}
	if rec.IsTruncate {
		_, err = b.Truncate(rec.NewSize)
		return err
	}
	_, err = b.WriteAt(rec.NewData, rec.Offset)
	return err
}

// ApplyWriteUndo reverses a loser transaction's write or truncate using the
// prior bytes/size the record carries.
func (s *Store) ApplyWriteUndo(rec wal.WriteRecord) error {
	b, err := s.getOrLoad(rec.Inode)
	if err != nil {
		return err
	}
	if rec.IsTruncate {
		_, err = b.Truncate(rec.PriorSize)
		return err
	}
	return b.undoWriteAt(rec.PriorData, rec.Offset, rec.PriorSize)
}

// FlushAll flushes every currently loaded blob to disk. The engine calls
// this as part of Checkpoint: once a checkpoint records a boundary LSN,
// everything at or below it must already be durable outside the WAL, and
// that includes file content, not just the namespace tree's snapshot.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	inodes := make([]uint32, 0, len(s.blobs))
	for inode := range s.blobs {
		inodes = append(inodes, inode)
	}
	s.mu.Unlock()

	for _, inode := range inodes {
		if err := s.Flush(inode); err != nil {
			return err
		}
	}
	return nil
}

// UsedBytes returns a best-effort total of bytes stored across every
// inode: the live logical size for blobs already loaded, plus the on-disk
// blob-file size for inodes nothing has touched yet this session. Used by
// internal/engine's statfs usage figure.
func (s *Store) UsedBytes() (uint64, error) {
	s.mu.Lock()
	loaded := make(map[uint32]uint64, len(s.blobs))
	var total uint64
	for inode, b := range s.blobs {
		sz, err := b.Size()
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		loaded[inode] = sz
		total += sz
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return total, nil
		}
		return 0, errs.Wrap(errs.IOError, "filedata.UsedBytes", err)
	}
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasPrefix(name, blobFilePrefix) {
			continue
		}
		inode64, err := strconv.ParseUint(strings.TrimPrefix(name, blobFilePrefix), 10, 32)
		if err != nil {
			continue
		}
		if _, ok := loaded[uint32(inode64)]; ok {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		total += uint64(info.Size())
	}
	return total, nil
}

// Remove deletes inode's blob, unmapping it if loaded and removing its
// backing file.
func (s *Store) Remove(inode uint32) error {
	s.mu.Lock()
	b, ok := s.blobs[inode]
	delete(s.blobs, inode)
	s.mu.Unlock()

	if ok {
		if err := b.close(); err != nil {
			return err
		}
	}
	if err := os.Remove(s.blobPath(inode)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IOError, "filedata.Remove", err)
	}
	return nil
}

// Close unmaps and closes every loaded blob. The engine calls this during
// shutdown, after a final Checkpoint.
func (s *Store) Close() error {
	s.mu.Lock()
	blobs := make([]*Blob, 0, len(s.blobs))
	for _, b := range s.blobs {
		blobs = append(blobs, b)
	}
	s.mu.Unlock()

	var firstErr error
	for _, b := range blobs {
		if err := b.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
