package persist

import (
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/stringtable"
	"github.com/ncandio/razorfs/internal/tree"
)

const (
	nodesFileName   = "nodes.dat"
	stringsFileName = "strings.dat"
	lockFileName    = "razorfs.lock"
)

// mappedFile is a file whose contents are mirrored into process memory via
// mmap, msync'd explicitly at checkpoint boundaries rather than relying on
// the kernel's writeback schedule: ftruncate to the exact size, then
// syscall.Mmap with PROT_READ|PROT_WRITE, MAP_SHARED.
type mappedFile struct {
	f    *os.File
	data []byte
}

func createMapped(path string, size int64) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "persist.createMapped", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IOError, "persist.createMapped", err)
	}
	return mapOpenFile(f, size)
}

func openMapped(path string) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "persist.openMapped", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IOError, "persist.openMapped", err)
	}
	return mapOpenFile(f, info.Size())
}

func mapOpenFile(f *os.File, size int64) (*mappedFile, error) {
	if size == 0 {
		// syscall.Mmap rejects a zero-length mapping; callers never persist
		// an empty file (headers are always written first), but guard
		// anyway rather than letting Mmap return a confusing EINVAL.
		f.Close()
		return nil, errs.New(errs.Corruption, "persist.mapOpenFile", "empty file")
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IOError, "persist.mapOpenFile", err)
	}
	return &mappedFile{f: f, data: data}, nil
}

// remap grows the backing file to newSize and remaps it, used when a
// checkpoint's snapshot no longer fits the current mapping.
func (m *mappedFile) remap(newSize int64) error {
	if err := syscall.Munmap(m.data); err != nil {
		return errs.Wrap(errs.IOError, "persist.remap", err)
	}
	if err := m.f.Truncate(newSize); err != nil {
		return errs.Wrap(errs.IOError, "persist.remap", err)
	}
	data, err := syscall.Mmap(int(m.f.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return errs.Wrap(errs.IOError, "persist.remap", err)
	}
	m.data = data
	return nil
}

func (m *mappedFile) sync() error {
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return errs.Wrap(errs.IOError, "persist.mappedFile.sync", err)
	}
	return nil
}

func (m *mappedFile) close() error {
	if err := syscall.Munmap(m.data); err != nil {
		m.f.Close()
		return errs.Wrap(errs.IOError, "persist.mappedFile.close", err)
	}
	return errs.Wrap(errs.IOError, "persist.mappedFile.close", m.f.Close())
}

// Store owns the storage directory's exclusive lock and the two mmap'd
// files that hold the durable namespace-tree image.
type Store struct {
	dir     string
	lock    *Lockfile
	nodes   *mappedFile
	strings *mappedFile
	lastLSN uint64
}

// LastLSN returns the WAL sequence number current as of the last successful
// checkpoint (0 for a freshly initialized store). internal/recovery uses
// this as the boundary below which replayed records are already reflected
// in the attached snapshot.
func (s *Store) LastLSN() uint64 { return s.lastLSN }

// Init creates a fresh storage directory with an empty root-only tree.
func Init(dir string) (*Store, *tree.Array, *stringtable.Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, nil, errs.Wrap(errs.IOError, "persist.Init", err)
	}
	lock, err := AcquireLockfile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, nil, nil, err
	}

	arr := tree.NewArray()
	names := stringtable.New(0)

	s := &Store{dir: dir, lock: lock}
	if err := s.writeInitial(arr, names); err != nil {
		lock.Release()
		return nil, nil, nil, err
	}
	return s, arr, names, nil
}

func (s *Store) writeInitial(arr *tree.Array, names *stringtable.Table) error {
	nodeBytes := snapshotBytes(arr)
	nodesFile, err := createMapped(filepath.Join(s.dir, nodesFileName), int64(nodesHeaderSize+len(nodeBytes)))
	if err != nil {
		return err
	}
	copy(nodesFile.data, encodeNodesHeader(nodesHeader{
		Magic:     nodesFileMagic,
		Version:   formatVersion,
		NodeCount: uint32(arr.Len()),
		NextInode: arr.NextInode(),
		FreeHead:  arr.FreeHead(),
	}))
	copy(nodesFile.data[nodesHeaderSize:], nodeBytes)
	if err := nodesFile.sync(); err != nil {
		return err
	}
	s.nodes = nodesFile

	snap := names.Snapshot()
	stringsFile, err := createMapped(filepath.Join(s.dir, stringsFileName), int64(stringsHeaderSize+len(snap)))
	if err != nil {
		return err
	}
	copy(stringsFile.data, encodeStringsHeader())
	copy(stringsFile.data[stringsHeaderSize:], snap)
	if err := stringsFile.sync(); err != nil {
		return err
	}
	s.strings = stringsFile

	return writeManifest(s.dir, 0)
}

// Attach opens an existing storage directory and rebuilds the in-memory
// node array and string table from the mmap'd files.
func Attach(dir string) (*Store, *tree.Array, *stringtable.Table, error) {
	lock, err := AcquireLockfile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, nil, nil, err
	}

	nodesFile, err := openMapped(filepath.Join(dir, nodesFileName))
	if err != nil {
		lock.Release()
		return nil, nil, nil, err
	}
	hdr, err := decodeNodesHeader(nodesFile.data)
	if err != nil {
		nodesFile.close()
		lock.Release()
		return nil, nil, nil, err
	}
	nodes, err := decodeNodeRecords(nodesFile.data[nodesHeaderSize:], int(hdr.NodeCount))
	if err != nil {
		nodesFile.close()
		lock.Release()
		return nil, nil, nil, err
	}
	arr := tree.RestoreFromSnapshot(nodes, hdr.NextInode, hdr.FreeHead)

	stringsFile, err := openMapped(filepath.Join(dir, stringsFileName))
	if err != nil {
		nodesFile.close()
		lock.Release()
		return nil, nil, nil, err
	}
	if err := decodeStringsHeader(stringsFile.data); err != nil {
		stringsFile.close()
		nodesFile.close()
		lock.Release()
		return nil, nil, nil, err
	}
	names, err := stringtable.Attach(stringsFile.data[stringsHeaderSize:], 0)
	if err != nil {
		stringsFile.close()
		nodesFile.close()
		lock.Release()
		return nil, nil, nil, err
	}

	lastLSN := hdr.LastLSN
	if fromManifest, ok, err := readManifest(dir); err != nil {
		stringsFile.close()
		nodesFile.close()
		lock.Release()
		return nil, nil, nil, err
	} else if ok {
		lastLSN = fromManifest
	}

	s := &Store{dir: dir, lock: lock, nodes: nodesFile, strings: stringsFile, lastLSN: lastLSN}
	return s, arr, names, nil
}

// Checkpoint serializes the current array and string table into the
// mmap'd files and forces both durable with a single fan-out barrier
// (golang.org/x/sync/errgroup): after this call returns successfully,
// recovery needs only replay WAL records with an LSN greater than
// lastLSN.
func (s *Store) Checkpoint(arr *tree.Array, names *stringtable.Table, lastLSN uint64) error {
	var g errgroup.Group

	g.Go(func() error {
		nodeBytes := snapshotBytes(arr)
		need := int64(nodesHeaderSize + len(nodeBytes))
		if need > int64(len(s.nodes.data)) {
			if err := s.nodes.remap(need); err != nil {
				return err
			}
		}
		copy(s.nodes.data, encodeNodesHeader(nodesHeader{
			Magic:     nodesFileMagic,
			Version:   formatVersion,
			NodeCount: uint32(arr.Len()),
			NextInode: arr.NextInode(),
			FreeHead:  arr.FreeHead(),
			LastLSN:   lastLSN,
		}))
		copy(s.nodes.data[nodesHeaderSize:], nodeBytes)
		return s.nodes.sync()
	})

	g.Go(func() error {
		snap := names.Snapshot()
		need := int64(stringsHeaderSize + len(snap))
		if need > int64(len(s.strings.data)) {
			if err := s.strings.remap(need); err != nil {
				return err
			}
		}
		copy(s.strings.data, encodeStringsHeader())
		copy(s.strings.data[stringsHeaderSize:], snap)
		return s.strings.sync()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := writeManifest(s.dir, lastLSN); err != nil {
		return err
	}
	s.lastLSN = lastLSN
	return nil
}

// Close msyncs and unmaps both files and releases the storage directory's
// lock. The engine must have quiesced all mutation before calling Close.
func (s *Store) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(s.nodes.sync())
	record(s.strings.sync())
	record(s.nodes.close())
	record(s.strings.close())
	record(s.lock.Release())
	return firstErr
}

// snapshotBytes flattens arr's node records into one contiguous byte slice
// suitable for writing straight into the mmap'd region: Node is already a
// [64]byte array, so this is a sequence of raw copies, no encoding.
func snapshotBytes(arr *tree.Array) []byte {
	nodes := arr.Snapshot()
	out := make([]byte, len(nodes)*nodeRecordSize)
	for i := range nodes {
		copy(out[i*nodeRecordSize:], nodes[i][:])
	}
	return out
}

func decodeNodeRecords(buf []byte, count int) ([]tree.Node, error) {
	need := count * nodeRecordSize
	if len(buf) < need {
		return nil, errs.New(errs.Corruption, "persist.decodeNodeRecords", "truncated node records")
	}
	nodes := make([]tree.Node, count)
	for i := 0; i < count; i++ {
		copy(nodes[i][:], buf[i*nodeRecordSize:(i+1)*nodeRecordSize])
	}
	return nodes, nil
}

