// Package filedata is the File-Data Store: one memory-mapped file_<inode>
// blob file per inode, compressed per policy at commit time, with every
// committed Write or Truncate finishing with a synchronous page flush
// before it returns.
package filedata

import (
	"encoding/binary"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ncandio/razorfs/internal/errs"
)

// blobMagic identifies a file_<inode> blob file ("FILE").
const blobMagic = uint32(0x46494C45)

// blobHeaderSize is the fixed header every blob file opens with: magic,
// owning inode, logical (uncompressed) size, stored (on-disk) size, and a
// compressed flag. Invariant: a loaded blob's header inode field always
// equals the inode its Store entry is keyed by.
const blobHeaderSize = 28

type blobHeader struct {
	Magic      uint32
	Inode      uint32
	Logical    uint64
	Stored     uint64
	Compressed uint32
}

func encodeBlobHeader(h blobHeader) []byte {
	b := make([]byte, blobHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Inode)
	binary.LittleEndian.PutUint64(b[8:16], h.Logical)
	binary.LittleEndian.PutUint64(b[16:24], h.Stored)
	binary.LittleEndian.PutUint32(b[24:28], h.Compressed)
	return b
}

func decodeBlobHeader(b []byte) (blobHeader, error) {
	if len(b) < blobHeaderSize {
		return blobHeader{}, errShortBlobFile
	}
	h := blobHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Inode:      binary.LittleEndian.Uint32(b[4:8]),
		Logical:    binary.LittleEndian.Uint64(b[8:16]),
		Stored:     binary.LittleEndian.Uint64(b[16:24]),
		Compressed: binary.LittleEndian.Uint32(b[24:28]),
	}
	if h.Magic != blobMagic {
		return blobHeader{}, errs.New(errs.Corruption, "filedata.decodeBlobHeader", "bad magic")
	}
	return h, nil
}

// Blob holds one inode's file content, memory-mapped from its file_<inode>
// backing file once first written. Reads and writes decompress the mapped
// stored bytes into a logical-size scratch buffer, mutate the buffer, and
// (for writes) recompress and recommit it into the mapping — per policy,
// not unconditionally.
//
// A Blob that has never been written stays unmaterialized: f and data are
// nil, and ReadAt/Size simply report zero length without touching disk.
type Blob struct {
	mu     sync.RWMutex
	inode  uint32
	path   string
	policy CompressionPolicy

	f    *os.File
	data []byte
}

func newBlob(path string, inode uint32, policy CompressionPolicy) *Blob {
	return &Blob{path: path, inode: inode, policy: policy}
}

// openExisting mmaps an already-on-disk blob file and validates its header,
// catching a blob opened against the wrong path immediately rather than
// silently misinterpreting its bytes.
func (b *Blob) openExisting() error {
	f, err := os.OpenFile(b.path, os.O_RDWR, 0o644)
	if err != nil {
		return errs.Wrap(errs.IOError, "filedata.Blob.openExisting", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errs.Wrap(errs.IOError, "filedata.Blob.openExisting", err)
	}
	data, err := mmapFile(f, info.Size())
	if err != nil {
		f.Close()
		return err
	}
	hdr, err := decodeBlobHeader(data)
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return err
	}
	if hdr.Inode != b.inode {
		syscall.Munmap(data)
		f.Close()
		return errs.New(errs.Corruption, "filedata.Blob.openExisting", "inode mismatch")
	}
	b.f = f
	b.data = data
	return nil
}

// materialize creates and mmaps the backing file on first write, leaving a
// blob that has only ever been read unmapped.
func (b *Blob) materialize() error {
	if b.f != nil {
		return nil
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errs.Wrap(errs.IOError, "filedata.Blob.materialize", err)
	}
	if err := f.Truncate(int64(blobHeaderSize)); err != nil {
		f.Close()
		return errs.Wrap(errs.IOError, "filedata.Blob.materialize", err)
	}
	data, err := mmapFile(f, int64(blobHeaderSize))
	if err != nil {
		f.Close()
		return err
	}
	b.f = f
	b.data = data
	copy(b.data, encodeBlobHeader(blobHeader{Magic: blobMagic, Inode: b.inode}))
	return nil
}

func mmapFile(f *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, errs.New(errs.Corruption, "filedata.mmapFile", "empty file")
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "filedata.mmapFile", err)
	}
	return data, nil
}

// remap grows or shrinks the backing file to exactly newSize (header plus
// stored bytes) and remaps it: Munmap, truncate, Mmap.
func (b *Blob) remap(newSize int64) error {
	if err := syscall.Munmap(b.data); err != nil {
		return errs.Wrap(errs.IOError, "filedata.Blob.remap", err)
	}
	if err := b.f.Truncate(newSize); err != nil {
		return errs.Wrap(errs.IOError, "filedata.Blob.remap", err)
	}
	data, err := syscall.Mmap(int(b.f.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return errs.Wrap(errs.IOError, "filedata.Blob.remap", err)
	}
	b.data = data
	return nil
}

func (b *Blob) sync() error {
	if err := unix.Msync(b.data, unix.MS_SYNC); err != nil {
		return errs.Wrap(errs.IOError, "filedata.Blob.sync", err)
	}
	return nil
}

func (b *Blob) close() error {
	if b.f == nil {
		return nil
	}
	if err := syscall.Munmap(b.data); err != nil {
		b.f.Close()
		return errs.Wrap(errs.IOError, "filedata.Blob.close", err)
	}
	return errs.Wrap(errs.IOError, "filedata.Blob.close", b.f.Close())
}

// decodedLocked decompresses the mapping's current stored bytes into a
// logical-size buffer. Callers must hold at least RLock. An unmaterialized
// blob decodes to a nil (zero-length) buffer.
func (b *Blob) decodedLocked() ([]byte, error) {
	if b.data == nil {
		return nil, nil
	}
	hdr, err := decodeBlobHeader(b.data)
	if err != nil {
		return nil, err
	}
	stored := b.data[blobHeaderSize : uint64(blobHeaderSize)+hdr.Stored]
	out, err := decompressFromDisk(stored, hdr.Compressed != 0)
	if err != nil {
		return nil, errs.Wrap(errs.Corruption, "filedata.Blob.decodedLocked", err)
	}
	if uint64(len(out)) != hdr.Logical {
		return nil, errs.New(errs.Corruption, "filedata.Blob.decodedLocked", "length mismatch after decompress")
	}
	return out, nil
}

// commitLocked re-encodes data (the blob's full logical content) into the
// mapping, remapping the backing file if the stored size changed, and
// issues a synchronous durability barrier before returning. Callers must
// hold Lock and have already called materialize.
func (b *Blob) commitLocked(data []byte) error {
	payload, compressed := compressForFlush(data, b.policy)
	need := int64(blobHeaderSize) + int64(len(payload))
	if need != int64(len(b.data)) {
		if err := b.remap(need); err != nil {
			return err
		}
	}
	var compressedFlag uint32
	if compressed {
		compressedFlag = 1
	}
	copy(b.data, encodeBlobHeader(blobHeader{
		Magic:      blobMagic,
		Inode:      b.inode,
		Logical:    uint64(len(data)),
		Stored:     uint64(len(payload)),
		Compressed: compressedFlag,
	}))
	copy(b.data[blobHeaderSize:], payload)
	return b.sync()
}

// ReadAt copies up to len(p) bytes starting at off into p, returning the
// number of bytes copied. Reading past the end of the blob returns 0, nil
// (callers treat a short read at EOF as a FUSE short read, not an error).
func (b *Blob) ReadAt(p []byte, off uint64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := b.decodedLocked()
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(data)) {
		return 0, nil
	}
	n := copy(p, data[off:])
	return n, nil
}

// peekPrior returns the bytes currently occupying [off, off+n) (zero-padded
// past the current end) and the blob's current size, without mutating
// anything. Used to build a WAL record's undo payload before the write is
// applied, so the log always reflects the write-ahead order.
func (b *Blob) peekPrior(off uint64, n int) (priorData []byte, priorSize uint64, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := b.decodedLocked()
	if err != nil {
		return nil, 0, err
	}
	priorSize = uint64(len(data))
	priorData = make([]byte, n)
	end := off + uint64(n)
	if off < priorSize {
		copyEnd := end
		if copyEnd > priorSize {
			copyEnd = priorSize
		}
		copy(priorData, data[off:copyEnd])
	}
	return priorData, priorSize, nil
}

// WriteAt writes p at offset off, growing the blob (zero-filling any gap)
// if needed, recompresses and recommits the full content, and returns the
// blob's size after the write. Callers that need the prior bytes for a WAL
// undo record must call peekPrior first: WriteAt itself does not report
// what it overwrote, to avoid computing it twice.
func (b *Blob) WriteAt(p []byte, off uint64) (newSize uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.materialize(); err != nil {
		return 0, err
	}
	data, err := b.decodedLocked()
	if err != nil {
		return 0, err
	}
	end := off + uint64(len(p))
	if end > uint64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[off:end], p)

	if err := b.commitLocked(data); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// undoWriteAt reverses a WriteAt using the prior bytes and size captured at
// write time, used by internal/recovery's Undo phase.
func (b *Blob) undoWriteAt(priorData []byte, off, priorSize uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return nil
	}
	data, err := b.decodedLocked()
	if err != nil {
		return err
	}
	if priorSize < uint64(len(data)) {
		data = data[:priorSize]
	}
	if off < uint64(len(data)) {
		copy(data[off:], priorData)
	}
	return b.commitLocked(data)
}

// Truncate sets the blob's size, zero-extending on growth and discarding
// the tail on shrink. Returns the prior size for the caller's WAL record.
func (b *Blob) Truncate(size uint64) (priorSize uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.materialize(); err != nil {
		return 0, err
	}
	data, err := b.decodedLocked()
	if err != nil {
		return 0, err
	}
	priorSize = uint64(len(data))
	switch {
	case size < priorSize:
		data = data[:size]
	case size > priorSize:
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
	}
	if err := b.commitLocked(data); err != nil {
		return 0, err
	}
	return priorSize, nil
}

// Size returns the blob's current logical length.
func (b *Blob) Size() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, err := b.decodedLocked()
	if err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// flush issues an idempotent extra durability barrier: WriteAt/Truncate
// already commit and msync on every call, so this only does real work for
// a blob whose mapping somehow predates this barrier (never the case in
// practice, but cheap to keep as Store.Flush/FlushAll's contract).
func (b *Blob) flush() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return nil
	}
	return b.sync()
}

var errShortBlobFile = errs.New(errs.Corruption, "filedata.Blob", "truncated blob file")
