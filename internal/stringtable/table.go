// Package stringtable implements the engine's name-interning pool: an
// append-only byte buffer of NUL-terminated names, deduplicated by content
// through an open-addressed hash table keyed on xxhash of the bytes.
//
// A Table is not safe for concurrent use beyond what its own single writer
// lock (mu) provides: Intern takes the lock for the whole operation; Get is
// safe to call concurrently with other Gets once an offset is known to be
// committed, but GUARDED_BY(mu) documents the one place that matters — the
// append position must never be observed mid-grow.
package stringtable

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ncandio/razorfs/internal/errs"
)

// MaxNameLength is the longest name (in bytes, excluding the NUL terminator)
// the table will intern. Boundary: 255 is accepted, 256 is InvalidPath.
const MaxNameLength = 255

const initialBucketCount = 1 << 10 // must be a power of two

// Table is the append-only string pool. The zero value is not usable; use
// New or Attach.
type Table struct {
	mu sync.Mutex // single writer lock: Intern holds it for the whole call, whether the hash lookup hits or misses

	buf  []byte // NUL-terminated names, back to back; buf[:used] is live
	used uint32

	buckets []int32 // open-addressed hash table; value is offset+1, 0 means empty
	live    int     // number of occupied buckets, for grow-factor bookkeeping

	maxBytes uint32 // configured cap on the backing buffer; 0 means unbounded
}

// New returns an empty Table. maxBytes bounds the backing buffer; Intern
// returns OutOfSpace once growing past it would be required. Pass 0 for no
// bound beyond the uint32 offset space.
func New(maxBytes uint32) *Table {
	return &Table{
		buckets:  make([]int32, initialBucketCount),
		maxBytes: maxBytes,
	}
}

// Attach rebuilds a Table from a persisted buffer: the first four bytes are
// the little-endian used-length, the rest is the NUL-terminated name data.
// This mirrors the Persistence Layer's strings.dat format.
func Attach(raw []byte, maxBytes uint32) (*Table, error) {
	if len(raw) < 4 {
		return nil, errs.New(errs.Corruption, "stringtable.Attach", "truncated header")
	}
	used := binary.LittleEndian.Uint32(raw[:4])
	body := raw[4:]
	if uint64(used) > uint64(len(body)) {
		return nil, errs.New(errs.Corruption, "stringtable.Attach", "used length exceeds buffer")
	}

	t := &Table{
		buf:      append([]byte(nil), body[:used]...),
		used:     used,
		buckets:  make([]int32, bucketCountFor(used)),
		maxBytes: maxBytes,
	}

	// Rebuild the hash index by scanning NUL-terminated strings from offset 0.
	var off uint32
	for off < used {
		end := off
		for end < used && t.buf[end] != 0 {
			end++
		}
		if end >= used {
			return nil, errs.New(errs.Corruption, "stringtable.Attach", "unterminated name at tail")
		}
		t.insertIndex(t.buf[off:end], off)
		off = end + 1
	}

	return t, nil
}

func bucketCountFor(used uint32) int {
	n := initialBucketCount
	for uint32(n) < used {
		n *= 2
	}
	return n
}

// Snapshot returns the on-disk representation: a 4-byte used-length header
// followed by the live bytes of the buffer. The caller owns the result.
func (t *Table) Snapshot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]byte, 4+t.used)
	binary.LittleEndian.PutUint32(out[:4], t.used)
	copy(out[4:], t.buf[:t.used])
	return out
}

// Intern returns a stable offset for name, reusing an existing offset if an
// identical byte sequence was interned before.
func (t *Table) Intern(name []byte) (uint32, error) {
	if len(name) == 0 || len(name) > MaxNameLength {
		return 0, errs.New(errs.InvalidPath, "stringtable.Intern", fmt.Sprintf("length %d", len(name)))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if off, ok := t.lookup(name); ok {
		return off, nil
	}

	needed := uint32(len(name)) + 1
	if t.maxBytes != 0 && t.used+needed > t.maxBytes {
		return 0, errs.New(errs.OutOfSpace, "stringtable.Intern", "backing buffer at capacity")
	}

	off := t.used
	t.buf = append(t.buf, name...)
	t.buf = append(t.buf, 0)
	t.used += needed

	t.insertIndex(name, off)
	return off, nil
}

// Get returns the bytes of the name stored at offset, without its NUL
// terminator.
func (t *Table) Get(offset uint32) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset >= t.used {
		return nil, errs.New(errs.Corruption, "stringtable.Get", "offset out of range")
	}
	end := offset
	for end < t.used && t.buf[end] != 0 {
		end++
	}
	if end >= t.used {
		return nil, errs.New(errs.Corruption, "stringtable.Get", "unterminated name")
	}
	return t.buf[offset:end], nil
}

// lookup searches the open-addressed table for name, returning its offset
// if present. LOCKS_REQUIRED(t.mu).
func (t *Table) lookup(name []byte) (uint32, bool) {
	mask := uint32(len(t.buckets) - 1)
	h := uint32(xxhash.Sum64(name))
	for i := h & mask; ; i = (i + 1) & mask {
		slot := t.buckets[i]
		if slot == 0 {
			return 0, false
		}
		off := uint32(slot - 1)
		if t.nameAt(off, name) {
			return off, true
		}
	}
}

// nameAt reports whether the NUL-terminated string starting at off equals
// name, without allocating. LOCKS_REQUIRED(t.mu).
func (t *Table) nameAt(off uint32, name []byte) bool {
	end := off + uint32(len(name))
	if end > t.used || t.buf[end] != 0 {
		return false
	}
	for i, b := range name {
		if t.buf[off+uint32(i)] != b {
			return false
		}
	}
	return true
}

// insertIndex grows the bucket array if load factor would exceed 0.7, then
// inserts name -> off. LOCKS_REQUIRED(t.mu).
func (t *Table) insertIndex(name []byte, off uint32) {
	if (t.live+1)*10 >= len(t.buckets)*7 {
		t.rehash(len(t.buckets) * 2)
	}

	mask := uint32(len(t.buckets) - 1)
	h := uint32(xxhash.Sum64(name))
	for i := h & mask; ; i = (i + 1) & mask {
		if t.buckets[i] == 0 {
			t.buckets[i] = int32(off) + 1
			t.live++
			return
		}
	}
}

// rehash rebuilds the bucket array at the given size by rescanning the
// buffer for live names. LOCKS_REQUIRED(t.mu).
func (t *Table) rehash(newSize int) {
	old := t.buckets
	t.buckets = make([]int32, newSize)
	t.live = 0
	mask := uint32(newSize - 1)

	for _, slot := range old {
		if slot == 0 {
			continue
		}
		off := uint32(slot - 1)
		end := off
		for end < t.used && t.buf[end] != 0 {
			end++
		}
		name := t.buf[off:end]
		h := uint32(xxhash.Sum64(name))
		for i := h & mask; ; i = (i + 1) & mask {
			if t.buckets[i] == 0 {
				t.buckets[i] = int32(off) + 1
				t.live++
				break
			}
		}
	}
}
