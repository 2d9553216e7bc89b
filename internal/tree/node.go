// Package tree implements the namespace tree: a fixed-branching in-memory
// directory/inode tree of fixed-size 64-byte node records, each guarded by
// its own reader-writer lock, backed by the string table for names.
//
// GUARDED_BY annotations on fields and methods below document which lock
// a caller must hold, since Go's compiler cannot check that for us.
package tree

import (
	"encoding/binary"
	"fmt"
)

// Branching is the fixed maximum number of children a directory node may
// have. It is a documented constant, not a runtime-configurable value,
// because it is baked into the 64-byte on-disk Node layout (16 x uint16
// child-index slots).
const Branching = 16

// LinearThreshold is the child count at or below which LookupChild does a
// linear scan instead of a binary search: for Branching-sized arrays this
// small, a scan over the 32-byte packed child-index block is cheaper than a
// binary search once index and comparison overhead is accounted for.
const LinearThreshold = 8

// InvalidIndex is the sentinel parent/child index meaning "no such node":
// the root's parent, and every unused slot in a child array.
const InvalidIndex uint16 = 0xFFFF

// MaxNodes is the largest number of node slots (live plus free) a single
// NodeArray can hold: the persisted Node record packs parent and child
// indices into uint16 fields, which is a hard format constraint, not
// merely a sizing choice, and index 0xFFFF is reserved for InvalidIndex.
// See DESIGN.md for the 16-bit vs 32-bit index tradeoff.
const MaxNodes = 1<<16 - 1

// Node types, packed into the low 2 bits of the mode word.
type NodeType uint8

const (
	// TypeFree marks a slot on the free list; it is never a live node.
	TypeFree NodeType = 0
	// TypeDirectory is a directory node.
	TypeDirectory NodeType = 1
	// TypeRegular is a regular file node.
	TypeRegular NodeType = 2
	// TypeSymlink is a symbolic link node.
	TypeSymlink NodeType = 3
)

// nodeSize is asserted against the packed layout at package init so that a
// future edit that grows the record is caught immediately rather than
// silently corrupting the on-disk format.
const nodeSize = 64

// Field byte offsets within a Node's 64-byte packed record. This layout is
// the literal content of nodes.dat, so the offsets below are not an
// implementation detail to be refactored freely.
const (
	offInode      = 0  // uint32
	offParent     = 4  // uint16
	offPackedMode = 6  // uint16: bits 0-1 type, bits 2-10 permission, bits 11-15 child count
	offNameOffset = 8  // uint32
	offSize       = 12 // uint64
	offMtime      = 20 // uint32
	offUid        = 24 // uint32
	offGid        = 28 // uint32
	offChildren   = 32 // Branching x uint16 = 32 bytes
)

const (
	modeTypeMask       = 0x0003
	modePermShift      = 2
	modePermMask       = 0x01FF // 9 bits
	modeChildCntShift  = 11
	modeChildCntMask   = 0x001F // 5 bits, holds 0..Branching
	maxPermissionValue = 0x1FF
)

// Node is the fixed 64-byte on-disk record. It is
// represented as a flat byte array rather than a conventional Go struct so
// that its size and field layout are exactly what is asserted at startup
// and exactly what is written to nodes.dat — no compiler-inserted padding
// to reason about.
type Node [nodeSize]byte

func init() {
	var n Node
	if len(n) != 64 {
		panic(fmt.Sprintf("tree.Node must be 64 bytes, got %d", len(n)))
	}
}

// Inode returns the node's inode number. Never 0 for a live node.
func (n *Node) Inode() uint32 { return binary.LittleEndian.Uint32(n[offInode:]) }

// SetInode sets the node's inode number.
func (n *Node) SetInode(v uint32) { binary.LittleEndian.PutUint32(n[offInode:], v) }

// Parent returns the parent's index into the owning NodeArray, or
// InvalidIndex for the root.
func (n *Node) Parent() uint16 { return binary.LittleEndian.Uint16(n[offParent:]) }

// SetParent sets the parent index.
func (n *Node) SetParent(v uint16) { binary.LittleEndian.PutUint16(n[offParent:], v) }

func (n *Node) packedMode() uint16 { return binary.LittleEndian.Uint16(n[offPackedMode:]) }

func (n *Node) setPackedMode(v uint16) { binary.LittleEndian.PutUint16(n[offPackedMode:], v) }

// Type returns the node's type (free/directory/regular/symlink).
func (n *Node) Type() NodeType { return NodeType(n.packedMode() & modeTypeMask) }

// SetType sets the node's type, preserving permission and child count.
func (n *Node) SetType(t NodeType) {
	m := n.packedMode()
	m = (m &^ modeTypeMask) | uint16(t)&modeTypeMask
	n.setPackedMode(m)
}

// Perm returns the permission bits (9 bits: rwxrwxrwx).
func (n *Node) Perm() uint16 { return (n.packedMode() >> modePermShift) & modePermMask }

// SetPerm sets the permission bits, preserving type and child count.
func (n *Node) SetPerm(perm uint16) {
	if perm > maxPermissionValue {
		perm &= maxPermissionValue
	}
	m := n.packedMode()
	m = (m &^ (modePermMask << modePermShift)) | (perm&modePermMask)<<modePermShift
	n.setPackedMode(m)
}

// Mode returns the combined type+permission word, as exposed to callers
// through getattr.
func (n *Node) Mode() uint16 { return uint16(n.Type())<<9 | n.Perm() }

// ChildCount returns the number of live entries in the children array.
func (n *Node) ChildCount() uint8 {
	return uint8((n.packedMode() >> modeChildCntShift) & modeChildCntMask)
}

// setChildCount sets the number of live children, preserving type/perm.
func (n *Node) setChildCount(c uint8) {
	m := n.packedMode()
	m = (m &^ (modeChildCntMask << modeChildCntShift)) | (uint16(c)&modeChildCntMask)<<modeChildCntShift
	n.setPackedMode(m)
}

// NameOffset returns the node's name's offset into the string table.
func (n *Node) NameOffset() uint32 { return binary.LittleEndian.Uint32(n[offNameOffset:]) }

// SetNameOffset sets the node's name offset.
func (n *Node) SetNameOffset(v uint32) { binary.LittleEndian.PutUint32(n[offNameOffset:], v) }

// Size returns the node's logical size in bytes (0 for directories).
func (n *Node) Size() uint64 { return binary.LittleEndian.Uint64(n[offSize:]) }

// SetSize sets the node's logical size.
func (n *Node) SetSize(v uint64) { binary.LittleEndian.PutUint64(n[offSize:], v) }

// Mtime returns the node's modification time as a Unix timestamp (seconds).
func (n *Node) Mtime() uint32 { return binary.LittleEndian.Uint32(n[offMtime:]) }

// SetMtime sets the node's modification time.
func (n *Node) SetMtime(v uint32) { binary.LittleEndian.PutUint32(n[offMtime:], v) }

// Uid returns the node's owning uid.
func (n *Node) Uid() uint32 { return binary.LittleEndian.Uint32(n[offUid:]) }

// SetUid sets the node's owning uid.
func (n *Node) SetUid(v uint32) { binary.LittleEndian.PutUint32(n[offUid:], v) }

// Gid returns the node's owning gid.
func (n *Node) Gid() uint32 { return binary.LittleEndian.Uint32(n[offGid:]) }

// SetGid sets the node's owning gid.
func (n *Node) SetGid(v uint32) { binary.LittleEndian.PutUint32(n[offGid:], v) }

// ChildAt returns the index stored in child slot i (0 <= i < Branching).
// Slots at or beyond ChildCount() hold InvalidIndex or stale data and must
// not be treated as live.
func (n *Node) ChildAt(i int) uint16 {
	off := offChildren + i*2
	return binary.LittleEndian.Uint16(n[off:])
}

func (n *Node) setChildAt(i int, v uint16) {
	off := offChildren + i*2
	binary.LittleEndian.PutUint16(n[off:], v)
}

// Children returns a copy of the live child indices, in sorted-by-name
// order (the order they are stored in).
func (n *Node) Children() []uint16 {
	cnt := int(n.ChildCount())
	out := make([]uint16, cnt)
	for i := 0; i < cnt; i++ {
		out[i] = n.ChildAt(i)
	}
	return out
}

// insertChildAt shifts slots [at, count) right by one and writes idx at
// at, growing the count. REQUIRES: count < Branching.
func (n *Node) insertChildAt(at int, idx uint16) {
	cnt := int(n.ChildCount())
	for i := cnt; i > at; i-- {
		n.setChildAt(i, n.ChildAt(i-1))
	}
	n.setChildAt(at, idx)
	n.setChildCount(uint8(cnt + 1))
}

// removeChildAt shifts slots (at, count) left by one, shrinking the count.
func (n *Node) removeChildAt(at int) {
	cnt := int(n.ChildCount())
	for i := at; i < cnt-1; i++ {
		n.setChildAt(i, n.ChildAt(i+1))
	}
	n.setChildAt(cnt-1, InvalidIndex)
	n.setChildCount(uint8(cnt - 1))
}

// freeNext returns the embedded free-list link for a node currently on the
// free list: it reuses the parent field, since a free node has no parent.
// LOCKS_REQUIRED: allocator lock.
func (n *Node) freeNext() uint16 { return n.Parent() }

func (n *Node) setFreeNext(v uint16) { n.SetParent(v) }
