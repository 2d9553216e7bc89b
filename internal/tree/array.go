package tree

import (
	"sync"

	"github.com/ncandio/razorfs/internal/errs"
)

// Array is the dense node array: index 0 is reserved for root, free slots
// are recycled from an embedded free list, and the backing slice grows by
// doubling up to MaxNodes.
//
// Array owns two parallel structures at the same index: the packed Node
// records (the persisted, cache-aligned representation) and a slice of
// per-node reader-writer locks (an in-memory-only runtime construct; it is
// never part of the on-disk format). allocMu is the global allocator lock:
// it guards freeHead and growth, and is never held while acquiring a node
// lock.
type Array struct {
	allocMu sync.Mutex // GUARDS freeHead, nodes slice length/cap, locks slice length/cap

	nodes []Node
	locks []*sync.RWMutex

	freeHead  uint16 // InvalidIndex if the free list is empty
	nextInode uint32 // monotonic counter; never reused even when a slot recycles
}

// NewArray returns an Array with only the root slot allocated.
func NewArray() *Array {
	a := &Array{
		freeHead:  InvalidIndex,
		nextInode: 1,
	}
	a.nodes = append(a.nodes, Node{})
	a.locks = append(a.locks, &sync.RWMutex{})
	root := &a.nodes[0]
	root.SetParent(InvalidIndex)
	root.SetType(TypeDirectory)
	root.SetInode(a.nextInode)
	a.nextInode++
	return a
}

// Len returns the current capacity of the backing array (live + free).
func (a *Array) Len() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return len(a.nodes)
}

// Node returns a pointer to the packed record at idx. The caller must hold
// the appropriate node lock (via Lock/RLock) before reading or writing
// through the returned pointer, except for the allocator itself during
// initialization.
func (a *Array) Node(idx uint16) *Node {
	return &a.nodes[idx]
}

// Lock returns the reader-writer lock guarding node idx.
func (a *Array) Lock(idx uint16) *sync.RWMutex {
	return a.locks[idx]
}

// Alloc carves a new node slot: first from the free list, then by growing
// the array. Returns the new index and a freshly assigned monotonic inode
// number (the index recycles; the inode number never does).
// LOCKS_REQUIRED: none (Alloc takes allocMu itself).
func (a *Array) Alloc() (idx uint16, inode uint32, err error) {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	inode = a.nextInode
	if a.freeHead != InvalidIndex {
		idx = a.freeHead
		a.freeHead = a.nodes[idx].freeNext()
		a.nodes[idx] = Node{}
		a.nextInode++
		return idx, inode, nil
	}

	if len(a.nodes) >= MaxNodes {
		return 0, 0, errs.New(errs.OutOfSpace, "tree.Array.Alloc", "node array at maximum capacity")
	}

	a.nodes = append(a.nodes, Node{})
	a.locks = append(a.locks, &sync.RWMutex{})
	idx = uint16(len(a.nodes) - 1)
	a.nextInode++
	return idx, inode, nil
}

// Free returns idx to the free list. LOCKS_REQUIRED: none (Free takes
// allocMu itself); the caller must already hold idx's write lock so no
// other goroutine observes the slot mid-transition, and must release that
// lock only after Free returns.
func (a *Array) Free(idx uint16) {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	a.nodes[idx] = Node{}
	a.nodes[idx].setFreeNext(a.freeHead)
	a.freeHead = idx
}

// NextInode returns the counter's current value without consuming it, for
// persistence headers and checkpoint snapshots.
func (a *Array) NextInode() uint32 {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return a.nextInode
}

// FreeHead returns the current free-list head, for persistence headers.
func (a *Array) FreeHead() uint16 {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return a.freeHead
}

// Snapshot returns a copy of every node record, in index order, for the
// persistence layer to write to nodes.dat at a checkpoint. The caller must
// ensure no mutation is in flight (the engine quiesces writers before
// checkpointing).
func (a *Array) Snapshot() []Node {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	out := make([]Node, len(a.nodes))
	copy(out, a.nodes)
	return out
}

// RestoreFromSnapshot replaces the array's contents with nodes (as read
// from nodes.dat) and resets the allocator counters, for attach-from-disk.
// It must be called before any operation runs against the Array.
func RestoreFromSnapshot(nodes []Node, nextInode uint32, freeHead uint16) *Array {
	a := &Array{
		nodes:     append([]Node(nil), nodes...),
		locks:     make([]*sync.RWMutex, len(nodes)),
		freeHead:  freeHead,
		nextInode: nextInode,
	}
	for i := range a.locks {
		a.locks[i] = &sync.RWMutex{}
	}
	return a
}

// ReserveForRecovery grows the array to include idx if the checkpoint
// snapshot didn't extend that far, and unlinks idx from the free list if a
// prior checkpoint had it recorded as free. Used only by the recovery
// package's redo phase, which re-creates nodes at the exact index recorded
// in the WAL rather than through the normal Alloc path.
func (a *Array) ReserveForRecovery(idx uint16, inode uint32) {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	for len(a.nodes) <= int(idx) {
		a.nodes = append(a.nodes, Node{})
		a.locks = append(a.locks, &sync.RWMutex{})
	}

	if a.freeHead == idx {
		a.freeHead = a.nodes[idx].freeNext()
	} else {
		for cur := a.freeHead; cur != InvalidIndex; {
			next := a.nodes[cur].freeNext()
			if next == idx {
				a.nodes[cur].setFreeNext(a.nodes[idx].freeNext())
				break
			}
			cur = next
		}
	}

	a.nodes[idx] = Node{}
	if inode >= a.nextInode {
		a.nextInode = inode + 1
	}
}

// ReleaseForRecovery returns idx to the free list, for the recovery
// package's redo of a DELETE record or undo of an INSERT record.
func (a *Array) ReleaseForRecovery(idx uint16) {
	a.Free(idx)
}

// LiveCount returns the number of allocated node slots currently in use
// (total slots minus the free list's length), for statfs-style reporting.
func (a *Array) LiveCount() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	free := 0
	for cur := a.freeHead; cur != InvalidIndex; cur = a.nodes[cur].freeNext() {
		free++
	}
	return len(a.nodes) - free
}
