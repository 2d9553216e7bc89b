package tree

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/stringtable"
)

// StringTable is the narrow view of the string interning pool the Tree
// Store needs. internal/stringtable.Table satisfies it.
type StringTable interface {
	Intern(name []byte) (uint32, error)
	Get(offset uint32) ([]byte, error)
}

// DirEntry is one row of a List result: the interned name, live inode
// number and combined type+permission mode of a child.
type DirEntry struct {
	Name  string
	Inode uint32
	Mode  uint16
}

// Store is the namespace tree: a dense Node array addressed by path, with
// every mutation mirrored to a WAL before it becomes visible.
type Store struct {
	arr   *Array
	names StringTable
	wal   WAL
	clk   clock.Clock
}

// NewStore builds a Store over an already-initialized Array (root at index
// 0), a string table, and a WAL sink.
func NewStore(arr *Array, names StringTable, wal WAL, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{arr: arr, names: names, wal: wal, clk: clk}
}

// RootIndex is the fixed index of the root directory node.
const RootIndex uint16 = 0

// validateComponent rejects empty, oversized, "."/"..", or NUL/'/'-bearing
// path components.
func validateComponent(comp string) error {
	if comp == "" {
		return errs.New(errs.InvalidPath, "tree.validateComponent", "empty component")
	}
	if comp == "." || comp == ".." {
		return errs.New(errs.InvalidPath, "tree.validateComponent", comp)
	}
	if len(comp) > stringtable.MaxNameLength {
		return errs.New(errs.InvalidPath, "tree.validateComponent", "name too long")
	}
	if strings.ContainsRune(comp, '/') || strings.ContainsRune(comp, 0) {
		return errs.New(errs.InvalidPath, "tree.validateComponent", "illegal byte in name")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// findChildLocked searches parent's sorted child array for name, using a
// linear scan at or below LinearThreshold and a binary search above it.
// LOCKS_REQUIRED: at least a read lock on the node backing parent.
func (s *Store) findChildLocked(parent *Node, name []byte) (pos int, childIdx uint16, found bool, err error) {
	cnt := int(parent.ChildCount())

	nameAt := func(i int) ([]byte, error) {
		idx := parent.ChildAt(i)
		child := s.arr.Node(idx)
		return s.names.Get(child.NameOffset())
	}

	if cnt <= LinearThreshold {
		for i := 0; i < cnt; i++ {
			n, e := nameAt(i)
			if e != nil {
				return 0, 0, false, errs.Wrap(errs.Corruption, "tree.findChild", e)
			}
			switch bytes.Compare(n, name) {
			case 0:
				return i, parent.ChildAt(i), true, nil
			case 1:
				return i, 0, false, nil
			}
		}
		return cnt, 0, false, nil
	}

	lo, hi := 0, cnt
	for lo < hi {
		mid := (lo + hi) / 2
		n, e := nameAt(mid)
		if e != nil {
			return 0, 0, false, errs.Wrap(errs.Corruption, "tree.findChild", e)
		}
		switch bytes.Compare(n, name) {
		case 0:
			return mid, parent.ChildAt(mid), true, nil
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, 0, false, nil
}

// PathResolve walks path from the root, one component at a time: each hop
// holds only the parent's read lock while it searches, releasing it before
// acquiring the child's lock for the next hop. Returns RootIndex for "" or
// "/".
func (s *Store) PathResolve(path string) (uint16, error) {
	comps := splitPath(path)
	cur := RootIndex

	for _, comp := range comps {
		if err := validateComponent(comp); err != nil {
			return 0, err
		}

		lock := s.arr.Lock(cur)
		lock.RLock()
		node := s.arr.Node(cur)
		if node.Type() != TypeDirectory {
			lock.RUnlock()
			return 0, errs.New(errs.NotDirectory, "tree.PathResolve", comp)
		}
		_, childIdx, found, err := s.findChildLocked(node, []byte(comp))
		lock.RUnlock()
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, errs.New(errs.NotFound, "tree.PathResolve", path)
		}
		cur = childIdx
	}
	return cur, nil
}

// lockAscendingWrite write-locks the distinct node indices in ascending
// order, the mandatory ordering for locks that are not in a fixed
// parent-before-child relationship (e.g. two unrelated directories in a
// cross-directory rename). It returns an unlock function.
func lockAscendingWrite(arr *Array, indices ...uint16) func() {
	uniq := make([]uint16, 0, len(indices))
	seen := make(map[uint16]bool, len(indices))
	for _, idx := range indices {
		if !seen[idx] {
			seen[idx] = true
			uniq = append(uniq, idx)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	locks := make([]*sync.RWMutex, len(uniq))
	for i, idx := range uniq {
		locks[i] = arr.Lock(idx)
		locks[i].Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// Insert creates a new child named name under parentIdx and emits the
// corresponding WAL record before the node becomes visible in the parent's
// child array.
func (s *Store) Insert(parentIdx uint16, name string, typ NodeType, perm uint16, uid, gid uint32, caller Caller) (uint16, error) {
	if err := validateComponent(name); err != nil {
		return 0, err
	}

	pLock := s.arr.Lock(parentIdx)
	pLock.Lock()
	defer pLock.Unlock()

	parent := s.arr.Node(parentIdx)
	if parent.Type() != TypeDirectory {
		return 0, errs.New(errs.NotDirectory, "tree.Insert", name)
	}
	if !CanWrite(parent, caller) {
		return 0, errs.New(errs.PermissionDenied, "tree.Insert", name)
	}
	if int(parent.ChildCount()) >= Branching {
		return 0, errs.New(errs.OutOfSpace, "tree.Insert", "directory at branching limit")
	}

	pos, _, found, err := s.findChildLocked(parent, []byte(name))
	if err != nil {
		return 0, err
	}
	if found {
		return 0, errs.New(errs.Exists, "tree.Insert", name)
	}

	nameOff, err := s.names.Intern([]byte(name))
	if err != nil {
		return 0, err
	}

	idx, inode, err := s.arr.Alloc()
	if err != nil {
		return 0, err
	}

	txID, err := s.wal.Begin()
	if err != nil {
		s.arr.Free(idx)
		return 0, errs.Wrap(errs.IOError, "tree.Insert", err)
	}
	_, err = s.wal.AppendInsert(txID, InsertRecord{
		ParentIdx:   parentIdx,
		Name:        []byte(name),
		NameOffset:  nameOff,
		Mode:        uint16(typ)<<9 | perm,
		Uid:         uid,
		Gid:         gid,
		NewNodeIdx:  idx,
		AssignedIno: inode,
	})
	if err != nil {
		_ = s.wal.Abort(txID)
		s.arr.Free(idx)
		return 0, errs.Wrap(errs.IOError, "tree.Insert", err)
	}

	child := s.arr.Node(idx)
	child.SetInode(inode)
	child.SetParent(parentIdx)
	child.SetType(typ)
	child.SetPerm(perm)
	child.SetUid(uid)
	child.SetGid(gid)
	child.SetNameOffset(nameOff)
	child.SetMtime(uint32(s.clk.Now().Unix()))

	parent.insertChildAt(pos, idx)

	if err := s.wal.Commit(txID); err != nil {
		return 0, errs.Wrap(errs.IOError, "tree.Insert", err)
	}
	return idx, nil
}

// Delete removes the child named name from parentIdx. Directories must be
// empty, or the operation fails with a NotEmpty error. Locks are acquired
// parent-before-child: safe without index comparison because no other
// operation ever acquires this specific parent/child pair in the opposite
// order (a node's own lock is only ever taken alongside its parent's,
// never alongside an unrelated directory's, so the global ascending-index
// rule — needed to prevent deadlock between two operations that could
// request the same pair in either order — does not bind here). See
// DESIGN.md.
func (s *Store) Delete(parentIdx uint16, name string, caller Caller) error {
	if err := validateComponent(name); err != nil {
		return err
	}

	pLock := s.arr.Lock(parentIdx)
	pLock.Lock()
	defer pLock.Unlock()

	parent := s.arr.Node(parentIdx)
	if parent.Type() != TypeDirectory {
		return errs.New(errs.NotDirectory, "tree.Delete", name)
	}
	if !CanWrite(parent, caller) {
		return errs.New(errs.PermissionDenied, "tree.Delete", name)
	}

	pos, childIdx, found, err := s.findChildLocked(parent, []byte(name))
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.NotFound, "tree.Delete", name)
	}

	cLock := s.arr.Lock(childIdx)
	cLock.Lock()
	defer cLock.Unlock()

	child := s.arr.Node(childIdx)
	if child.Type() == TypeDirectory && child.ChildCount() > 0 {
		return errs.New(errs.NotEmpty, "tree.Delete", name)
	}

	txID, err := s.wal.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "tree.Delete", err)
	}
	_, err = s.wal.AppendDelete(txID, DeleteRecord{
		ParentIdx:      parentIdx,
		NodeIdx:        childIdx,
		PriorNameOff:   child.NameOffset(),
		PriorMode:      child.Mode(),
		PriorSize:      child.Size(),
		PriorInode:     child.Inode(),
		PriorParentIdx: child.Parent(),
	})
	if err != nil {
		_ = s.wal.Abort(txID)
		return errs.Wrap(errs.IOError, "tree.Delete", err)
	}

	parent.removeChildAt(pos)
	s.arr.Free(childIdx)

	if err := s.wal.Commit(txID); err != nil {
		return errs.Wrap(errs.IOError, "tree.Delete", err)
	}
	return nil
}

// Rename moves or renames a child, optionally across directories. Lock
// acquisition: when oldParentIdx != newParentIdx, both parents are
// write-locked in ascending index order first (the mandatory rule for two
// directories with no fixed relationship), then the moved child's own
// lock is taken (always safe alongside its current parent's lock).
func (s *Store) Rename(oldParentIdx uint16, oldName string, newParentIdx uint16, newName string, caller Caller) error {
	if err := validateComponent(oldName); err != nil {
		return err
	}
	if err := validateComponent(newName); err != nil {
		return err
	}

	var unlock func()
	if oldParentIdx == newParentIdx {
		l := s.arr.Lock(oldParentIdx)
		l.Lock()
		unlock = l.Unlock
	} else {
		unlock = lockAscendingWrite(s.arr, oldParentIdx, newParentIdx)
	}
	defer unlock()

	oldParent := s.arr.Node(oldParentIdx)
	newParent := s.arr.Node(newParentIdx)
	if oldParent.Type() != TypeDirectory || newParent.Type() != TypeDirectory {
		return errs.New(errs.NotDirectory, "tree.Rename", oldName)
	}
	if !CanWrite(oldParent, caller) || !CanWrite(newParent, caller) {
		return errs.New(errs.PermissionDenied, "tree.Rename", oldName)
	}

	oldPos, childIdx, found, err := s.findChildLocked(oldParent, []byte(oldName))
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.NotFound, "tree.Rename", oldName)
	}

	newPos, existingIdx, clobberFound, err := s.findChildLocked(newParent, []byte(newName))
	if err != nil {
		return err
	}
	if clobberFound && existingIdx != childIdx {
		existing := s.arr.Node(existingIdx)
		if existing.Type() == TypeDirectory && existing.ChildCount() > 0 {
			return errs.New(errs.NotEmpty, "tree.Rename", newName)
		}
	}

	cLock := s.arr.Lock(childIdx)
	cLock.Lock()
	defer cLock.Unlock()
	child := s.arr.Node(childIdx)

	oldNameOff := child.NameOffset()
	newNameOff := oldNameOff
	if newName != oldName {
		newNameOff, err = s.names.Intern([]byte(newName))
		if err != nil {
			return err
		}
	}

	rec := RenameRecord{
		OldParentIdx:  oldParentIdx,
		NewParentIdx:  newParentIdx,
		OldNameOffset: oldNameOff,
		NewNameOffset: newNameOff,
		NewName:       []byte(newName),
		NodeIdx:       childIdx,
	}
	if clobberFound && existingIdx != childIdx {
		existing := s.arr.Node(existingIdx)
		rec.Clobbered = true
		rec.ClobberedIdx = existingIdx
		rec.ClobberedPriorNameOff = existing.NameOffset()
		rec.ClobberedPriorMode = existing.Mode()
		rec.ClobberedPriorSize = existing.Size()
		rec.ClobberedPriorInode = existing.Inode()
	}

	txID, err := s.wal.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "tree.Rename", err)
	}
	_, err = s.wal.AppendRename(txID, rec)
	if err != nil {
		_ = s.wal.Abort(txID)
		return errs.Wrap(errs.IOError, "tree.Rename", err)
	}

	if clobberFound && existingIdx != childIdx {
		newParent.removeChildAt(newPos)
		s.arr.Free(existingIdx)
		// recompute the insertion point now that the clobbered slot is gone
		newPos, _, _, err = s.findChildLocked(newParent, []byte(newName))
		if err != nil {
			return errs.Wrap(errs.Corruption, "tree.Rename", err)
		}
	}

	oldParent.removeChildAt(oldPos)
	if oldParentIdx == newParentIdx && newPos > oldPos {
		// the array shifted left by one at oldPos; the insertion point for
		// newName (computed before the removal) must shift with it.
		newPos--
	}
	child.SetParent(newParentIdx)
	child.SetNameOffset(newNameOff)
	newParent.insertChildAt(newPos, childIdx)

	if err := s.wal.Commit(txID); err != nil {
		return errs.Wrap(errs.IOError, "tree.Rename", err)
	}
	return nil
}

// Fields selects which attributes UpdateMetadata changes.
type Fields struct {
	Mask  UpdateFieldMask
	Size  uint64
	Mtime uint32
	Type  NodeType
	Perm  uint16
	Uid   uint32
	Gid   uint32
}

// UpdateMetadata changes size/mtime/mode/uid/gid on a single node under
// only that node's own write lock — no parent lock is needed because these
// fields are never read or mutated through the parent's child array.
func (s *Store) UpdateMetadata(nodeIdx uint16, f Fields, caller Caller) error {
	lock := s.arr.Lock(nodeIdx)
	lock.Lock()
	defer lock.Unlock()

	node := s.arr.Node(nodeIdx)
	if !CanWrite(node, caller) {
		return errs.New(errs.PermissionDenied, "tree.UpdateMetadata", "")
	}

	rec := UpdateRecord{NodeIdx: nodeIdx, FieldMask: f.Mask}
	rec.PriorSize, rec.NewSize = node.Size(), f.Size
	rec.PriorMtime, rec.NewMtime = node.Mtime(), f.Mtime
	rec.PriorMode, rec.NewMode = node.Mode(), uint16(f.Type)<<9|f.Perm
	rec.PriorUid, rec.NewUid = node.Uid(), f.Uid
	rec.PriorGid, rec.NewGid = node.Gid(), f.Gid

	txID, err := s.wal.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "tree.UpdateMetadata", err)
	}
	if _, err := s.wal.AppendUpdate(txID, rec); err != nil {
		_ = s.wal.Abort(txID)
		return errs.Wrap(errs.IOError, "tree.UpdateMetadata", err)
	}

	if f.Mask&FieldSize != 0 {
		node.SetSize(f.Size)
	}
	if f.Mask&FieldMtime != 0 {
		node.SetMtime(f.Mtime)
	}
	if f.Mask&FieldMode != 0 {
		node.SetPerm(f.Perm)
	}
	if f.Mask&FieldUid != 0 {
		node.SetUid(f.Uid)
	}
	if f.Mask&FieldGid != 0 {
		node.SetGid(f.Gid)
	}

	if err := s.wal.Commit(txID); err != nil {
		return errs.Wrap(errs.IOError, "tree.UpdateMetadata", err)
	}
	return nil
}

// List returns the directory entries of nodeIdx in sorted-by-name order,
// holding only that node's read lock for the duration of the scan.
func (s *Store) List(nodeIdx uint16, caller Caller) ([]DirEntry, error) {
	lock := s.arr.Lock(nodeIdx)
	lock.RLock()
	defer lock.RUnlock()

	node := s.arr.Node(nodeIdx)
	if node.Type() != TypeDirectory {
		return nil, errs.New(errs.NotDirectory, "tree.List", "")
	}
	if !CanRead(node, caller) {
		return nil, errs.New(errs.PermissionDenied, "tree.List", "")
	}

	cnt := int(node.ChildCount())
	out := make([]DirEntry, 0, cnt)
	for i := 0; i < cnt; i++ {
		idx := node.ChildAt(i)
		child := s.arr.Node(idx)
		nameBytes, err := s.names.Get(child.NameOffset())
		if err != nil {
			return nil, errs.Wrap(errs.Corruption, "tree.List", err)
		}
		out = append(out, DirEntry{
			Name:  string(nameBytes),
			Inode: child.Inode(),
			Mode:  child.Mode(),
		})
	}
	return out, nil
}

// Attr is a snapshot of a node's attributes, as exposed through getattr.
type Attr struct {
	Inode uint32
	Type  NodeType
	Perm  uint16
	Size  uint64
	Mtime uint32
	Uid   uint32
	Gid   uint32
	Nlink uint32
}

// Stat reads a node's attributes. Nlink follows ordinary POSIX directory
// semantics (2 plus one per child subdirectory, for "." and each child's
// ".."); regular files and symlinks always report 1, since this tree has no
// hard links. Child types are read without locking each child individually,
// the same convention findChildLocked already uses for child names.
func (s *Store) Stat(nodeIdx uint16) (Attr, error) {
	lock := s.arr.Lock(nodeIdx)
	lock.RLock()
	defer lock.RUnlock()

	node := s.arr.Node(nodeIdx)
	nlink := uint32(1)
	if node.Type() == TypeDirectory {
		nlink = 2
		cnt := int(node.ChildCount())
		for i := 0; i < cnt; i++ {
			if s.arr.Node(node.ChildAt(i)).Type() == TypeDirectory {
				nlink++
			}
		}
	}

	return Attr{
		Inode: node.Inode(),
		Type:  node.Type(),
		Perm:  node.Perm(),
		Size:  node.Size(),
		Mtime: node.Mtime(),
		Uid:   node.Uid(),
		Gid:   node.Gid(),
		Nlink: nlink,
	}, nil
}
