package tree

import "github.com/ncandio/razorfs/internal/errs"

// The methods in this file apply an already-WAL-logged structural change
// directly to the array, bypassing permission checks and the WAL itself.
// They exist for internal/recovery's Analysis/Redo/Undo passes: Redo
// re-establishes the exact in-memory state a committed (or, per ARIES,
// even an uncommitted) transaction had produced before a crash; Undo then
// reverses whatever a transaction that never committed had done, using the
// prior-* fields each record already carries for exactly this purpose.
//
// None of these take a node lock: recovery runs before the filesystem is
// served, single-threaded, so no concurrent access is possible yet.

func (s *Store) findChildIndexByNodeIdx(parent *Node, nodeIdx uint16) (pos int, found bool) {
	cnt := int(parent.ChildCount())
	for i := 0; i < cnt; i++ {
		if parent.ChildAt(i) == nodeIdx {
			return i, true
		}
	}
	return 0, false
}

// ApplyInsertRedo re-creates the node rec describes at its recorded index
// and re-links it into its parent, if not already present (idempotent).
func (s *Store) ApplyInsertRedo(rec InsertRecord) error {
	parent := s.arr.Node(rec.ParentIdx)
	if _, found := s.findChildIndexByNodeIdx(parent, rec.NewNodeIdx); found {
		return nil
	}

	nameOff, err := s.names.Intern(rec.Name)
	if err != nil {
		return errs.Wrap(errs.Corruption, "tree.ApplyInsertRedo", err)
	}

	s.arr.ReserveForRecovery(rec.NewNodeIdx, rec.AssignedIno)
	child := s.arr.Node(rec.NewNodeIdx)
	child.SetInode(rec.AssignedIno)
	child.SetParent(rec.ParentIdx)
	child.SetType(NodeType(rec.Mode >> 9))
	child.SetPerm(rec.Mode & maxPermissionValue)
	child.SetUid(rec.Uid)
	child.SetGid(rec.Gid)
	child.SetNameOffset(nameOff)

	pos, _, found, err := s.findChildLocked(parent, rec.Name)
	if err != nil {
		return errs.Wrap(errs.Corruption, "tree.ApplyInsertRedo", err)
	}
	if found {
		return errs.New(errs.Corruption, "tree.ApplyInsertRedo", "name already present under a different index")
	}
	parent.insertChildAt(pos, rec.NewNodeIdx)
	return nil
}

// ApplyDeleteRedo unlinks and frees the node rec describes, if still
// present (idempotent).
func (s *Store) ApplyDeleteRedo(rec DeleteRecord) error {
	parent := s.arr.Node(rec.ParentIdx)
	pos, found := s.findChildIndexByNodeIdx(parent, rec.NodeIdx)
	if !found {
		return nil
	}
	parent.removeChildAt(pos)
	s.arr.ReleaseForRecovery(rec.NodeIdx)
	return nil
}

// ApplyUpdateRedo reapplies the fields rec's mask selects.
func (s *Store) ApplyUpdateRedo(rec UpdateRecord) {
	node := s.arr.Node(rec.NodeIdx)
	if rec.FieldMask&FieldSize != 0 {
		node.SetSize(rec.NewSize)
	}
	if rec.FieldMask&FieldMtime != 0 {
		node.SetMtime(rec.NewMtime)
	}
	if rec.FieldMask&FieldMode != 0 {
		node.SetPerm(rec.NewMode & maxPermissionValue)
	}
	if rec.FieldMask&FieldUid != 0 {
		node.SetUid(rec.NewUid)
	}
	if rec.FieldMask&FieldGid != 0 {
		node.SetGid(rec.NewGid)
	}
}

// ApplyRenameRedo re-links the moved node under its new parent/name and, if
// the move clobbered an existing target, removes that target too.
func (s *Store) ApplyRenameRedo(rec RenameRecord) error {
	oldParent := s.arr.Node(rec.OldParentIdx)
	newParent := s.arr.Node(rec.NewParentIdx)
	child := s.arr.Node(rec.NodeIdx)

	if child.Parent() != rec.NewParentIdx {
		if pos, found := s.findChildIndexByNodeIdx(oldParent, rec.NodeIdx); found {
			oldParent.removeChildAt(pos)
		}

		newNameOff, err := s.names.Intern(rec.NewName)
		if err != nil {
			return errs.Wrap(errs.Corruption, "tree.ApplyRenameRedo", err)
		}
		child.SetParent(rec.NewParentIdx)
		child.SetNameOffset(newNameOff)

		if _, found := s.findChildIndexByNodeIdx(newParent, rec.NodeIdx); !found {
			pos, _, _, err := s.findChildLocked(newParent, rec.NewName)
			if err != nil {
				return errs.Wrap(errs.Corruption, "tree.ApplyRenameRedo", err)
			}
			newParent.insertChildAt(pos, rec.NodeIdx)
		}
	}

	if rec.Clobbered {
		if pos, found := s.findChildIndexByNodeIdx(newParent, rec.ClobberedIdx); found {
			newParent.removeChildAt(pos)
			s.arr.ReleaseForRecovery(rec.ClobberedIdx)
		}
	}
	return nil
}

// UndoInsert reverses a loser transaction's insert: the node it created is
// unlinked from its parent and freed.
func (s *Store) UndoInsert(rec InsertRecord) {
	parent := s.arr.Node(rec.ParentIdx)
	if pos, found := s.findChildIndexByNodeIdx(parent, rec.NewNodeIdx); found {
		parent.removeChildAt(pos)
	}
	s.arr.ReleaseForRecovery(rec.NewNodeIdx)
}

// UndoDelete reverses a loser transaction's delete: the node is recreated
// from its prior fields and re-linked into its parent.
func (s *Store) UndoDelete(rec DeleteRecord) error {
	s.arr.ReserveForRecovery(rec.NodeIdx, rec.PriorInode)
	node := s.arr.Node(rec.NodeIdx)
	node.SetInode(rec.PriorInode)
	node.SetParent(rec.PriorParentIdx)
	node.SetNameOffset(rec.PriorNameOff)
	node.SetType(NodeType(rec.PriorMode >> 9))
	node.SetPerm(rec.PriorMode & maxPermissionValue)
	node.SetSize(rec.PriorSize)

	parent := s.arr.Node(rec.ParentIdx)
	name, err := s.names.Get(rec.PriorNameOff)
	if err != nil {
		return errs.Wrap(errs.Corruption, "tree.UndoDelete", err)
	}
	pos, _, found, err := s.findChildLocked(parent, name)
	if err != nil {
		return errs.Wrap(errs.Corruption, "tree.UndoDelete", err)
	}
	if !found {
		parent.insertChildAt(pos, rec.NodeIdx)
	}
	return nil
}

// UndoUpdate restores the fields a loser transaction's update had changed.
func (s *Store) UndoUpdate(rec UpdateRecord) {
	node := s.arr.Node(rec.NodeIdx)
	if rec.FieldMask&FieldSize != 0 {
		node.SetSize(rec.PriorSize)
	}
	if rec.FieldMask&FieldMtime != 0 {
		node.SetMtime(rec.PriorMtime)
	}
	if rec.FieldMask&FieldMode != 0 {
		node.SetPerm(rec.PriorMode & maxPermissionValue)
	}
	if rec.FieldMask&FieldUid != 0 {
		node.SetUid(rec.PriorUid)
	}
	if rec.FieldMask&FieldGid != 0 {
		node.SetGid(rec.PriorGid)
	}
}

// UndoRename reverses a loser transaction's rename: the node moves back to
// its old parent/name, and a clobbered target (if any) is recreated.
func (s *Store) UndoRename(rec RenameRecord) error {
	newParent := s.arr.Node(rec.NewParentIdx)
	oldParent := s.arr.Node(rec.OldParentIdx)
	child := s.arr.Node(rec.NodeIdx)

	if pos, found := s.findChildIndexByNodeIdx(newParent, rec.NodeIdx); found {
		newParent.removeChildAt(pos)
	}
	child.SetParent(rec.OldParentIdx)
	child.SetNameOffset(rec.OldNameOffset)

	oldName, err := s.names.Get(rec.OldNameOffset)
	if err != nil {
		return errs.Wrap(errs.Corruption, "tree.UndoRename", err)
	}
	if _, found := s.findChildIndexByNodeIdx(oldParent, rec.NodeIdx); !found {
		insertPos, _, _, err := s.findChildLocked(oldParent, oldName)
		if err != nil {
			return errs.Wrap(errs.Corruption, "tree.UndoRename", err)
		}
		oldParent.insertChildAt(insertPos, rec.NodeIdx)
	}

	if rec.Clobbered {
		s.arr.ReserveForRecovery(rec.ClobberedIdx, rec.ClobberedPriorInode)
		clobbered := s.arr.Node(rec.ClobberedIdx)
		clobbered.SetInode(rec.ClobberedPriorInode)
		clobbered.SetParent(rec.NewParentIdx)
		clobbered.SetNameOffset(rec.ClobberedPriorNameOff)
		clobbered.SetType(NodeType(rec.ClobberedPriorMode >> 9))
		clobbered.SetPerm(rec.ClobberedPriorMode & maxPermissionValue)
		clobbered.SetSize(rec.ClobberedPriorSize)

		clobberedName, err := s.names.Get(rec.ClobberedPriorNameOff)
		if err != nil {
			return errs.Wrap(errs.Corruption, "tree.UndoRename", err)
		}
		if _, found := s.findChildIndexByNodeIdx(newParent, rec.ClobberedIdx); !found {
			pos, _, _, err := s.findChildLocked(newParent, clobberedName)
			if err != nil {
				return errs.Wrap(errs.Corruption, "tree.UndoRename", err)
			}
			newParent.insertChildAt(pos, rec.ClobberedIdx)
		}
	}
	return nil
}
