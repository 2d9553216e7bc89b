package tree

// Standard POSIX permission bit masks within the 9-bit Perm() field.
const (
	permOwnerRead  = 0o400
	permOwnerWrite = 0o200
	permOwnerExec  = 0o100
	permGroupRead  = 0o040
	permGroupWrite = 0o020
	permGroupExec  = 0o010
	permOtherRead  = 0o004
	permOtherWrite = 0o002
	permOtherExec  = 0o001
)

// Caller is the effective identity the front-end provides for a
// permission check. Groups holds supplementary gids beyond the primary
// Gid.
type Caller struct {
	Uid    uint32
	Gid    uint32
	Groups []uint32
}

func (c Caller) isRoot() bool { return c.Uid == 0 }

func (c Caller) inGroup(gid uint32) bool {
	if c.Gid == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// accessClass picks which of owner/group/other bits apply to caller for
// node: owner matches -> owner bits; else a matching primary/supplementary
// gid -> group bits; else other bits.
func accessClass(node *Node, caller Caller) (read, write, exec bool) {
	perm := node.Perm()
	switch {
	case node.Uid() == caller.Uid:
		return perm&permOwnerRead != 0, perm&permOwnerWrite != 0, perm&permOwnerExec != 0
	case caller.inGroup(node.Gid()):
		return perm&permGroupRead != 0, perm&permGroupWrite != 0, perm&permGroupExec != 0
	default:
		return perm&permOtherRead != 0, perm&permOtherWrite != 0, perm&permOtherExec != 0
	}
}

// CanWrite reports whether caller may create/remove/rename entries in the
// directory node, or write to node if it is a regular file. uid 0 always
// bypasses the check.
func CanWrite(node *Node, caller Caller) bool {
	if caller.isRoot() {
		return true
	}
	_, write, _ := accessClass(node, caller)
	return write
}

// CanRead reports whether caller may read node's contents or list its
// directory entries.
func CanRead(node *Node, caller Caller) bool {
	if caller.isRoot() {
		return true
	}
	read, _, _ := accessClass(node, caller)
	return read
}

// CanExec reports whether caller may traverse through node (directory
// search permission).
func CanExec(node *Node, caller Caller) bool {
	if caller.isRoot() {
		return true
	}
	_, _, exec := accessClass(node, caller)
	return exec
}

// accessClassAttr is accessClass's Attr-based twin, for callers (internal/
// engine's Write/Truncate) that only have a Stat snapshot, not a locked
// *Node, at the point they need to check permission.
func accessClassAttr(uid, gid uint32, perm uint16, caller Caller) (read, write, exec bool) {
	switch {
	case uid == caller.Uid:
		return perm&permOwnerRead != 0, perm&permOwnerWrite != 0, perm&permOwnerExec != 0
	case caller.inGroup(gid):
		return perm&permGroupRead != 0, perm&permGroupWrite != 0, perm&permGroupExec != 0
	default:
		return perm&permOtherRead != 0, perm&permOtherWrite != 0, perm&permOtherExec != 0
	}
}

// CanWriteAttr is CanWrite against an Attr snapshot (as returned by Stat)
// rather than a locked *Node.
func CanWriteAttr(a Attr, caller Caller) bool {
	if caller.isRoot() {
		return true
	}
	_, write, _ := accessClassAttr(a.Uid, a.Gid, a.Perm, caller)
	return write
}

// CanReadAttr is CanRead against an Attr snapshot.
func CanReadAttr(a Attr, caller Caller) bool {
	if caller.isRoot() {
		return true
	}
	read, _, _ := accessClassAttr(a.Uid, a.Gid, a.Perm, caller)
	return read
}
