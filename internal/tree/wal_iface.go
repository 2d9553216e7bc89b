package tree

// WAL is the narrow interface the tree store needs from the write-ahead
// log: begin a transaction, append one typed record to it, and commit or
// abort it. internal/wal.Log implements this interface; tree does not
// import internal/wal; internal/engine wires the two together. This keeps
// the Tree Store testable in isolation with a fake WAL.
type WAL interface {
	Begin() (txID uint64, err error)
	AppendInsert(txID uint64, rec InsertRecord) (lsn uint64, err error)
	AppendDelete(txID uint64, rec DeleteRecord) (lsn uint64, err error)
	AppendUpdate(txID uint64, rec UpdateRecord) (lsn uint64, err error)
	AppendRename(txID uint64, rec RenameRecord) (lsn uint64, err error)
	Commit(txID uint64) error
	Abort(txID uint64) error
}

// InsertRecord is the payload of a WAL INSERT record. Name
// carries the raw bytes alongside NameOffset: the string table is not
// itself WAL-logged (only checkpointed), so recovery's redo phase re-interns
// Name and uses whatever offset that produces, rather than trusting
// NameOffset to still be valid against a table rebuilt from an older
// checkpoint. See DESIGN.md.
type InsertRecord struct {
	ParentIdx   uint16
	Name        []byte
	NameOffset  uint32
	Mode        uint16
	Uid, Gid    uint32
	NewNodeIdx  uint16
	AssignedIno uint32
}

// DeleteRecord is the payload of a WAL DELETE record.
type DeleteRecord struct {
	ParentIdx      uint16
	NodeIdx        uint16
	PriorNameOff   uint32
	PriorMode      uint16
	PriorSize      uint64
	PriorInode     uint32
	PriorParentIdx uint16
}

// UpdateFieldMask selects which fields of an UpdateRecord are meaningful.
type UpdateFieldMask uint8

const (
	FieldSize UpdateFieldMask = 1 << iota
	FieldMtime
	FieldMode
	FieldUid
	FieldGid
)

// UpdateRecord is the payload of a WAL UPDATE record.
type UpdateRecord struct {
	NodeIdx   uint16
	FieldMask UpdateFieldMask

	NewSize, PriorSize   uint64
	NewMtime, PriorMtime uint32
	NewMode, PriorMode   uint16
	NewUid, PriorUid     uint32
	NewGid, PriorGid     uint32
}

// RenameRecord is the payload of a WAL RENAME record. NewName carries the
// raw bytes of the destination name for the same reason InsertRecord.Name
// does: redo re-interns it rather than trusting NewNameOffset against a
// possibly-older string table.
//
// When a rename clobbers an existing, empty target, that target's removal
// happens inside the same transaction and has no WAL record of its own;
// Clobbered* carries what DeleteRecord would have, so redo and undo can
// reconstruct that removal instead of silently losing it.
type RenameRecord struct {
	OldParentIdx, NewParentIdx   uint16
	OldNameOffset, NewNameOffset uint32
	NewName                      []byte
	NodeIdx                      uint16

	Clobbered             bool
	ClobberedIdx          uint16
	ClobberedPriorNameOff uint32
	ClobberedPriorMode    uint16
	ClobberedPriorSize    uint64
	ClobberedPriorInode   uint32
}
