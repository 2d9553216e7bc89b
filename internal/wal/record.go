// Package wal implements the crash-durable write-ahead log: typed records
// framed with a magic number, length, and CRC32 checksum, appended to a
// single growing file and periodically compacted by a checkpoint.
//
// Record framing follows the same shape the corpus already uses for a
// binary append-only log (magic / length / payload / CRC32): a 4-byte
// magic, the 8-byte LSN, the 8-byte transaction id, a 1-byte record type,
// a 4-byte little-endian payload length, the payload itself, and a
// trailing 4-byte CRC32-IEEE over everything from the LSN through the
// payload. All integers are little-endian.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/tree"
)

// RecordType identifies the kind of payload a Record carries.
type RecordType uint8

const (
	RecordBegin RecordType = iota + 1
	RecordInsert
	RecordDelete
	RecordUpdate
	RecordRename
	RecordWrite
	RecordCommit
	RecordAbort
	RecordCheckpoint
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "BEGIN"
	case RecordInsert:
		return "INSERT"
	case RecordDelete:
		return "DELETE"
	case RecordUpdate:
		return "UPDATE"
	case RecordRename:
		return "RENAME"
	case RecordWrite:
		return "WRITE"
	case RecordCommit:
		return "COMMIT"
	case RecordAbort:
		return "ABORT"
	case RecordCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// recordMagic marks the start of every framed record; decodeRecord reports
// a frame that does not start with it as Corruption (there is no resync).
const recordMagic = uint32(0x5A0A5A0A)

// fileMagic marks the start of a WAL segment file.
const fileMagic = uint32(0x5A0AF11E)

// WriteRecord payload: a file data write, identified by inode and byte
// range, carrying both the new bytes and whatever prior bytes they
// overwrote (for undo). IsTruncate distinguishes a Truncate call (which has
// no new bytes to speak of, only a size change) from a zero-length Write,
// so redo/undo don't have to infer it from an empty NewData slice.
type WriteRecord struct {
	Inode      uint32
	Offset     uint64
	NewData    []byte
	PriorData  []byte
	PriorSize  uint64
	NewSize    uint64
	IsTruncate bool
}

// Record is one parsed WAL entry: a transaction id, type, log sequence
// number, and the type-specific payload, pre-encoded to bytes.
type Record struct {
	LSN     uint64
	TxID    uint64
	Type    RecordType
	Payload []byte
}

// encode serializes rec's header and payload into the on-wire frame:
// magic, LSN, TxID, type, payload length, payload, CRC32 of everything
// from LSN through the payload.
func (rec Record) encode() []byte {
	header := make([]byte, 4+8+8+1+4)
	binary.LittleEndian.PutUint32(header[0:4], recordMagic)
	binary.LittleEndian.PutUint64(header[4:12], rec.LSN)
	binary.LittleEndian.PutUint64(header[12:20], rec.TxID)
	header[20] = byte(rec.Type)
	binary.LittleEndian.PutUint32(header[21:25], uint32(len(rec.Payload)))

	buf := make([]byte, 0, len(header)+len(rec.Payload)+4)
	buf = append(buf, header...)
	buf = append(buf, rec.Payload...)

	crc := crc32.ChecksumIEEE(buf[4:])
	crcBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBytes, crc)
	buf = append(buf, crcBytes...)
	return buf
}

// decodeRecord parses one frame starting at buf[0], returning the record,
// the number of bytes consumed, and an error. Sequential scanning (as
// Replay does) only ever encounters a short header, a short payload, or a
// CRC mismatch when the current frame is the last one attempted — a
// well-formed frame always consumes exactly its declared length, so a
// truncated or corrupt trailing write is indistinguishable from "this is
// the tail" by construction. Those three cases are reported as
// errs.IOError ("torn tail"); a bad magic number means framing itself was
// lost and is reported as errs.Corruption, since no resync point exists.
func decodeRecord(buf []byte) (Record, int, error) {
	const headerLen = 4 + 8 + 8 + 1 + 4
	if len(buf) < headerLen {
		return Record{}, 0, tornTail("short header")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != recordMagic {
		return Record{}, 0, errs.New(errs.Corruption, "wal.decodeRecord", "bad record magic")
	}
	lsn := binary.LittleEndian.Uint64(buf[4:12])
	txID := binary.LittleEndian.Uint64(buf[12:20])
	typ := RecordType(buf[20])
	payloadLen := binary.LittleEndian.Uint32(buf[21:25])

	total := headerLen + int(payloadLen) + 4
	if len(buf) < total {
		return Record{}, 0, tornTail("short payload")
	}

	payload := buf[headerLen : headerLen+int(payloadLen)]
	storedCRC := binary.LittleEndian.Uint32(buf[headerLen+int(payloadLen) : total])
	gotCRC := crc32.ChecksumIEEE(buf[4 : headerLen+int(payloadLen)])
	if gotCRC != storedCRC {
		return Record{}, 0, tornTail("crc mismatch")
	}

	return Record{LSN: lsn, TxID: txID, Type: typ, Payload: append([]byte(nil), payload...)}, total, nil
}

func tornTail(detail string) error {
	return errs.New(errs.IOError, "wal.decodeRecord", "torn tail: "+detail)
}

func encodeInsert(rec tree.InsertRecord) []byte {
	b := make([]byte, 2+4+2+4+4+2+4+2+len(rec.Name))
	off := 0
	binary.LittleEndian.PutUint16(b[off:], rec.ParentIdx)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.NameOffset)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.Mode)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.Uid)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], rec.Gid)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.NewNodeIdx)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.AssignedIno)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], uint16(len(rec.Name)))
	off += 2
	copy(b[off:], rec.Name)
	return b
}

func decodeInsert(b []byte) tree.InsertRecord {
	off := 0
	rec := tree.InsertRecord{}
	rec.ParentIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.NameOffset = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.Mode = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.Uid = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.Gid = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.NewNodeIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.AssignedIno = binary.LittleEndian.Uint32(b[off:])
	off += 4
	nameLen := binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.Name = append([]byte(nil), b[off:off+int(nameLen)]...)
	return rec
}

func encodeDelete(rec tree.DeleteRecord) []byte {
	b := make([]byte, 2+2+4+2+8+4+2)
	off := 0
	binary.LittleEndian.PutUint16(b[off:], rec.ParentIdx)
	off += 2
	binary.LittleEndian.PutUint16(b[off:], rec.NodeIdx)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.PriorNameOff)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.PriorMode)
	off += 2
	binary.LittleEndian.PutUint64(b[off:], rec.PriorSize)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], rec.PriorInode)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.PriorParentIdx)
	return b
}

func decodeDelete(b []byte) tree.DeleteRecord {
	off := 0
	rec := tree.DeleteRecord{}
	rec.ParentIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.NodeIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.PriorNameOff = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.PriorMode = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.PriorSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	rec.PriorInode = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.PriorParentIdx = binary.LittleEndian.Uint16(b[off:])
	return rec
}

func encodeUpdate(rec tree.UpdateRecord) []byte {
	b := make([]byte, 2+1+8+8+4+4+2+2+4+4+4+4)
	off := 0
	binary.LittleEndian.PutUint16(b[off:], rec.NodeIdx)
	off += 2
	b[off] = byte(rec.FieldMask)
	off++
	binary.LittleEndian.PutUint64(b[off:], rec.NewSize)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], rec.PriorSize)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], rec.NewMtime)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], rec.PriorMtime)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.NewMode)
	off += 2
	binary.LittleEndian.PutUint16(b[off:], rec.PriorMode)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.NewUid)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], rec.PriorUid)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], rec.NewGid)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], rec.PriorGid)
	return b
}

func decodeUpdate(b []byte) tree.UpdateRecord {
	off := 0
	rec := tree.UpdateRecord{}
	rec.NodeIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.FieldMask = tree.UpdateFieldMask(b[off])
	off++
	rec.NewSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	rec.PriorSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	rec.NewMtime = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.PriorMtime = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.NewMode = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.PriorMode = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.NewUid = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.PriorUid = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.NewGid = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.PriorGid = binary.LittleEndian.Uint32(b[off:])
	return rec
}

func encodeRename(rec tree.RenameRecord) []byte {
	b := make([]byte, 2+2+4+4+2+2+len(rec.NewName)+1+2+4+2+8+4)
	off := 0
	binary.LittleEndian.PutUint16(b[off:], rec.OldParentIdx)
	off += 2
	binary.LittleEndian.PutUint16(b[off:], rec.NewParentIdx)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.OldNameOffset)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], rec.NewNameOffset)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.NodeIdx)
	off += 2
	binary.LittleEndian.PutUint16(b[off:], uint16(len(rec.NewName)))
	off += 2
	off += copy(b[off:], rec.NewName)
	if rec.Clobbered {
		b[off] = 1
	}
	off++
	binary.LittleEndian.PutUint16(b[off:], rec.ClobberedIdx)
	off += 2
	binary.LittleEndian.PutUint32(b[off:], rec.ClobberedPriorNameOff)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], rec.ClobberedPriorMode)
	off += 2
	binary.LittleEndian.PutUint64(b[off:], rec.ClobberedPriorSize)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], rec.ClobberedPriorInode)
	return b
}

func decodeRename(b []byte) tree.RenameRecord {
	off := 0
	rec := tree.RenameRecord{}
	rec.OldParentIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.NewParentIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.OldNameOffset = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.NewNameOffset = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.NodeIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	nameLen := binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.NewName = append([]byte(nil), b[off:off+int(nameLen)]...)
	off += int(nameLen)
	rec.Clobbered = b[off] != 0
	off++
	rec.ClobberedIdx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.ClobberedPriorNameOff = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.ClobberedPriorMode = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.ClobberedPriorSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	rec.ClobberedPriorInode = binary.LittleEndian.Uint32(b[off:])
	return rec
}

func encodeWrite(rec WriteRecord) []byte {
	b := make([]byte, 4+8+8+8+4+len(rec.NewData)+4+len(rec.PriorData)+1)
	off := 0
	binary.LittleEndian.PutUint32(b[off:], rec.Inode)
	off += 4
	binary.LittleEndian.PutUint64(b[off:], rec.Offset)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], rec.PriorSize)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], rec.NewSize)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], uint32(len(rec.NewData)))
	off += 4
	off += copy(b[off:], rec.NewData)
	binary.LittleEndian.PutUint32(b[off:], uint32(len(rec.PriorData)))
	off += 4
	off += copy(b[off:], rec.PriorData)
	if rec.IsTruncate {
		b[off] = 1
	}
	return b
}

func decodeWrite(b []byte) WriteRecord {
	off := 0
	rec := WriteRecord{}
	rec.Inode = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.Offset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	rec.PriorSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	rec.NewSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	newLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.NewData = append([]byte(nil), b[off:off+int(newLen)]...)
	off += int(newLen)
	priorLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.PriorData = append([]byte(nil), b[off:off+int(priorLen)]...)
	off += int(priorLen)
	rec.IsTruncate = b[off] != 0
	return rec
}

// DecodeInsert, DecodeDelete, DecodeUpdate, DecodeRename and DecodeWrite
// expose the payload decoders to internal/recovery, which replays records
// whose Type tags it already knows from Record.Type but whose Payload it
// has not yet parsed.
func DecodeInsert(payload []byte) tree.InsertRecord { return decodeInsert(payload) }
func DecodeDelete(payload []byte) tree.DeleteRecord { return decodeDelete(payload) }
func DecodeUpdate(payload []byte) tree.UpdateRecord { return decodeUpdate(payload) }
func DecodeRename(payload []byte) tree.RenameRecord { return decodeRename(payload) }
func DecodeWrite(payload []byte) WriteRecord        { return decodeWrite(payload) }
