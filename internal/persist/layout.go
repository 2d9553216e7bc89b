// Package persist is the persistence layer: it mmaps the two files that
// hold the durable image of the namespace tree (nodes.dat, strings.dat),
// msyncs them at checkpoint boundaries, and holds the storage directory's
// exclusive lock file for the lifetime of an attached engine. The
// checkpoint pointer (the LSN a reattach can trust the mmap'd snapshot up
// to) additionally lives in manifest.dat, a small file outside either
// mapping committed with google/renameio/v2's write-then-rename so a
// crash mid-write never leaves a torn pointer.
//
// File open/attach follows a header-validate, ftruncate-to-exact-size,
// syscall.Mmap(PROT_READ|PROT_WRITE, MAP_SHARED) sequence.
package persist

import (
	"encoding/binary"

	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/tree"
)

// nodesFileMagic and stringsFileMagic distinguish the two files so that
// pointing Attach at the wrong path is caught immediately rather than
// silently misinterpreting bytes.
const (
	nodesFileMagic   = uint32(0x4E4F4445) // "NODE"
	stringsFileMagic = uint32(0x52417A53) // "RAzS"
	formatVersion    = uint32(1)
)

// nodesHeaderSize is the fixed-size header prefixed to nodes.dat, before
// the raw 64-byte Node records begin.
const nodesHeaderSize = 32

// nodesHeader is the on-disk header of nodes.dat: everything the engine
// needs to reattach the node array without replaying the whole WAL.
type nodesHeader struct {
	Magic     uint32
	Version   uint32
	NodeCount uint32
	NextInode uint32
	FreeHead  uint16
	_         uint16 // padding to an 8-byte-aligned header
	LastLSN   uint64
	_         uint64 // reserved
}

func encodeNodesHeader(h nodesHeader) []byte {
	b := make([]byte, nodesHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.NodeCount)
	binary.LittleEndian.PutUint32(b[12:16], h.NextInode)
	binary.LittleEndian.PutUint16(b[16:18], h.FreeHead)
	binary.LittleEndian.PutUint64(b[24:32], h.LastLSN)
	return b
}

func decodeNodesHeader(b []byte) (nodesHeader, error) {
	if len(b) < nodesHeaderSize {
		return nodesHeader{}, errs.New(errs.Corruption, "persist.decodeNodesHeader", "truncated header")
	}
	h := nodesHeader{
		Magic:     binary.LittleEndian.Uint32(b[0:4]),
		Version:   binary.LittleEndian.Uint32(b[4:8]),
		NodeCount: binary.LittleEndian.Uint32(b[8:12]),
		NextInode: binary.LittleEndian.Uint32(b[12:16]),
		FreeHead:  binary.LittleEndian.Uint16(b[16:18]),
		LastLSN:   binary.LittleEndian.Uint64(b[24:32]),
	}
	if h.Magic != nodesFileMagic {
		return nodesHeader{}, errs.New(errs.Corruption, "persist.decodeNodesHeader", "bad magic")
	}
	if h.Version != formatVersion {
		return nodesHeader{}, errs.New(errs.Corruption, "persist.decodeNodesHeader", "unsupported version")
	}
	return h, nil
}

// nodeRecordSize mirrors tree's 64-byte record; asserted once at init
// rather than imported as a magic number so a future change to Node's size
// breaks this package's build instead of silently mis-sizing the file.
var nodeRecordSize = func() int {
	var n tree.Node
	return len(n)
}()

const stringsHeaderSize = 8

func encodeStringsHeader() []byte {
	b := make([]byte, stringsHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], stringsFileMagic)
	binary.LittleEndian.PutUint32(b[4:8], formatVersion)
	return b
}

func decodeStringsHeader(b []byte) error {
	if len(b) < stringsHeaderSize {
		return errs.New(errs.Corruption, "persist.decodeStringsHeader", "truncated header")
	}
	if binary.LittleEndian.Uint32(b[0:4]) != stringsFileMagic {
		return errs.New(errs.Corruption, "persist.decodeStringsHeader", "bad magic")
	}
	if binary.LittleEndian.Uint32(b[4:8]) != formatVersion {
		return errs.New(errs.Corruption, "persist.decodeStringsHeader", "unsupported version")
	}
	return nil
}
