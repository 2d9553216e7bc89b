// Package recovery implements the ARIES-style Analysis, Redo, and Undo
// passes that bring the namespace tree and file-data store back to a
// consistent state after a crash, using the tail of the write-ahead log
// that was not yet reflected in the last checkpoint.
//
// Analysis walks the replayed records once to learn which transactions
// committed. Redo then reapplies every structural change in LSN order,
// committed or not (the standard ARIES guarantee: redo brings memory to
// exactly the state it was in at the moment of the crash). Undo then
// reverses whatever a transaction that never committed had done, using the
// prior-* fields carried on each record for exactly this purpose.
package recovery

import (
	"sort"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/filedata"
	"github.com/ncandio/razorfs/internal/tree"
	"github.com/ncandio/razorfs/internal/wal"
)

// Result summarizes one recovery pass, for logging and for seeding the
// reopened WAL's counters (Log.ResumeFrom) so new transactions don't reuse
// LSNs or transaction ids already present in the file.
type Result struct {
	LastLSN      uint64
	LastTxID     uint64
	RedoApplied  int
	UndoApplied  int
	LoserTxCount int
}

// Recover replays records (as returned by wal.Replay, in ascending LSN
// order) against arr/names/fd, restoring the state they had immediately
// before a crash. checkpointLSN is the attached snapshot's checkpoint LSN
// (persist.Store.LastLSN: manifest.dat's value, or the nodes.dat header's
// when the manifest is missing): records at or below it are already
// reflected in the snapshot arr/names were restored from and are skipped.
func Recover(arr *tree.Array, names tree.StringTable, fd *filedata.Store, records []wal.Record, checkpointLSN uint64) (Result, error) {
	var res Result
	for _, rec := range records {
		if rec.LSN > res.LastLSN {
			res.LastLSN = rec.LSN
		}
		if rec.TxID > res.LastTxID {
			res.LastTxID = rec.TxID
		}
	}

	store := tree.NewStore(arr, names, nil, clock.Real())

	began := make(map[uint64]bool)
	committed := make(map[uint64]bool)
	// txRecords holds, per transaction, its structural records in the order
	// they were appended (exactly one per transaction in this design, but
	// the loop does not assume that).
	txRecords := make(map[uint64][]wal.Record)

	for _, rec := range records {
		if rec.LSN <= checkpointLSN {
			continue
		}
		switch rec.Type {
		case wal.RecordBegin:
			began[rec.TxID] = true
		case wal.RecordCommit:
			committed[rec.TxID] = true
		case wal.RecordAbort:
			// no structural record ever precedes an Abort in this design
			// (Abort is only reached when the structural append itself
			// failed), so there is nothing to exclude from redo/undo here.
		case wal.RecordInsert, wal.RecordDelete, wal.RecordUpdate, wal.RecordRename, wal.RecordWrite:
			txRecords[rec.TxID] = append(txRecords[rec.TxID], rec)
			if err := redoOne(store, fd, rec); err != nil {
				return res, err
			}
			res.RedoApplied++
		}
	}

	var loserTxIDs []uint64
	for txID := range began {
		if !committed[txID] {
			loserTxIDs = append(loserTxIDs, txID)
		}
	}
	sort.Slice(loserTxIDs, func(i, j int) bool { return loserTxIDs[i] > loserTxIDs[j] })
	res.LoserTxCount = len(loserTxIDs)

	for _, txID := range loserTxIDs {
		recs := txRecords[txID]
		for i := len(recs) - 1; i >= 0; i-- {
			if err := undoOne(store, fd, recs[i]); err != nil {
				return res, err
			}
			res.UndoApplied++
		}
	}

	return res, nil
}

func redoOne(store *tree.Store, fd *filedata.Store, rec wal.Record) error {
	switch rec.Type {
	case wal.RecordInsert:
		return store.ApplyInsertRedo(wal.DecodeInsert(rec.Payload))
	case wal.RecordDelete:
		return store.ApplyDeleteRedo(wal.DecodeDelete(rec.Payload))
	case wal.RecordUpdate:
		store.ApplyUpdateRedo(wal.DecodeUpdate(rec.Payload))
		return nil
	case wal.RecordRename:
		return store.ApplyRenameRedo(wal.DecodeRename(rec.Payload))
	case wal.RecordWrite:
		return fd.ApplyWriteRedo(wal.DecodeWrite(rec.Payload))
	}
	return nil
}

func undoOne(store *tree.Store, fd *filedata.Store, rec wal.Record) error {
	switch rec.Type {
	case wal.RecordInsert:
		store.UndoInsert(wal.DecodeInsert(rec.Payload))
		return nil
	case wal.RecordDelete:
		return store.UndoDelete(wal.DecodeDelete(rec.Payload))
	case wal.RecordUpdate:
		store.UndoUpdate(wal.DecodeUpdate(rec.Payload))
		return nil
	case wal.RecordRename:
		return store.UndoRename(wal.DecodeRename(rec.Payload))
	case wal.RecordWrite:
		return fd.ApplyWriteUndo(wal.DecodeWrite(rec.Payload))
	}
	return nil
}
