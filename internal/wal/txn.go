package wal

import (
	"github.com/ncandio/razorfs/internal/tree"
)

// Begin starts a new transaction, appending its BEGIN record, and returns
// the transaction id callers must pass to the matching Append*/Commit/Abort
// calls. Begin does not fsync; only Commit and Checkpoint do.
func (l *Log) Begin() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextTxID++
	txID := l.nextTxID
	if _, err := l.appendLocked(txID, RecordBegin, nil); err != nil {
		return 0, err
	}
	return txID, nil
}

// AppendInsert records an INSERT operation in txID's transaction.
func (l *Log) AppendInsert(txID uint64, rec tree.InsertRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(txID, RecordInsert, encodeInsert(rec))
}

// AppendDelete records a DELETE operation in txID's transaction.
func (l *Log) AppendDelete(txID uint64, rec tree.DeleteRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(txID, RecordDelete, encodeDelete(rec))
}

// AppendUpdate records an UPDATE operation in txID's transaction.
func (l *Log) AppendUpdate(txID uint64, rec tree.UpdateRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(txID, RecordUpdate, encodeUpdate(rec))
}

// AppendRename records a RENAME operation in txID's transaction.
func (l *Log) AppendRename(txID uint64, rec tree.RenameRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(txID, RecordRename, encodeRename(rec))
}

// AppendWrite records a file-data WRITE operation in txID's transaction.
// Unlike the tree operations above, this is consumed by internal/filedata
// rather than internal/tree, so it is not part of the tree.WAL interface.
func (l *Log) AppendWrite(txID uint64, rec WriteRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(txID, RecordWrite, encodeWrite(rec))
}

// Commit appends txID's COMMIT record and blocks until that record (and
// everything appended before it) is durable on disk, sharing a single
// fsync with any other commit in the same group-commit window.
func (l *Log) Commit(txID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.appendLocked(txID, RecordCommit, nil); err != nil {
		return err
	}
	return l.waitForFlushLocked()
}

// Abort appends txID's ABORT record. Unlike Commit, Abort does not wait for
// a flush: an aborted transaction's effects were never applied in memory,
// so there is nothing that must outlive a crash; recovery's Analysis phase
// uses the ABORT record only to avoid redoing prior records from this
// transaction if a crash happened to interleave the flush regardless.
func (l *Log) Abort(txID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.appendLocked(txID, RecordAbort, nil)
	return err
}

// Checkpoint appends a CHECKPOINT record and forces an immediate fsync
// (bypassing the group-commit window, since checkpoints are infrequent and
// their latency is not on any hot path).
func (l *Log) Checkpoint() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lsn, err := l.appendLocked(0, RecordCheckpoint, nil)
	if err != nil {
		return 0, err
	}
	if err := l.w.Flush(); err != nil {
		return 0, err
	}
	if err := l.f.Sync(); err != nil {
		return 0, err
	}
	return lsn, nil
}

var _ tree.WAL = (*Log)(nil)
