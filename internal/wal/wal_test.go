package wal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/tree"
	"github.com/ncandio/razorfs/internal/wal"
)

func openTestLog(t *testing.T) (*wal.Log, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "current.wal")
	l, err := wal.Open(path, time.Millisecond, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestBeginAppendCommitRoundTrip(t *testing.T) {
	l, path := openTestLog(t)

	txID, err := l.Begin()
	require.NoError(t, err)

	_, err = l.AppendInsert(txID, tree.InsertRecord{
		ParentIdx:   0,
		NameOffset:  12,
		Mode:        0o644,
		Uid:         1000,
		Gid:         1000,
		NewNodeIdx:  3,
		AssignedIno: 7,
	})
	require.NoError(t, err)

	require.NoError(t, l.Commit(txID))
	require.NoError(t, l.Close())

	records, err := wal.Replay(path)
	require.NoError(t, err)
	require.Len(t, records, 3) // BEGIN, INSERT, COMMIT
	assert.Equal(t, wal.RecordBegin, records[0].Type)
	assert.Equal(t, wal.RecordInsert, records[1].Type)
	assert.Equal(t, wal.RecordCommit, records[2].Type)
	assert.Equal(t, txID, records[1].TxID)
}

func TestAbortIsRecorded(t *testing.T) {
	l, path := openTestLog(t)

	txID, err := l.Begin()
	require.NoError(t, err)
	_, err = l.AppendDelete(txID, tree.DeleteRecord{ParentIdx: 0, NodeIdx: 2})
	require.NoError(t, err)
	require.NoError(t, l.Abort(txID))
	require.NoError(t, l.Close())

	records, err := wal.Replay(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, wal.RecordAbort, records[2].Type)
}

func TestConcurrentCommitsAllSucceedAndAreLogged(t *testing.T) {
	l, path := openTestLog(t)

	const n = 20
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			txID, err := l.Begin()
			if err != nil {
				errCh <- err
				return
			}
			errCh <- l.Commit(txID)
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errCh)
	}
	require.NoError(t, l.Close())

	records, err := wal.Replay(path)
	require.NoError(t, err)
	assert.Len(t, records, 2*n) // BEGIN + COMMIT per transaction
}

func TestReplayOnMissingFileReturnsNoRecords(t *testing.T) {
	dir := t.TempDir()
	records, err := wal.Replay(filepath.Join(dir, "absent.wal"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCheckpointForcesImmediateDurability(t *testing.T) {
	l, path := openTestLog(t)

	lsn, err := l.Checkpoint()
	require.NoError(t, err)
	assert.Greater(t, lsn, uint64(0))

	records, err := wal.Replay(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, wal.RecordCheckpoint, records[0].Type)
}
