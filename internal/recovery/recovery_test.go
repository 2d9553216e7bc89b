package recovery_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/filedata"
	"github.com/ncandio/razorfs/internal/recovery"
	"github.com/ncandio/razorfs/internal/stringtable"
	"github.com/ncandio/razorfs/internal/tree"
	"github.com/ncandio/razorfs/internal/wal"
)

var rootCaller = tree.Caller{Uid: 0, Gid: 0}

func openLog(t *testing.T, dir string) *wal.Log {
	t.Helper()
	log, err := wal.Open(filepath.Join(dir, "current.wal"), 0, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

// TestRecoverRedoesCommittedOperations drives a live Store/filedata.Store
// through a sequence of committed operations against one WAL, then replays
// that WAL against a pristine Array/Table/Store and checks the two end
// states agree.
func TestRecoverRedoesCommittedOperations(t *testing.T) {
	dir := t.TempDir()
	log := openLog(t, dir)

	liveArr := tree.NewArray()
	liveNames := stringtable.New(0)
	liveStore := tree.NewStore(liveArr, liveNames, log, clock.Real())
	liveFD := filedata.NewStore(t.TempDir(), log, filedata.DefaultCompressionPolicy)

	dirIdx, err := liveStore.Insert(tree.RootIndex, "docs", tree.TypeDirectory, 0o755, 0, 0, rootCaller)
	require.NoError(t, err)
	fileIdx, err := liveStore.Insert(dirIdx, "a.txt", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	_, err = liveFD.Write(liveMustStat(t, liveStore, fileIdx).Inode, []byte("hello"), 0)
	require.NoError(t, err)

	require.NoError(t, liveStore.UpdateMetadata(fileIdx, tree.Fields{
		Mask: tree.FieldSize,
		Size: 5,
	}, rootCaller))

	require.NoError(t, liveStore.Rename(dirIdx, "a.txt", tree.RootIndex, "b.txt", rootCaller))

	records, err := wal.Replay(filepath.Join(dir, "current.wal"))
	require.NoError(t, err)
	require.NotEmpty(t, records)

	recoveredArr := tree.NewArray()
	recoveredNames := stringtable.New(0)
	recoveredFD := filedata.NewStore(t.TempDir(), log, filedata.DefaultCompressionPolicy)

	res, err := recovery.Recover(recoveredArr, recoveredNames, recoveredFD, records, 0)
	require.NoError(t, err)
	assert.Zero(t, res.LoserTxCount)
	assert.Greater(t, res.RedoApplied, 0)

	recoveredStore := tree.NewStore(recoveredArr, recoveredNames, log, clock.Real())

	liveEntries, err := liveStore.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	recoveredEntries, err := recoveredStore.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	assert.ElementsMatch(t, liveEntries, recoveredEntries)

	docsEntries, err := recoveredStore.List(dirIdx, rootCaller)
	require.NoError(t, err)
	assert.Empty(t, docsEntries)

	buf := make([]byte, 5)
	_, err = recoveredFD.Read(liveMustStat(t, liveStore, fileIdx).Inode, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func liveMustStat(t *testing.T, s *tree.Store, idx uint16) tree.Attr {
	t.Helper()
	attr, err := s.Stat(idx)
	require.NoError(t, err)
	return attr
}

// TestRecoverUndoesLoserTransaction drives the WAL directly (bypassing
// Store) to simulate a transaction that logged BEGIN and INSERT but crashed
// before COMMIT, and checks recovery's Undo phase removes what Redo had
// speculatively applied.
func TestRecoverUndoesLoserTransaction(t *testing.T) {
	dir := t.TempDir()
	log := openLog(t, dir)

	arr := tree.NewArray()
	names := stringtable.New(0)

	txID, err := log.Begin()
	require.NoError(t, err)
	ghostIdx := uint16(arr.Len())
	_, err = log.AppendInsert(txID, tree.InsertRecord{
		ParentIdx:   tree.RootIndex,
		Name:        []byte("ghost"),
		Mode:        uint16(tree.TypeRegular)<<9 | 0o644,
		Uid:         0,
		Gid:         0,
		NewNodeIdx:  ghostIdx,
		AssignedIno: 9999,
	})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	records, err := wal.Replay(filepath.Join(dir, "current.wal"))
	require.NoError(t, err)

	fd := filedata.NewStore(t.TempDir(), log, filedata.DefaultCompressionPolicy)
	res, err := recovery.Recover(arr, names, fd, records, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LoserTxCount)
	assert.Equal(t, 1, res.RedoApplied)
	assert.Equal(t, 1, res.UndoApplied)

	store := tree.NewStore(arr, names, nil, clock.Real())
	entries, err := store.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestRecoverSkipsRecordsAtOrBelowCheckpointLSN checks that a checkpointLSN
// boundary excludes already-snapshotted records from being reapplied, so
// recovering against a snapshot that already contains an operation doesn't
// try to redo it a second time.
func TestRecoverSkipsRecordsAtOrBelowCheckpointLSN(t *testing.T) {
	dir := t.TempDir()
	log := openLog(t, dir)

	arr := tree.NewArray()
	names := stringtable.New(0)
	store := tree.NewStore(arr, names, log, clock.Real())

	_, err := store.Insert(tree.RootIndex, "already-checkpointed", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	records, err := wal.Replay(filepath.Join(dir, "current.wal"))
	require.NoError(t, err)
	require.NotEmpty(t, records)
	checkpointLSN := records[len(records)-1].LSN

	// Snapshot here, before the next insert: this is the state a checkpoint
	// would have captured.
	checkpointNodes := arr.Snapshot()
	snapArr := tree.RestoreFromSnapshot(checkpointNodes, arr.NextInode(), arr.FreeHead())

	_, err = store.Insert(tree.RootIndex, "after-checkpoint", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	records, err = wal.Replay(filepath.Join(dir, "current.wal"))
	require.NoError(t, err)

	fd := filedata.NewStore(t.TempDir(), log, filedata.DefaultCompressionPolicy)

	res, err := recovery.Recover(snapArr, names, fd, records, checkpointLSN)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RedoApplied) // only "after-checkpoint"'s INSERT

	recoveredStore := tree.NewStore(snapArr, names, nil, clock.Real())
	entries, err := recoveredStore.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	names2 := make([]string, 0, len(entries))
	for _, e := range entries {
		names2 = append(names2, e.Name)
	}
	assert.ElementsMatch(t, []string{"already-checkpointed", "after-checkpoint"}, names2)
}
