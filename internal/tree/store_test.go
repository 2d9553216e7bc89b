package tree_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/stringtable"
	"github.com/ncandio/razorfs/internal/tree"
)

// fakeWAL records every call it sees without doing any real I/O, enough to
// exercise the Tree Store's commit protocol in isolation.
type fakeWAL struct {
	mu     sync.Mutex
	nextTx uint64
	lsn    uint64

	failBegin  bool
	failAppend bool
	failCommit bool

	committed []uint64
	aborted   []uint64
}

func (f *fakeWAL) Begin() (uint64, error) {
	if f.failBegin {
		return 0, fmt.Errorf("injected begin failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTx++
	return f.nextTx, nil
}

func (f *fakeWAL) nextLSN() (uint64, error) {
	if f.failAppend {
		return 0, fmt.Errorf("injected append failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lsn++
	return f.lsn, nil
}

func (f *fakeWAL) AppendInsert(uint64, tree.InsertRecord) (uint64, error) { return f.nextLSN() }
func (f *fakeWAL) AppendDelete(uint64, tree.DeleteRecord) (uint64, error) { return f.nextLSN() }
func (f *fakeWAL) AppendUpdate(uint64, tree.UpdateRecord) (uint64, error) { return f.nextLSN() }
func (f *fakeWAL) AppendRename(uint64, tree.RenameRecord) (uint64, error) { return f.nextLSN() }

func (f *fakeWAL) Commit(txID uint64) error {
	if f.failCommit {
		return fmt.Errorf("injected commit failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, txID)
	return nil
}

func (f *fakeWAL) Abort(txID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, txID)
	return nil
}

func newTestStore() (*tree.Store, *fakeWAL) {
	arr := tree.NewArray()
	names := stringtable.New(0)
	wal := &fakeWAL{}
	clk := clock.NewSimulated(time.Unix(1_700_000_000, 0))
	return tree.NewStore(arr, names, wal, clk), wal
}

var rootCaller = tree.Caller{Uid: 0, Gid: 0}

func TestInsertAndListRoundTrip(t *testing.T) {
	s, _ := newTestStore()

	idx, err := s.Insert(tree.RootIndex, "a.txt", tree.TypeRegular, 0o644, 100, 100, rootCaller)
	require.NoError(t, err)

	entries, err := s.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	attr, err := s.Stat(idx)
	require.NoError(t, err)
	assert.Equal(t, tree.TypeRegular, attr.Type)
	assert.EqualValues(t, 0o644, attr.Perm)
}

func TestInsertDuplicateNameFails(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Insert(tree.RootIndex, "dup", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	_, err = s.Insert(tree.RootIndex, "dup", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.Exists, kind)
}

func TestInsertIntoNonDirectoryFails(t *testing.T) {
	s, _ := newTestStore()

	fileIdx, err := s.Insert(tree.RootIndex, "file", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	_, err = s.Insert(fileIdx, "child", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.NotDirectory, kind)
}

func TestBranchingLimitBoundary(t *testing.T) {
	s, _ := newTestStore()

	for i := 0; i < tree.Branching; i++ {
		_, err := s.Insert(tree.RootIndex, fmt.Sprintf("f%02d", i), tree.TypeRegular, 0o644, 0, 0, rootCaller)
		require.NoError(t, err, "insert %d should succeed", i)
	}

	_, err := s.Insert(tree.RootIndex, "overflow", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.OutOfSpace, kind)
}

func TestChildrenStaySortedAboveLinearThreshold(t *testing.T) {
	s, _ := newTestStore()

	names := []string{"m", "a", "z", "c", "b", "y", "k", "q", "d", "e"}
	require.True(t, len(names) > tree.LinearThreshold)
	for _, n := range names {
		_, err := s.Insert(tree.RootIndex, n, tree.TypeRegular, 0o644, 0, 0, rootCaller)
		require.NoError(t, err)
	}

	entries, err := s.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].Name < entries[i].Name, "entries must be sorted: %v", entries)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Insert(tree.RootIndex, "gone", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	require.NoError(t, s.Delete(tree.RootIndex, "gone", rootCaller))

	entries, err := s.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = s.Delete(tree.RootIndex, "gone", rootCaller)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.NotFound, kind)
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	s, _ := newTestStore()

	dirIdx, err := s.Insert(tree.RootIndex, "dir", tree.TypeDirectory, 0o755, 0, 0, rootCaller)
	require.NoError(t, err)
	_, err = s.Insert(dirIdx, "child", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	err = s.Delete(tree.RootIndex, "dir", rootCaller)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.NotEmpty, kind)
}

func TestRenameWithinSameParent(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Insert(tree.RootIndex, "old", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	require.NoError(t, s.Rename(tree.RootIndex, "old", tree.RootIndex, "new", rootCaller))

	_, err = s.PathResolve("/old")
	require.Error(t, err)

	idx, err := s.PathResolve("/new")
	require.NoError(t, err)
	attr, err := s.Stat(idx)
	require.NoError(t, err)
	assert.Equal(t, tree.TypeRegular, attr.Type)
}

func TestRenameAcrossDirectories(t *testing.T) {
	s, _ := newTestStore()

	dirA, err := s.Insert(tree.RootIndex, "a", tree.TypeDirectory, 0o755, 0, 0, rootCaller)
	require.NoError(t, err)
	dirB, err := s.Insert(tree.RootIndex, "b", tree.TypeDirectory, 0o755, 0, 0, rootCaller)
	require.NoError(t, err)

	_, err = s.Insert(dirA, "f.txt", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	require.NoError(t, s.Rename(dirA, "f.txt", dirB, "f.txt", rootCaller))

	_, err = s.PathResolve("/a/f.txt")
	require.Error(t, err)

	idx, err := s.PathResolve("/b/f.txt")
	require.NoError(t, err)
	attr, err := s.Stat(idx)
	require.NoError(t, err)
	assert.Equal(t, tree.TypeRegular, attr.Type)
}

func TestRenameClobbersEmptyDirectoryTarget(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Insert(tree.RootIndex, "src", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)
	_, err = s.Insert(tree.RootIndex, "dst", tree.TypeDirectory, 0o755, 0, 0, rootCaller)
	require.NoError(t, err)

	require.NoError(t, s.Rename(tree.RootIndex, "src", tree.RootIndex, "dst", rootCaller))

	entries, err := s.List(tree.RootIndex, rootCaller)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dst", entries[0].Name)
}

func TestRenameClobberOfNonEmptyDirectoryFails(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Insert(tree.RootIndex, "src", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)
	dstIdx, err := s.Insert(tree.RootIndex, "dst", tree.TypeDirectory, 0o755, 0, 0, rootCaller)
	require.NoError(t, err)
	_, err = s.Insert(dstIdx, "occupant", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	err = s.Rename(tree.RootIndex, "src", tree.RootIndex, "dst", rootCaller)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.NotEmpty, kind)
}

func TestPathResolveNameTooLong(t *testing.T) {
	s, _ := newTestStore()

	long := make([]byte, stringtable.MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := s.PathResolve("/" + string(long))
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.InvalidPath, kind)
}

func TestPathResolveRejectsDotDot(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.PathResolve("/a/../b")
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.InvalidPath, kind)
}

func TestUpdateMetadataAppliesFields(t *testing.T) {
	s, _ := newTestStore()

	idx, err := s.Insert(tree.RootIndex, "f", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.NoError(t, err)

	err = s.UpdateMetadata(idx, tree.Fields{
		Mask:  tree.FieldSize | tree.FieldMtime,
		Size:  4096,
		Mtime: 1_700_000_123,
	}, rootCaller)
	require.NoError(t, err)

	attr, err := s.Stat(idx)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, attr.Size)
	assert.EqualValues(t, 1_700_000_123, attr.Mtime)
}

func TestInsertAbortsOnWALFailure(t *testing.T) {
	arr := tree.NewArray()
	names := stringtable.New(0)
	wal := &fakeWAL{failAppend: true}
	s := tree.NewStore(arr, names, wal, clock.Real())

	before := arr.LiveCount()
	_, err := s.Insert(tree.RootIndex, "x", tree.TypeRegular, 0o644, 0, 0, rootCaller)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.IOError, kind)

	// the allocated slot must be returned to the free list, not leaked
	assert.Equal(t, before, arr.LiveCount())
	assert.Len(t, wal.aborted, 1)
}

func TestPermissionDeniedOnWriteWithoutOwnerOrRoot(t *testing.T) {
	s, _ := newTestStore()

	dirIdx, err := s.Insert(tree.RootIndex, "locked", tree.TypeDirectory, 0o700, 42, 42, rootCaller)
	require.NoError(t, err)

	intruder := tree.Caller{Uid: 7, Gid: 7}
	_, err = s.Insert(dirIdx, "x", tree.TypeRegular, 0o644, 7, 7, intruder)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.PermissionDenied, kind)
}

func TestConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	s, _ := newTestStore()
	for i := 0; i < 5; i++ {
		_, err := s.Insert(tree.RootIndex, fmt.Sprintf("f%d", i), tree.TypeRegular, 0o644, 0, 0, rootCaller)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.List(tree.RootIndex, rootCaller)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}
}
