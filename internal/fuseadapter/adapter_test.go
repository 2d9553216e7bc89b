package fuseadapter

import (
	"os"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/internal/engine"
	"github.com/ncandio/razorfs/internal/tree"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	eng, err := engine.Open(engine.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return New(eng, nil, nil, tree.Caller{Uid: 0, Gid: 0})
}

func TestAdapterLifecycle(t *testing.T) {
	a := newTestAdapter(t)

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "docs", Mode: os.FileMode(0o755)}
	require.NoError(t, a.MkDir(mkdirOp))
	dirInode := mkdirOp.Entry.Child
	assert.True(t, mkdirOp.Entry.Attributes.Mode.IsDir())

	createOp := &fuseops.CreateFileOp{Parent: dirInode, Name: "a.txt", Mode: os.FileMode(0o644)}
	require.NoError(t, a.CreateFile(createOp))
	fileInode := createOp.Entry.Child

	writeOp := &fuseops.WriteFileOp{Inode: fileInode, Data: []byte("hello")}
	require.NoError(t, a.WriteFile(writeOp))

	getAttrOp := &fuseops.GetInodeAttributesOp{Inode: fileInode}
	require.NoError(t, a.GetInodeAttributes(getAttrOp))
	assert.Equal(t, uint64(5), getAttrOp.Attributes.Size)

	readOp := &fuseops.ReadFileOp{Inode: fileInode, Dst: make([]byte, 5)}
	require.NoError(t, a.ReadFile(readOp))
	assert.Equal(t, 5, readOp.BytesRead)
	assert.Equal(t, "hello", string(readOp.Dst[:readOp.BytesRead]))

	lookupOp := &fuseops.LookUpInodeOp{Parent: dirInode, Name: "a.txt"}
	require.NoError(t, a.LookUpInode(lookupOp))
	assert.Equal(t, fileInode, lookupOp.Entry.Child)

	openDirOp := &fuseops.OpenDirOp{Inode: dirInode}
	require.NoError(t, a.OpenDir(openDirOp))
	readDirOp := &fuseops.ReadDirOp{Inode: dirInode, Handle: openDirOp.Handle, Dst: make([]byte, 4096)}
	require.NoError(t, a.ReadDir(readDirOp))
	assert.Greater(t, readDirOp.BytesRead, 0)
	require.NoError(t, a.ReleaseDirHandle(&fuseops.ReleaseDirHandleOp{Handle: openDirOp.Handle}))

	renameOp := &fuseops.RenameOp{OldParent: dirInode, OldName: "a.txt", NewParent: fuseops.RootInodeID, NewName: "b.txt"}
	require.NoError(t, a.Rename(renameOp))

	require.NoError(t, a.Unlink(&fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "b.txt"}))
	require.NoError(t, a.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "docs"}))

	statOp := &fuseops.StatFSOp{}
	require.NoError(t, a.StatFS(statOp))
	assert.Greater(t, statOp.Inodes, uint64(0))
}

func TestAdapterLookupMissingReturnsENOENT(t *testing.T) {
	a := newTestAdapter(t)
	err := a.LookUpInode(&fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"})
	assert.Error(t, err)
}
