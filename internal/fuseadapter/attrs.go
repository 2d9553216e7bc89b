package fuseadapter

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ncandio/razorfs/internal/tree"
)

// inodeOffset maps tree.RootIndex (0) to fuseops.RootInodeID (1):
// toFuseInode/toNodeIdx shift every node index by one since the kernel
// reserves inode 1 for the mount root.
const inodeOffset = 1

func toFuseInode(nodeIdx uint16) fuseops.InodeID {
	return fuseops.InodeID(nodeIdx) + inodeOffset
}

func toNodeIdx(id fuseops.InodeID) uint16 {
	return uint16(id - inodeOffset)
}

// toAttributes converts a tree.Attr snapshot into the InodeAttributes
// struct a fuseops op response carries, matching the field set
// fs/fs.go's Attributes() callers fill in.
func toAttributes(a tree.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(a.Perm)
	switch a.Type {
	case tree.TypeDirectory:
		mode |= os.ModeDir
	case tree.TypeSymlink:
		mode |= os.ModeSymlink
	}

	mtime := time.Unix(int64(a.Mtime), 0)
	return fuseops.InodeAttributes{
		Size:   a.Size,
		Nlink:  a.Nlink,
		Mode:   mode,
		Atime:  mtime,
		Mtime:  mtime,
		Ctime:  mtime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
}

func toDirentType(t tree.NodeType) fuseutil.DirentType {
	switch t {
	case tree.TypeDirectory:
		return fuseutil.DT_Directory
	case tree.TypeSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}
