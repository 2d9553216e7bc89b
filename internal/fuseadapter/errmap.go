package fuseadapter

import (
	"syscall"

	"github.com/ncandio/razorfs/internal/errs"
)

// toErrno translates an engine errs.Kind into the syscall.Errno jacobsa/fuse
// reports back to the kernel, the same way fuseutil/errors.go's ENOSYS
// constant is just an aliased errno value the FileSystem methods return
// directly as their error.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	kind, ok := errs.KindOf(err)
	if !ok {
		return syscall.EIO
	}
	switch kind {
	case errs.NotFound:
		return syscall.ENOENT
	case errs.Exists:
		return syscall.EEXIST
	case errs.NotDirectory:
		return syscall.ENOTDIR
	case errs.IsDirectory:
		return syscall.EISDIR
	case errs.NotEmpty:
		return syscall.ENOTEMPTY
	case errs.InvalidPath:
		return syscall.EINVAL
	case errs.PermissionDenied:
		return syscall.EACCES
	case errs.OutOfSpace:
		return syscall.ENOSPC
	case errs.IOError:
		return syscall.EIO
	case errs.Corruption, errs.RecoveryRequired:
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}
