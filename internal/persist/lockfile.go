package persist

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ncandio/razorfs/internal/errs"
)

// Lockfile holds an advisory exclusive lock on a marker file inside the
// storage directory, preventing a second engine instance from attaching to
// the same on-disk image concurrently, using an explicit flock.
type Lockfile struct {
	f *os.File
}

// AcquireLockfile opens (creating if needed) path and takes a non-blocking
// exclusive flock on it. It returns errs.IOError wrapping syscall.EWOULDBLOCK
// if another process already holds the lock.
func AcquireLockfile(path string) (*Lockfile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "persist.AcquireLockfile", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IOError, "persist.AcquireLockfile", err)
	}
	return &Lockfile{f: f}, nil
}

// Release drops the lock and closes the marker file.
func (l *Lockfile) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return errs.Wrap(errs.IOError, "persist.Lockfile.Release", err)
	}
	if err := l.f.Close(); err != nil {
		return errs.Wrap(errs.IOError, "persist.Lockfile.Release", err)
	}
	return nil
}
