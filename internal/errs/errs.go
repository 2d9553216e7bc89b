// Package errs defines the closed set of error kinds returned across the
// engine's public surface. Fallible operations in tree, filedata, wal,
// persist, recovery, and engine return an *Error built with New or Wrap;
// callers use KindOf or errors.Is/As rather than comparing error values
// directly, since an *Error also carries an Op and Detail for diagnostics.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of engine-level failure categories. Values are
// stable and are the only thing a front-end adapter needs to translate into
// an OS errno.
type Kind int

const (
	// NotFound indicates a path or node does not exist.
	NotFound Kind = iota + 1
	// Exists indicates a name collision under a parent.
	Exists
	// NotDirectory indicates an operation that required a directory was
	// given something else.
	NotDirectory
	// IsDirectory indicates an operation that required a non-directory was
	// given a directory.
	IsDirectory
	// NotEmpty indicates rmdir was attempted on a non-empty directory.
	NotEmpty
	// InvalidPath indicates an empty component, oversized name, or illegal
	// byte in a path or name.
	InvalidPath
	// PermissionDenied indicates the permission check failed.
	PermissionDenied
	// OutOfSpace indicates no node slot, child slot, or storage capacity
	// remains.
	OutOfSpace
	// IOError indicates an mmap/fsync/read/write failure at the OS boundary.
	IOError
	// Corruption indicates an invariant violation detected at runtime. It is
	// distinct from a WAL torn tail, which is expected and handled.
	Corruption
	// RecoveryRequired indicates the store is flagged and refuses further
	// mutation until recovery completes.
	RecoveryRequired
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case NotDirectory:
		return "NotDirectory"
	case IsDirectory:
		return "IsDirectory"
	case NotEmpty:
		return "NotEmpty"
	case InvalidPath:
		return "InvalidPath"
	case PermissionDenied:
		return "PermissionDenied"
	case OutOfSpace:
		return "OutOfSpace"
	case IOError:
		return "IOError"
	case Corruption:
		return "Corruption"
	case RecoveryRequired:
		return "RecoveryRequired"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across the engine's public
// surface. Op names the failing operation (e.g. "insert", "wal.append");
// Detail is a short human-readable annotation; Kind is always set.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errs.Sentinel(k)) to match any *Error whose
// Kind is k, regardless of its Op, Detail, or wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error for the given kind, operation, and detail.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap constructs an *Error that wraps an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: err.Error(), Err: err}
}

// Sentinel returns a bare *Error carrying only a Kind, suitable for use as
// the target of errors.Is(err, errs.Sentinel(errs.NotFound)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// KindOf extracts the Kind from err if it is (or wraps) an *Error, returning
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
