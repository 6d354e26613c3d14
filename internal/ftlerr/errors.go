// Package ftlerr defines the error taxonomy shared by every FTL
// component: geometry enumeration, the allocator, the per-file page
// list, the I/O primitives, and the four file adapters.
package ftlerr

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ftlerr")

// exitFunc is the process-abort hook MaybeFatal calls; swapped out in
// tests so they can observe the decision without killing the test
// binary.
var exitFunc = os.Exit

// Kind classifies an FTL error so callers can branch on it with
// errors.Is without string matching.
type Kind int

const (
	// DeviceOpen: the device node or configure-sysfs entry is unavailable.
	// Fatal to Open.
	DeviceOpen Kind = iota
	// GeometryQuery: an enumeration ioctl failed. Fatal to Open.
	GeometryQuery
	// OutOfSpace: the allocator could not satisfy a page or block request.
	OutOfSpace
	// OutOfBounds: Skip past end, or an offset beyond size where not permitted.
	OutOfBounds
	// Corrupt: the FTL state file is mis-formatted.
	Corrupt
	// ClosedHandle: an operation was attempted on an already-closed writer.
	ClosedHandle
	// EraseFailure: a block erase ioctl failed. Fatal; the block is lost.
	EraseFailure
	// DeviceIO: a non-EINTR pread/pwrite error.
	DeviceIO
)

func (k Kind) String() string {
	switch k {
	case DeviceOpen:
		return "device-open"
	case GeometryQuery:
		return "geometry-query"
	case OutOfSpace:
		return "out-of-space"
	case OutOfBounds:
		return "out-of-bounds"
	case Corrupt:
		return "corrupt"
	case ClosedHandle:
		return "closed-handle"
	case EraseFailure:
		return "erase-failure"
	case DeviceIO:
		return "device-io"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind should abort the process
// rather than be surfaced to the adapter caller (spec.md §7).
func (k Kind) Fatal() bool {
	switch k {
	case DeviceOpen, GeometryQuery, EraseFailure:
		return true
	default:
		return false
	}
}

// Error is the concrete error type every FTL component returns.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// through an Error.
func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is(err, ftlerr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that wraps cause, preserving its stack via
// github.com/pkg/errors so GeometryQuery/DeviceOpen/EraseFailure
// failures keep the ioctl/syscall context that caused them.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: errors.WithStack(cause)}
}

// Sentinel returns a zero-value Error of the given kind, suitable as
// the target of errors.Is when callers only care about the kind.
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// MaybeFatal aborts the process if err wraps an *Error whose Kind is
// Fatal() (DeviceOpen, GeometryQuery, EraseFailure). spec.md §7: these
// kinds leave geometry enumeration or the allocator's bitmap in a
// state no caller can safely continue from, so they must not be
// swallowed and retried. Every other Kind is left for the caller to
// handle as usual; MaybeFatal is a no-op for those and for nil/non-FTL
// errors. Called at the points these kinds are actually produced
// (geometry.Open, geometry.OpenIoctlDevice,
// alloc.Allocator.ReclaimBlock) rather than left for
// each caller to remember to check.
func MaybeFatal(err error) {
	var e *Error
	if errors.As(err, &e) && e.Kind.Fatal() {
		log.WithError(err).WithField("kind", e.Kind).Error("fatal FTL error, aborting process")
		exitFunc(1)
	}
}

// WithExitFuncForTest replaces the hook MaybeFatal calls to abort the
// process, returning a func that restores the previous hook. Other
// packages' tests that deliberately drive a Fatal()-kind error path
// (e.g. geometry.Open rejecting a bad device) use this so MaybeFatal's
// decision can be observed without killing the test binary.
func WithExitFuncForTest(f func(int)) (restore func()) {
	prev := exitFunc
	exitFunc = f
	return func() { exitFunc = prev }
}
