package supervisor

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies why a spawn failed.
type Kind int

const (
	// KindLaunchFailed means fork/exec or pre-exec setup failed. No child is running.
	KindLaunchFailed Kind = iota + 1

	// KindOverflow means a capture buffer filled. The child was terminated and
	// the buffer holds the first len(buf) bytes.
	KindOverflow

	// KindIO means an unexpected pipe, poll or wait error. The child was
	// killed and reaped.
	KindIO

	// KindResourceExhausted means the OS refused a pipe or descriptor before launch.
	KindResourceExhausted
)

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindLaunchFailed:
		return "launch_failed"
	case KindOverflow:
		return "overflow"
	case KindIO:
		return "io_error"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Run. Match it with errors.Is against the
// Err* sentinels, or with errors.As to read the OS errno.
type Error struct {
	Kind  Kind
	Op    string
	Errno syscall.Errno
}

// Sentinels for errors.Is. They carry only a Kind.
var (
	ErrLaunchFailed      = &Error{Kind: KindLaunchFailed}
	ErrOverflow          = &Error{Kind: KindOverflow}
	ErrIO                = &Error{Kind: KindIO}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
)

func (e *Error) Error() string {
	if e.Op == "" {
		return "spawn: " + e.Kind.String()
	}
	if e.Errno != 0 {
		return fmt.Sprintf("spawn: %s: %s: %v", e.Kind, e.Op, e.Errno)
	}
	return fmt.Sprintf("spawn: %s: %s", e.Kind, e.Op)
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unwrap exposes the errno so errors.Is(err, syscall.ENOENT) works.
func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// KindOf returns the Kind of err, or 0 when err is not a spawn error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Errno: errnoOf(err)}
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

// resourceError maps descriptor exhaustion to KindResourceExhausted and
// everything else to KindIO.
func resourceError(op string, err error) *Error {
	switch errnoOf(err) {
	case syscall.EMFILE, syscall.ENFILE, syscall.ENOMEM:
		return newError(KindResourceExhausted, op, err)
	default:
		return newError(KindIO, op, err)
	}
}
