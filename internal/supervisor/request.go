// Package supervisor runs a child process to completion inside one blocking call.
//
// The caller hands over a Request holding the argv, an in-memory stdin buffer
// and fixed-size capture buffers for stdout and stderr. Run spawns the child,
// pumps the three streams through non-blocking pipes from a private poll loop,
// enforces the wall-clock deadline and returns only once the child has been
// reaped and every descriptor it created is closed.
package supervisor

import (
	"syscall"
	"time"
)

// Request describes one synchronous spawn. It is read but never modified by Run.
type Request struct {
	// File is the executable path. It is used verbatim; no PATH search is done.
	File string

	// Args is the argv vector, conventionally starting with File.
	// When empty, []string{File} is used.
	Args []string

	// Dir is the child's working directory. Empty inherits the parent's.
	Dir string

	// Env is the child's environment. Nil inherits the parent's environment.
	Env []string

	// Timeout bounds the whole call. Zero disables the deadline.
	Timeout time.Duration

	// CombineStderr sends the child's stderr into the stdout pipe.
	// Stderr is ignored when set.
	CombineStderr bool

	// Stdin is written to the child's fd 0. Nil or empty gives the child /dev/null.
	Stdin []byte

	// Stdout receives the child's fd 1 from offset 0. len(Stdout) is the
	// capacity; producing more is an overflow. Nil discards the stream.
	Stdout []byte

	// Stderr receives the child's fd 2, with the same rules as Stdout.
	Stderr []byte

	// KillSignal is delivered when the deadline fires. Defaults to SIGKILL.
	// A catchable signal is followed by SIGKILL after the overflow grace.
	KillSignal syscall.Signal

	// NewProcessGroup places the child in its own process group and
	// delivers terminal signals to the whole group.
	NewProcessGroup bool
}

// streamMode says where one of the child's output streams goes.
type streamMode int

const (
	streamDiscarded streamMode = iota
	streamCaptured
	streamCombined
)

func (m streamMode) String() string {
	switch m {
	case streamDiscarded:
		return "discarded"
	case streamCaptured:
		return "captured"
	case streamCombined:
		return "combined"
	default:
		return "unknown"
	}
}

func (r *Request) stdoutMode() streamMode {
	if r.Stdout != nil {
		return streamCaptured
	}
	return streamDiscarded
}

// stderrMode reports streamCombined only when there is a stdout pipe to join;
// combining into a discarded stdout discards both.
func (r *Request) stderrMode() streamMode {
	if r.CombineStderr {
		if r.Stdout != nil {
			return streamCombined
		}
		return streamDiscarded
	}
	if r.Stderr != nil {
		return streamCaptured
	}
	return streamDiscarded
}

func (r *Request) argv() []string {
	if len(r.Args) == 0 {
		return []string{r.File}
	}
	return r.Args
}

func (r *Request) killSignal() syscall.Signal {
	if r.KillSignal == 0 {
		return syscall.SIGKILL
	}
	return r.KillSignal
}

func (r *Request) validate() error {
	if r.File == "" {
		return &Error{Kind: KindLaunchFailed, Op: "validate: file is required", Errno: syscall.EINVAL}
	}
	if r.Timeout < 0 {
		return &Error{Kind: KindLaunchFailed, Op: "validate: negative timeout", Errno: syscall.EINVAL}
	}
	return nil
}
