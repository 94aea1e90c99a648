package supervisor

import (
	"errors"
	"time"
)

// Result is written by Run before it returns, on every path.
type Result struct {
	// Pid is the child's process ID, or -1 if launch failed.
	Pid int

	StdoutRead   int
	StderrRead   int
	StdinWritten int

	// ExitCode is the child's exit status, or -1 if it did not exit normally.
	ExitCode int

	// ExitSignal is the signal that terminated the child, or -1.
	ExitSignal int

	// ExitTimeout is true iff the deadline fired before the child was reaped
	// and the supervisor forced termination. ExitSignal then names the kill
	// signal only when that signal cannot be caught; a child that traps a
	// catchable KillSignal may report an ExitCode instead.
	ExitTimeout bool

	// Stdout and Stderr alias the request's buffers, trimmed to the bytes read.
	Stdout []byte
	Stderr []byte

	// Duration runs from launch until the child was reaped.
	Duration time.Duration
}

func newResult() Result {
	return Result{Pid: -1, ExitCode: -1, ExitSignal: -1}
}

// Outcome is a coarse classification of one spawn, used for metric labels
// and summaries.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeExitNonZero   Outcome = "exit_nonzero"
	OutcomeSignaled      Outcome = "signaled"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeOverflow      Outcome = "overflow"
	OutcomeIOError       Outcome = "io_error"
	OutcomeLaunchFailed  Outcome = "launch_failed"
	OutcomeResourceLimit Outcome = "resource_exhausted"
)

// Outcomes lists every Outcome in display order.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeExitNonZero,
	OutcomeSignaled,
	OutcomeTimeout,
	OutcomeOverflow,
	OutcomeIOError,
	OutcomeLaunchFailed,
	OutcomeResourceLimit,
}

// Classify maps the return values of Run to an Outcome.
func Classify(res Result, err error) Outcome {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return OutcomeResourceLimit
	case errors.Is(err, ErrLaunchFailed):
		return OutcomeLaunchFailed
	case errors.Is(err, ErrOverflow):
		return OutcomeOverflow
	case err != nil:
		return OutcomeIOError
	case res.ExitTimeout:
		return OutcomeTimeout
	case res.ExitSignal >= 0:
		return OutcomeSignaled
	case res.ExitCode == 0:
		return OutcomeSuccess
	default:
		return OutcomeExitNonZero
	}
}
