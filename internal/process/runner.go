// Package process turns configuration into spawn requests.
package process

import (
	"time"

	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// Runner creates spawn requests for batch runs.
// This interface keeps the orchestrator independent of how commands are built.
type Runner interface {
	// BuildRequest returns a request with fresh capture buffers for the given run.
	BuildRequest(run int) (supervisor.Request, error)

	// Name returns a human-readable name for the command.
	Name() string
}

// Result captures the outcome of one run, including launch retries.
type Result struct {
	Run      int
	Attempts int
	Spawn    supervisor.Result
	Err      error
	Outcome  supervisor.Outcome
	Start    time.Time
	End      time.Time
}

// Elapsed is the wall time of the run, retries and backoff included.
func (r Result) Elapsed() time.Duration {
	return r.End.Sub(r.Start)
}
