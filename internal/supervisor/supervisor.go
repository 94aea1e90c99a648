package supervisor

import (
	"log/slog"
	"time"
)

const (
	// DefaultOverflowGrace is how long a child gets between SIGTERM and
	// SIGKILL after overflowing a buffer, or after a non-SIGKILL timeout signal.
	DefaultOverflowGrace = 200 * time.Millisecond

	// DefaultReapInterval is the wake-up period used to poll for child exit
	// when the kernel has no pidfd support.
	DefaultReapInterval = 10 * time.Millisecond
)

// Config holds settings shared by every run of a Supervisor.
type Config struct {
	// Logger receives debug and warning events. Nil discards them.
	Logger *slog.Logger

	// OverflowGrace is the SIGTERM to SIGKILL window. Zero uses
	// DefaultOverflowGrace; negative sends SIGKILL straight away.
	OverflowGrace time.Duration

	// ReapInterval bounds each poll wait when no pidfd is available.
	ReapInterval time.Duration
}

// Supervisor spawns children synchronously. It holds no per-run state and is
// safe for concurrent use; each Run works on its own pipes and poll set.
type Supervisor struct {
	logger        *slog.Logger
	overflowGrace time.Duration
	reapInterval  time.Duration
}

// New creates a Supervisor, filling zero Config fields with defaults.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	grace := cfg.OverflowGrace
	if grace == 0 {
		grace = DefaultOverflowGrace
	}
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Supervisor{
		logger:        logger,
		overflowGrace: grace,
		reapInterval:  interval,
	}
}

var defaultSupervisor = New(Config{})

// Sync runs req on a Supervisor with default settings.
func Sync(req Request) (Result, error) {
	return defaultSupervisor.Run(req)
}
