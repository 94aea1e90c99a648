package orchestrator

import (
	"math"
	"math/rand"
	"time"

	"github.com/randomizedcoder/go-spawn-sync/internal/config"
)

// BackoffConfig holds the configuration for launch retry backoff.
type BackoffConfig struct {
	Initial    time.Duration // delay before the first retry
	Max        time.Duration // cap on any single delay
	Multiplier float64       // growth per retry
	JitterPct  float64       // total jitter window as a fraction of the delay (0.4 = ±20%)
}

// DefaultBackoffConfig returns the defaults used when no flags are given.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.4,
	}
}

// BackoffConfigFrom reads the backoff settings of cfg.
func BackoffConfigFrom(cfg *config.Config) BackoffConfig {
	b := DefaultBackoffConfig()
	b.Initial = cfg.BackoffInitial
	b.Max = cfg.BackoffMax
	b.Multiplier = cfg.BackoffMultiply
	return b
}

// Backoff yields growing delays between launch attempts of one run.
// Jitter is seeded from the run index so a batch replays the same timing
// for the same seed.
type Backoff struct {
	config  BackoffConfig
	retries int
	rng     *rand.Rand
}

// NewBackoff creates the backoff for a single run.
func NewBackoff(run int, seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(int64(run) ^ seed)),
	}
}

// Next returns the delay before the next attempt and counts a retry.
func (b *Backoff) Next() time.Duration {
	d := b.delay(b.retries)
	b.retries++
	return d
}

// delay is Initial * Multiplier^n, capped at Max, with jitter applied after the cap.
func (b *Backoff) delay(n int) time.Duration {
	d := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(n))
	if d > float64(b.config.Max) {
		d = float64(b.config.Max)
	}

	if b.config.JitterPct > 0 {
		window := d * b.config.JitterPct
		d += window*b.rng.Float64() - window/2
	}

	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retries returns how many delays Next has handed out.
func (b *Backoff) Retries() int {
	return b.retries
}
