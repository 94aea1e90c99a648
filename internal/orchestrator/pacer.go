// Package orchestrator runs a command many times across a worker pool.
package orchestrator

import (
	"context"
	"math/rand"
	"time"
)

// Pacer controls the rate at which runs are dispatched, so a large batch
// does not fork everything at once. Each run gets a deterministic jitter
// derived from its index and the batch seed.
type Pacer struct {
	rate      int // runs per second, <= 0 means unpaced
	maxJitter time.Duration
	seed      int64
}

// NewPacer creates a pacer seeded from the current time.
func NewPacer(rate int, maxJitter time.Duration) *Pacer {
	return NewPacerWithSeed(rate, maxJitter, time.Now().UnixNano())
}

// NewPacerWithSeed creates a pacer with a fixed seed for reproducible timing.
func NewPacerWithSeed(rate int, maxJitter time.Duration, seed int64) *Pacer {
	return &Pacer{rate: rate, maxJitter: maxJitter, seed: seed}
}

// Delay returns how long to wait before dispatching run.
// With a rate set, jitter is capped at half the base interval.
func (p *Pacer) Delay(run int) time.Duration {
	var base time.Duration
	if p.rate > 0 {
		base = time.Second / time.Duration(p.rate)
	}

	limit := p.maxJitter
	if base > 0 && limit > base/2 {
		limit = base / 2
	}
	return base + p.jitter(run, limit)
}

func (p *Pacer) jitter(run int, limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(int64(run) ^ p.seed))
	return time.Duration(rng.Int63n(int64(limit)))
}

// Wait blocks for Delay(run). Returns the context error if cancelled first.
func (p *Pacer) Wait(ctx context.Context, run int) error {
	return sleepContext(ctx, p.Delay(run))
}

// EstimatedDuration returns the expected time to dispatch runs.
func (p *Pacer) EstimatedDuration(runs int) time.Duration {
	if p.rate <= 0 || runs <= 1 {
		return 0
	}
	base := time.Second / time.Duration(p.rate)
	limit := min(p.maxJitter, base/2)
	return time.Duration(runs-1) * (base + limit/2)
}

// Rate returns the configured rate in runs per second.
func (p *Pacer) Rate() int {
	return p.rate
}
