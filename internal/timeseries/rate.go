// Package timeseries tracks rolling completion rates for a running batch.
//
// A RateTracker keeps a ring of (time, cumulative count) samples, at most one
// per SampleInterval, and derives the rate over a trailing window from the
// oldest sample at or before the window start.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringSize retains five minutes of samples at one per second.
	ringSize = 300

	// SampleInterval is the minimum spacing between recorded samples.
	SampleInterval = time.Second

	Window10s = 10 * time.Second
	Window60s = 60 * time.Second
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

type sample struct {
	at    time.Time
	count int64
}

// RateTracker counts events and reports their rate over trailing windows.
// Add is lock-free; Sample and Rate take the ring lock.
type RateTracker struct {
	total atomic.Int64

	mu      sync.RWMutex
	samples []sample
	next    int
	start   time.Time
	clock   Clock
}

// NewRateTracker creates a tracker using the wall clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(ClockFunc(time.Now))
}

// NewRateTrackerWithClock creates a tracker driven by clock.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	t := &RateTracker{clock: clock}
	t.Reset()
	return t
}

// Add counts n events. Non-positive n is ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// Total returns the number of events counted since the last reset.
func (t *RateTracker) Total() int64 {
	return t.total.Load()
}

// Sample records the current count unless the newest sample is younger
// than SampleInterval. It reports whether a sample was recorded.
func (t *RateTracker) Sample() bool {
	now := t.clock.Now()
	count := t.total.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.newest().at) < SampleInterval {
		return false
	}

	s := sample{at: now, count: count}
	if len(t.samples) < ringSize {
		t.samples = append(t.samples, s)
	} else {
		t.samples[t.next] = s
		t.next = (t.next + 1) % ringSize
	}
	return true
}

// Rate returns events per second over the trailing window. With less
// history than window it uses everything recorded so far.
func (t *RateTracker) Rate(window time.Duration) float64 {
	now := t.clock.Now()
	count := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := now.Add(-window)
	base := t.oldest()
	for _, s := range t.samples {
		if !s.at.After(cutoff) && s.at.After(base.at) {
			base = s
		}
	}

	elapsed := now.Sub(base.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(count-base.count) / elapsed
}

// Overall returns events per second since the last reset.
func (t *RateTracker) Overall() float64 {
	now := t.clock.Now()

	t.mu.RLock()
	start := t.start
	t.mu.RUnlock()

	elapsed := now.Sub(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.total.Load()) / elapsed
}

// Reset clears the count and history.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.samples = make([]sample, 1, ringSize)
	t.samples[0] = sample{at: now}
	t.next = 0
	t.start = now
}

// SampleCount returns the number of samples held.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Must be called with mu held.
func (t *RateTracker) oldest() sample {
	if len(t.samples) < ringSize {
		return t.samples[0]
	}
	return t.samples[t.next]
}

// Must be called with mu held.
func (t *RateTracker) newest() sample {
	if len(t.samples) < ringSize {
		return t.samples[len(t.samples)-1]
	}
	return t.samples[(t.next+ringSize-1)%ringSize]
}
