package supervisor

import (
	"math"
	"time"
)

// Deadline is a one-shot wall-clock countdown polled by the run loop.
// A zero timeout gives an inert deadline that never fires.
type Deadline struct {
	at    time.Time
	armed bool
	fired bool
}

// NewDeadline arms a deadline timeout after now.
func NewDeadline(now time.Time, timeout time.Duration) *Deadline {
	if timeout <= 0 {
		return &Deadline{}
	}
	return &Deadline{at: now.Add(timeout), armed: true}
}

// Armed reports whether the deadline can still fire.
func (d *Deadline) Armed() bool {
	return d.armed
}

// Fired reports whether Fire has returned true.
func (d *Deadline) Fired() bool {
	return d.fired
}

// Fire returns true exactly once, on the first call at or after the deadline.
func (d *Deadline) Fire(now time.Time) bool {
	if !d.armed || now.Before(d.at) {
		return false
	}
	d.armed = false
	d.fired = true
	return true
}

// Cancel disarms the deadline. Calling it more than once is harmless.
func (d *Deadline) Cancel() {
	d.armed = false
}

// Remaining returns the time left, zero once expired, or -1 when not armed.
func (d *Deadline) Remaining(now time.Time) time.Duration {
	if !d.armed {
		return -1
	}
	left := d.at.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// PollTimeout converts Remaining into a poll(2) timeout in milliseconds,
// rounded up so the loop never wakes just short of the deadline.
func (d *Deadline) PollTimeout(now time.Time) int {
	return durationToPollMs(d.Remaining(now))
}

func durationToPollMs(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// minPollTimeout picks the shorter of two poll timeouts, where -1 is infinite.
func minPollTimeout(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
