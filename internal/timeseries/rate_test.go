package timeseries

import (
	"math"
	"sync"
	"testing"
	"time"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu   sync.Mutex
	time time.Time
}

func newMockClock() *mockClock {
	return &mockClock{time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// =============================================================================
// Tests: Add / Total
// =============================================================================

func TestRateTracker_Add(t *testing.T) {
	tests := []struct {
		name string
		adds []int64
		want int64
	}{
		{"single", []int64{1}, 1},
		{"many", []int64{1, 1, 1, 5}, 8},
		{"zero ignored", []int64{3, 0, 2}, 5},
		{"negative ignored", []int64{3, -7, 2}, 5},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewRateTrackerWithClock(newMockClock())
			for _, n := range tt.adds {
				tr.Add(n)
			}
			if got := tr.Total(); got != tt.want {
				t.Errorf("Total() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateTracker_ConcurrentAdd(t *testing.T) {
	tr := NewRateTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := tr.Total(); got != 8000 {
		t.Errorf("Total() = %d, want 8000", got)
	}
}

// =============================================================================
// Tests: Sample
// =============================================================================

func TestRateTracker_SampleSpacing(t *testing.T) {
	clock := newMockClock()
	tr := NewRateTrackerWithClock(clock)

	clock.Advance(500 * time.Millisecond)
	if tr.Sample() {
		t.Error("Sample() recorded before SampleInterval elapsed")
	}

	clock.Advance(500 * time.Millisecond)
	if !tr.Sample() {
		t.Error("Sample() skipped after SampleInterval elapsed")
	}
	if got := tr.SampleCount(); got != 2 {
		t.Errorf("SampleCount() = %d, want 2", got)
	}
}

func TestRateTracker_RingWraps(t *testing.T) {
	clock := newMockClock()
	tr := NewRateTrackerWithClock(clock)

	for i := 0; i < ringSize+50; i++ {
		clock.Advance(time.Second)
		tr.Add(2)
		tr.Sample()
	}

	if got := tr.SampleCount(); got != ringSize {
		t.Errorf("SampleCount() = %d, want %d", got, ringSize)
	}
	if got := tr.Rate(Window60s); !approx(got, 2) {
		t.Errorf("Rate(60s) = %v, want 2", got)
	}
}

// =============================================================================
// Tests: Rate
// =============================================================================

func TestRateTracker_Rate(t *testing.T) {
	clock := newMockClock()
	tr := NewRateTrackerWithClock(clock)

	// 1/s for 30s, then 10/s for 10s.
	for i := 0; i < 30; i++ {
		clock.Advance(time.Second)
		tr.Add(1)
		tr.Sample()
	}
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		tr.Add(10)
		tr.Sample()
	}

	tests := []struct {
		name   string
		window time.Duration
		want   float64
	}{
		{"10s window", Window10s, 10},
		{"20s window", 20 * time.Second, 5.5},
		{"window longer than history", Window60s, 130.0 / 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Rate(tt.window); !approx(got, tt.want) {
				t.Errorf("Rate(%v) = %v, want %v", tt.window, got, tt.want)
			}
		})
	}

	if got := tr.Overall(); !approx(got, 130.0/40) {
		t.Errorf("Overall() = %v, want %v", got, 130.0/40)
	}
}

func TestRateTracker_RateNoElapsed(t *testing.T) {
	tr := NewRateTrackerWithClock(newMockClock())
	tr.Add(5)

	if got := tr.Rate(Window10s); got != 0 {
		t.Errorf("Rate() = %v, want 0", got)
	}
	if got := tr.Overall(); got != 0 {
		t.Errorf("Overall() = %v, want 0", got)
	}
}

func TestRateTracker_Reset(t *testing.T) {
	clock := newMockClock()
	tr := NewRateTrackerWithClock(clock)

	clock.Advance(5 * time.Second)
	tr.Add(50)
	tr.Sample()
	tr.Reset()

	if tr.Total() != 0 || tr.SampleCount() != 1 {
		t.Errorf("after Reset: total=%d samples=%d", tr.Total(), tr.SampleCount())
	}

	clock.Advance(2 * time.Second)
	tr.Add(4)
	if got := tr.Overall(); !approx(got, 2) {
		t.Errorf("Overall() = %v, want 2", got)
	}
}

func BenchmarkRateTracker_Add(b *testing.B) {
	tr := NewRateTracker()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Add(1)
	}
}
