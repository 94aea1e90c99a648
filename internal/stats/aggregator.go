// Package stats aggregates the outcomes of batch runs.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-spawn-sync/internal/logging"
	"github.com/randomizedcoder/go-spawn-sync/internal/process"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
	"github.com/randomizedcoder/go-spawn-sync/internal/timeseries"
)

// Snapshot is a consistent copy of the aggregate at one instant.
type Snapshot struct {
	Target    int
	Started   int
	Completed int
	InFlight  int
	PeakIn    int
	Retries   int

	Outcomes  map[supervisor.Outcome]int
	ExitCodes map[int]int
	Signals   map[int]int

	StdinBytes  int64
	StdoutBytes int64
	StderrBytes int64

	DurationP50 time.Duration
	DurationP95 time.Duration
	DurationP99 time.Duration
	DurationMax time.Duration

	StdoutP50 float64
	StdoutP99 float64

	// StderrMatches totals, per logging.ErrorPatterns entry, the stderr
	// lines that matched it across all runs. Only the last
	// logging.MaxBufferedLines lines of each run are scanned.
	StderrMatches map[string]int
	// FailedStderr is the stderr tail of the most recent failed run.
	FailedRun    int
	FailedStderr []string

	// RecentRate is completions per second over the last ten seconds.
	RecentRate float64

	Elapsed time.Duration
}

// SuccessRate is completed successes over completed runs, 0 when none finished.
func (s Snapshot) SuccessRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Outcomes[supervisor.OutcomeSuccess]) / float64(s.Completed)
}

// RunsPerSecond is the completion rate over the elapsed time.
func (s Snapshot) RunsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Completed) / s.Elapsed.Seconds()
}

// Aggregator accumulates run results. It is safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	target    int
	started   int
	completed int
	inFlight  int
	peakIn    int
	retries   int

	outcomes  map[supervisor.Outcome]int
	exitCodes map[int]int
	signals   map[int]int

	stdinBytes  int64
	stdoutBytes int64
	stderrBytes int64

	stderrMatches map[string]int
	failedRun     int
	failedStderr  []string

	// TDigest is not thread-safe; guarded by mu.
	durationDigest *tdigest.TDigest
	stdoutDigest   *tdigest.TDigest
	durationMax    time.Duration

	rate *timeseries.RateTracker

	startTime time.Time
	now       func() time.Time
}

// NewAggregator creates an aggregator expecting target runs.
func NewAggregator(target int) *Aggregator {
	a := &Aggregator{target: target, now: time.Now}
	a.rate = timeseries.NewRateTrackerWithClock(timeseries.ClockFunc(func() time.Time { return a.now() }))
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.started, a.completed, a.inFlight, a.peakIn, a.retries = 0, 0, 0, 0, 0
	a.outcomes = make(map[supervisor.Outcome]int)
	a.exitCodes = make(map[int]int)
	a.signals = make(map[int]int)
	a.stdinBytes, a.stdoutBytes, a.stderrBytes = 0, 0, 0
	a.stderrMatches = make(map[string]int)
	a.failedRun, a.failedStderr = -1, nil
	a.durationDigest = tdigest.NewWithCompression(100)
	a.stdoutDigest = tdigest.NewWithCompression(100)
	a.durationMax = 0
	a.rate.Reset()
	a.startTime = a.now()
}

// RunStarted marks one run as in flight.
func (a *Aggregator) RunStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started++
	a.inFlight++
	if a.inFlight > a.peakIn {
		a.peakIn = a.inFlight
	}
}

// failedTailLines is how many stderr lines are kept from the last failed run.
const failedTailLines = 5

// RunFinished records the result of a run started with RunStarted.
func (a *Aggregator) RunFinished(r process.Result) {
	var (
		matches map[string]int
		tail    []string
	)
	if len(r.Spawn.Stderr) > 0 {
		h := logging.NewOutputHandler("stderr", nil, false)
		h.HandleBytes(r.Spawn.Stderr)
		matches = h.CountErrors()
		if r.Outcome != supervisor.OutcomeSuccess {
			tail = h.RecentLines(failedTailLines)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for k, v := range matches {
		a.stderrMatches[k] += v
	}
	if tail != nil {
		a.failedRun, a.failedStderr = r.Run, tail
	}

	a.completed++
	if a.inFlight > 0 {
		a.inFlight--
	}
	if r.Attempts > 1 {
		a.retries += r.Attempts - 1
	}
	a.outcomes[r.Outcome]++
	a.rate.Add(1)

	res := r.Spawn
	switch {
	case res.ExitCode >= 0:
		a.exitCodes[res.ExitCode]++
	case res.ExitSignal >= 0:
		a.signals[res.ExitSignal]++
	}

	a.stdinBytes += int64(res.StdinWritten)
	a.stdoutBytes += int64(res.StdoutRead)
	a.stderrBytes += int64(res.StderrRead)

	// Launch failures have no child and no duration worth recording.
	if res.Pid > 0 {
		a.durationDigest.Add(res.Duration.Seconds(), 1)
		a.stdoutDigest.Add(float64(res.StdoutRead), 1)
		if res.Duration > a.durationMax {
			a.durationMax = res.Duration
		}
	}
}

// Snapshot returns a copy of the current aggregate.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Target:      a.target,
		Started:     a.started,
		Completed:   a.completed,
		InFlight:    a.inFlight,
		PeakIn:      a.peakIn,
		Retries:     a.retries,
		Outcomes:    make(map[supervisor.Outcome]int, len(a.outcomes)),
		ExitCodes:   make(map[int]int, len(a.exitCodes)),
		Signals:     make(map[int]int, len(a.signals)),
		StdinBytes:  a.stdinBytes,
		StdoutBytes: a.stdoutBytes,
		StderrBytes: a.stderrBytes,
		DurationMax: a.durationMax,
		Elapsed:     a.now().Sub(a.startTime),

		StderrMatches: make(map[string]int, len(a.stderrMatches)),
		FailedRun:     a.failedRun,
		FailedStderr:  append([]string(nil), a.failedStderr...),
	}
	a.rate.Sample()
	s.RecentRate = a.rate.Rate(timeseries.Window10s)
	for k, v := range a.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range a.exitCodes {
		s.ExitCodes[k] = v
	}
	for k, v := range a.signals {
		s.Signals[k] = v
	}
	for k, v := range a.stderrMatches {
		s.StderrMatches[k] = v
	}

	if a.durationDigest.Count() > 0 {
		s.DurationP50 = seconds(a.durationDigest.Quantile(0.50))
		s.DurationP95 = seconds(a.durationDigest.Quantile(0.95))
		s.DurationP99 = seconds(a.durationDigest.Quantile(0.99))
		s.StdoutP50 = a.stdoutDigest.Quantile(0.50)
		s.StdoutP99 = a.stdoutDigest.Quantile(0.99)
	}
	return s
}

// Elapsed returns time since the aggregator was created or reset.
func (a *Aggregator) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Sub(a.startTime)
}

// Reset clears all recorded data.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
