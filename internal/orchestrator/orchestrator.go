package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-spawn-sync/internal/logging"
	"github.com/randomizedcoder/go-spawn-sync/internal/metrics"
	"github.com/randomizedcoder/go-spawn-sync/internal/process"
	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// Spawner runs one request to completion. *supervisor.Supervisor implements it.
type Spawner interface {
	Run(req supervisor.Request) (supervisor.Result, error)
}

// Config holds batch settings.
type Config struct {
	Runs       int
	Workers    int
	Rate       int
	RateJitter time.Duration
	Retries    int
	Backoff    BackoffConfig
	Seed       int64

	// Verbose logs every line the children wrote to stderr.
	Verbose bool

	// HandleSignals stops scheduling on SIGINT or SIGTERM.
	HandleSignals bool
}

// Report describes how a batch ended.
type Report struct {
	Scheduled   int
	Completed   int
	Failed      int
	Interrupted bool
	Duration    time.Duration
}

// Orchestrator dispatches runs of a single command to a pool of workers.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	runner  process.Runner
	spawner Spawner
	pacer   *Pacer

	metrics *metrics.Collector
	stats   *stats.Aggregator

	// OnResult, when set, is called from the worker after each run is recorded.
	OnResult func(process.Result)

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an Orchestrator. collector may be nil.
func New(cfg Config, runner process.Runner, spawner Spawner, collector *metrics.Collector, agg *stats.Aggregator, logger *slog.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if agg == nil {
		agg = stats.NewAggregator(cfg.Runs)
	}
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		runner:  runner,
		spawner: spawner,
		pacer:   NewPacerWithSeed(cfg.Rate, cfg.RateJitter, cfg.Seed),
		metrics: collector,
		stats:   agg,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Run executes the batch. It blocks until every scheduled run has finished.
// Cancelling ctx, or a signal when HandleSignals is set, stops scheduling;
// runs already in flight complete under their own timeout.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	start := o.now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.cfg.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				o.logger.Info("received_signal", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o.logger.Info("batch_starting",
		"command", o.runner.Name(),
		"runs", o.cfg.Runs,
		"workers", o.cfg.Workers,
		"rate", o.cfg.Rate,
		"estimated_dispatch", o.pacer.EstimatedDuration(o.cfg.Runs).String(),
	)

	jobs := make(chan int)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		report Report
	)

	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for run := range jobs {
				res := o.execute(ctx, run)
				mu.Lock()
				report.Completed++
				if res.Outcome != supervisor.OutcomeSuccess {
					report.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	report.Scheduled = o.dispatch(ctx, jobs)
	close(jobs)
	wg.Wait()

	report.Interrupted = report.Scheduled < o.cfg.Runs
	report.Duration = o.now().Sub(start)

	o.logger.Info("batch_complete",
		"scheduled", report.Scheduled,
		"completed", report.Completed,
		"failed", report.Failed,
		"interrupted", report.Interrupted,
		"duration", report.Duration.String(),
	)

	if report.Interrupted {
		return report, context.Cause(ctx)
	}
	return report, nil
}

// dispatch feeds run indices to the workers at the paced rate and returns
// how many were handed out.
func (o *Orchestrator) dispatch(ctx context.Context, jobs chan<- int) int {
	for i := 0; i < o.cfg.Runs; i++ {
		if i > 0 {
			if err := o.pacer.Wait(ctx, i); err != nil {
				o.logger.Info("dispatch_cancelled", "scheduled", i, "target", o.cfg.Runs)
				return i
			}
		}

		select {
		case jobs <- i:
		case <-ctx.Done():
			o.logger.Info("dispatch_cancelled", "scheduled", i, "target", o.cfg.Runs)
			return i
		}

		if o.metrics != nil {
			o.metrics.SetScheduled(i + 1)
		}
		if (i+1)%100 == 0 {
			o.logger.Debug("dispatch_progress", "scheduled", i+1, "target", o.cfg.Runs)
		}
	}
	return o.cfg.Runs
}

// execute runs one index, retrying launch failures, and records the result.
func (o *Orchestrator) execute(ctx context.Context, run int) process.Result {
	logger := logging.ForRun(o.logger, run)

	o.stats.RunStarted()
	if o.metrics != nil {
		o.metrics.RunStarted()
	}

	r := process.Result{Run: run, Start: o.now()}
	backoff := NewBackoff(run, o.cfg.Seed, o.cfg.Backoff)

	for {
		r.Attempts++
		req, err := o.runner.BuildRequest(run)
		if err != nil {
			r.Spawn = supervisor.Result{Pid: -1, ExitCode: -1, ExitSignal: -1}
			r.Err = err
			break
		}

		r.Spawn, r.Err = o.spawner.Run(req)
		if !retryable(r.Err) || backoff.Retries() >= o.cfg.Retries {
			break
		}

		delay := backoff.Next()
		logger.Warn("launch_retry",
			"attempt", r.Attempts,
			"delay", delay.String(),
			"error", r.Err,
		)
		if err := o.sleep(ctx, delay); err != nil {
			break
		}
	}

	r.End = o.now()
	r.Outcome = supervisor.Classify(r.Spawn, r.Err)
	if r.Err != nil && supervisor.KindOf(r.Err) == 0 {
		// The request could not be built, so nothing was launched.
		r.Outcome = supervisor.OutcomeLaunchFailed
	}

	if o.cfg.Verbose && len(r.Spawn.Stderr) > 0 {
		logging.NewOutputHandler("stderr", logger, true).HandleBytes(r.Spawn.Stderr)
	}

	logger.Debug("run_finished",
		"outcome", r.Outcome,
		"pid", r.Spawn.Pid,
		"exit_code", r.Spawn.ExitCode,
		"exit_signal", r.Spawn.ExitSignal,
		"attempts", r.Attempts,
		"elapsed", r.Elapsed().String(),
	)

	o.stats.RunFinished(r)
	if o.metrics != nil {
		o.metrics.RunFinished(r)
	}
	if o.OnResult != nil {
		o.OnResult(r)
	}
	return r
}

// retryable reports whether a spawn error may succeed on another attempt.
func retryable(err error) bool {
	return errors.Is(err, supervisor.ErrLaunchFailed) ||
		errors.Is(err, supervisor.ErrResourceExhausted)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats returns the aggregator the orchestrator records into.
func (o *Orchestrator) Stats() *stats.Aggregator {
	return o.stats
}
