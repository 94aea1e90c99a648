// Package metrics provides Prometheus metrics for go-spawn-sync.
//
// Every metric is owned by a Collector and registered on the registry it
// was created with, so tests can use an isolated prometheus.Registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-spawn-sync/internal/process"
	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

const namespace = "spawn_sync"

// CollectorConfig holds the static labels of a batch.
type CollectorConfig struct {
	Version    string
	Command    string
	TargetRuns int
	Workers    int
}

// Collector records spawn results as Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	info          *prometheus.GaugeVec
	targetRuns    prometheus.Gauge
	workers       prometheus.Gauge
	inFlight      prometheus.Gauge
	progress      prometheus.Gauge
	runsTotal     *prometheus.CounterVec
	retriesTotal  prometheus.Counter
	exitCodes     *prometheus.CounterVec
	signals       *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	runDuration   prometheus.Histogram
	launchLatency prometheus.Histogram

	targetCount int
}

// NewCollector creates a collector on the default Prometheus registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		gatherer:    gatherer,
		targetCount: cfg.TargetRuns,

		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the batch (value always 1)",
		}, []string{"version", "command"}),

		targetRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_runs",
			Help:      "Number of runs requested",
		}),

		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Configured number of concurrent runs",
		}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently inside a synchronous spawn",
		}),

		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_progress",
			Help:      "Fraction of runs scheduled (0.0 to 1.0)",
		}),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome",
		}, []string{"outcome"}),

		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_retries_total",
			Help:      "Spawn attempts repeated after a launch failure",
		}),

		exitCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_codes_total",
			Help:      "Children that exited normally, by exit code",
		}, []string{"code"}),

		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Children terminated by a signal, by signal name",
		}, []string{"signal"}),

		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes moved through child pipes, by stream",
		}, []string{"stream"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time from launch until the child was reaped",
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
			},
		}),

		launchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_wall_seconds",
			Help:      "Wall time of a run including launch retries and backoff",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 12),
		}),
	}

	registry.MustRegister(
		c.info,
		c.targetRuns,
		c.workers,
		c.inFlight,
		c.progress,
		c.runsTotal,
		c.retriesTotal,
		c.exitCodes,
		c.signals,
		c.bytesTotal,
		c.runDuration,
		c.launchLatency,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Command).Set(1)
	c.targetRuns.Set(float64(cfg.TargetRuns))
	c.workers.Set(float64(cfg.Workers))

	// Pre-create label values so dashboards show zeros instead of gaps.
	for _, o := range supervisor.Outcomes {
		c.runsTotal.WithLabelValues(string(o))
	}
	for _, s := range []string{"stdin", "stdout", "stderr"} {
		c.bytesTotal.WithLabelValues(s)
	}

	return c
}

// RunStarted increments the in-flight gauge.
func (c *Collector) RunStarted() {
	c.inFlight.Inc()
}

// RunFinished records one completed run and decrements the in-flight gauge.
func (c *Collector) RunFinished(r process.Result) {
	c.inFlight.Dec()
	c.runsTotal.WithLabelValues(string(r.Outcome)).Inc()
	if r.Attempts > 1 {
		c.retriesTotal.Add(float64(r.Attempts - 1))
	}

	res := r.Spawn
	switch {
	case res.ExitCode >= 0:
		c.exitCodes.WithLabelValues(strconv.Itoa(res.ExitCode)).Inc()
	case res.ExitSignal >= 0:
		c.signals.WithLabelValues(stats.SignalName(res.ExitSignal)).Inc()
	}

	c.bytesTotal.WithLabelValues("stdin").Add(float64(res.StdinWritten))
	c.bytesTotal.WithLabelValues("stdout").Add(float64(res.StdoutRead))
	c.bytesTotal.WithLabelValues("stderr").Add(float64(res.StderrRead))

	if res.Pid > 0 {
		c.runDuration.Observe(res.Duration.Seconds())
	}
	c.launchLatency.Observe(r.Elapsed().Seconds())
}

// SetScheduled updates the schedule progress gauge.
func (c *Collector) SetScheduled(scheduled int) {
	if c.targetCount <= 0 {
		return
	}
	c.progress.Set(float64(scheduled) / float64(c.targetCount))
}

// Gatherer returns the gatherer the collector's metrics can be read from.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// OutcomeCounts reads runs_total back from the registry, keyed by outcome.
func (c *Collector) OutcomeCounts() (map[string]float64, error) {
	families, err := c.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != namespace+"_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			counts[labelValue(m, "outcome")] = m.GetCounter().GetValue()
		}
	}
	return counts, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
