// Package main provides the go-spawn-sync CLI entry point.
//
// go-spawn-sync runs a command synchronously with bounded output capture and
// an optional deadline, either once or as a paced batch across a worker pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-spawn-sync/internal/config"
	"github.com/randomizedcoder/go-spawn-sync/internal/logging"
	"github.com/randomizedcoder/go-spawn-sync/internal/metrics"
	"github.com/randomizedcoder/go-spawn-sync/internal/orchestrator"
	"github.com/randomizedcoder/go-spawn-sync/internal/preflight"
	"github.com/randomizedcoder/go-spawn-sync/internal/process"
	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
	"github.com/randomizedcoder/go-spawn-sync/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-spawn-sync
var version = "dev"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return exitUsage
	}

	if cfg.ShowVersion {
		fmt.Printf("go-spawn-sync %s\n", version)
		return exitOK
	}

	// Logs would tear the TUI's alternate screen.
	var logger *slog.Logger
	if cfg.TUIEnabled && cfg.IsBatch() {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		level := "info"
		if cfg.Verbose {
			level = "debug"
		}
		logger = logging.NewLogger(cfg.LogFormat, level, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitUsage
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger.Info("check_mode_enabled", "timeout", cfg.Timeout.String())
	}

	builder := process.NewBuilder(cfg)

	if cfg.PrintCmd {
		fmt.Println(builder.CommandString())
		return exitOK
	}

	path, err := builder.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}

	if !cfg.SkipPreflight {
		result := preflight.RunAll(cfg.Workers, path)
		if !result.Passed || cfg.Check || cfg.Verbose {
			preflight.PrintResults(os.Stderr, result)
		}
		if !result.Passed {
			return exitFailed
		}
	}

	logger.Debug("starting",
		"version", version,
		"command", builder.CommandString(),
		"runs", cfg.Runs,
		"workers", cfg.Workers,
	)

	if !cfg.IsBatch() {
		return runOnce(cfg, builder, logger)
	}
	return runBatch(cfg, builder, logger)
}

// runOnce spawns the command a single time and prints its report.
func runOnce(cfg *config.Config, builder *process.Builder, logger *slog.Logger) int {
	req, err := builder.BuildRequest(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}

	sup := supervisor.New(supervisor.Config{
		Logger:        logger,
		OverflowGrace: cfg.OverflowGrace,
	})
	res, err := sup.Run(req)

	if cfg.Verbose && len(res.Stderr) > 0 {
		logging.NewOutputHandler("stderr", logger, true).HandleBytes(res.Stderr)
	}

	report := tui.NewReport(builder.CommandString(), res, err)
	if cfg.Output == "json" {
		err = errors.Join(err, tui.WriteJSON(os.Stdout, report))
	} else {
		err = errors.Join(err, tui.WriteText(os.Stdout, report))
	}

	if err != nil || report.Outcome != supervisor.OutcomeSuccess {
		return exitFailed
	}
	return exitOK
}

// runBatch runs the command cfg.Runs times and prints a summary.
func runBatch(cfg *config.Config, builder *process.Builder, logger *slog.Logger) int {
	collector := metrics.NewCollector(metrics.CollectorConfig{
		Version:    version,
		Command:    builder.Name(),
		TargetRuns: cfg.Runs,
		Workers:    cfg.Workers,
	})

	var server *metrics.Server
	if cfg.MetricsAddr != "" {
		server = metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, logger)
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: metrics server: %v\n", err)
			return exitFailed
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Warn("metrics_shutdown_failed", "error", err)
			}
		}()
	}

	agg := stats.NewAggregator(cfg.Runs)
	sup := supervisor.New(supervisor.Config{
		Logger:        logger,
		OverflowGrace: cfg.OverflowGrace,
	})

	orch := orchestrator.New(orchestrator.Config{
		Runs:          cfg.Runs,
		Workers:       cfg.Workers,
		Rate:          cfg.Rate,
		RateJitter:    cfg.RateJitter,
		Retries:       cfg.Retries,
		Backoff:       orchestrator.BackoffConfigFrom(cfg),
		Seed:          time.Now().UnixNano(),
		Verbose:       cfg.Verbose,
		HandleSignals: true,
	}, builder, sup, collector, agg, logger)

	var (
		program *tea.Program
		tuiDone chan struct{}
	)
	if cfg.TUIEnabled {
		metricsAddr := ""
		if server != nil {
			metricsAddr = server.Addr()
		}
		program = tea.NewProgram(tui.New(tui.Config{
			Command:     builder.CommandString(),
			TargetRuns:  cfg.Runs,
			Workers:     cfg.Workers,
			MetricsAddr: metricsAddr,
			Source:      agg,
		}), tea.WithAltScreen())

		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()
	}

	report, runErr := orch.Run(context.Background())

	if program != nil {
		tui.SendDone(program, report.Interrupted)
		tui.SendQuit(program)
		<-tuiDone
	}

	if cfg.MetricsOut != "" {
		if err := metrics.WriteTextfile(prometheus.DefaultGatherer, cfg.MetricsOut); err != nil {
			fmt.Fprintf(os.Stderr, "Error: metrics textfile: %v\n", err)
			runErr = errors.Join(runErr, err)
		}
	}

	metricsAddr := ""
	if server != nil {
		metricsAddr = server.Addr()
	}
	fmt.Print(stats.FormatSummary(agg.Snapshot(), stats.SummaryConfig{
		Command:     builder.CommandString(),
		Workers:     cfg.Workers,
		MetricsAddr: metricsAddr,
		Interrupted: report.Interrupted,
	}))

	if runErr != nil && !report.Interrupted {
		logger.Error("batch_failed", "error", runErr)
	}
	if runErr != nil || report.Failed > 0 || report.Interrupted {
		return exitFailed
	}
	return exitOK
}
