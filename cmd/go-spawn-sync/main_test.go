//go:build linux

package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/randomizedcoder/go-spawn-sync/internal/config"
	"github.com/randomizedcoder/go-spawn-sync/internal/logging"
	"github.com/randomizedcoder/go-spawn-sync/internal/metrics"
	"github.com/randomizedcoder/go-spawn-sync/internal/process"
)

func shellConfig(script string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Path = "/bin/sh"
	cfg.Args = []string{"sh", "-c", script}
	return cfg
}

func TestRunOnce(t *testing.T) {
	logger := logging.NewLoggerWithWriter(io.Discard, "text", "info")

	tests := []struct {
		name   string
		script string
		output string
		want   int
	}{
		{"success text", "echo hello", "text", exitOK},
		{"success json", "echo hello", "json", exitOK},
		{"nonzero exit", "exit 3", "text", exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := shellConfig(tt.script)
			cfg.Output = tt.output
			if got := runOnce(cfg, process.NewBuilder(cfg), logger); got != tt.want {
				t.Errorf("runOnce() = %d, want %d", got, tt.want)
			}
		})
	}
}

// runBatch registers on the default Prometheus registry, so it runs once per
// test binary.
func TestRunBatch(t *testing.T) {
	logger := logging.NewLoggerWithWriter(io.Discard, "text", "info")
	out := filepath.Join(t.TempDir(), "batch.prom")

	cfg := shellConfig("exit 0")
	cfg.Runs = 4
	cfg.Workers = 2
	cfg.MetricsOut = out

	if got := runBatch(cfg, process.NewBuilder(cfg), logger); got != exitOK {
		t.Fatalf("runBatch() = %d, want %d", got, exitOK)
	}

	families, err := metrics.ReadTextfile(out)
	if err != nil {
		t.Fatalf("ReadTextfile() error = %v", err)
	}
	mf, ok := families["spawn_sync_runs_total"]
	if !ok {
		t.Fatal("spawn_sync_runs_total missing from textfile")
	}

	var success float64
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "outcome" && lp.GetValue() == "success" {
				success = m.GetCounter().GetValue()
			}
		}
	}
	if success != 4 {
		t.Errorf("success runs = %v, want 4", success)
	}
}
