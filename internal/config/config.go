// Package config provides configuration management for go-spawn-sync.
package config

import "time"

// Discard is the capture capacity that sends a stream to /dev/null.
const Discard = -1

// Config holds all configuration options for a spawn or a batch of spawns.
type Config struct {
	// Command
	Path            string   `json:"path"`    // executable, resolved via PATH when it has no slash
	Args            []string `json:"args"`    // full argv, Args[0] included
	CmdLine         string   `json:"cmd"`     // shell-quoted command line, split into Args
	Dir             string   `json:"dir"`     // "" = inherit
	Env             []string `json:"env"`     // extra KEY=VALUE pairs on top of the parent's environment
	ClearEnv        bool     `json:"clear_env"`
	NewProcessGroup bool     `json:"new_process_group"`

	// Input
	Stdin     string `json:"stdin"`
	StdinFile string `json:"stdin_file"`

	// Limits
	Timeout       time.Duration `json:"timeout"`    // 0 = no deadline
	StdoutCap     int           `json:"stdout_cap"` // bytes, Discard = /dev/null
	StderrCap     int           `json:"stderr_cap"`
	Combine       bool          `json:"combine"`
	KillSignal    string        `json:"kill_signal"`
	OverflowGrace time.Duration `json:"overflow_grace"`

	// Batch
	Runs       int           `json:"runs"`
	Workers    int           `json:"workers"`
	Rate       int           `json:"rate"` // runs started per second, 0 = unpaced
	RateJitter time.Duration `json:"rate_jitter"`

	// Retry policy for launch failures
	Retries         int           `json:"retries"`
	BackoffInitial  time.Duration `json:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // "" = no HTTP endpoint
	MetricsOut  string `json:"metrics_out"`  // textfile written at exit
	TUIEnabled  bool   `json:"tui"`
	Output      string `json:"output"` // text, json
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text

	// Diagnostic modes
	JobFile       string `json:"job_file"`
	PrintCmd      bool   `json:"print_cmd"`
	Check         bool   `json:"check"`
	SkipPreflight bool   `json:"skip_preflight"`
	ShowVersion   bool   `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Limits
		Timeout:       30 * time.Second,
		StdoutCap:     1 << 20,
		StderrCap:     64 << 10,
		KillSignal:    "SIGKILL",
		OverflowGrace: 200 * time.Millisecond,

		// Batch
		Runs:    1,
		Workers: 1,

		// Retry policy
		Retries:         0,
		BackoffInitial:  250 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		BackoffMultiply: 1.7,

		// Observability
		Output:    "text",
		LogFormat: "text",
	}
}

// IsBatch reports whether more than one run was requested.
func (c *Config) IsBatch() bool {
	return c.Runs > 1
}

// ApplyCheckMode modifies config for -check mode: one verbose run, bounded to 10s.
func ApplyCheckMode(cfg *Config) {
	cfg.Runs = 1
	cfg.Workers = 1
	cfg.Verbose = true
	cfg.TUIEnabled = false
	if cfg.Timeout <= 0 || cfg.Timeout > 10*time.Second {
		cfg.Timeout = 10 * time.Second
	}
}
