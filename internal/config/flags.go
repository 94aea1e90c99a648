package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// envList is a custom flag type for repeatable -env flags.
type envList []string

func (e *envList) String() string {
	if e == nil {
		return ""
	}
	return strings.Join(*e, ", ")
}

func (e *envList) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("expected KEY=VALUE, got %q", value)
	}
	*e = append(*e, value)
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args into a Config. When -job names a YAML file it is
// loaded first and the flags are applied on top of it. Arguments after the
// flags are the command's argv.
func ParseArgs(args []string, usage io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := newFlagSet(cfg, usage)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.JobFile != "" {
		base := DefaultConfig()
		if err := LoadJobFile(cfg.JobFile, base); err != nil {
			return nil, err
		}
		base.JobFile = cfg.JobFile
		fs = newFlagSet(base, usage)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		cfg = base
	}

	if rest := fs.Args(); len(rest) > 0 {
		if cfg.CmdLine != "" {
			return nil, ValidationError{Field: "cmd", Message: "-cmd and a positional command are mutually exclusive"}
		}
		cfg.Path = rest[0]
		cfg.Args = append([]string(nil), rest...)
	}

	if cfg.CmdLine != "" {
		argv, err := SplitCommand(cfg.CmdLine)
		if err != nil {
			return nil, err
		}
		cfg.Path = argv[0]
		cfg.Args = argv
	}

	return cfg, nil
}

func newFlagSet(cfg *Config, usage io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("go-spawn-sync", flag.ContinueOnError)
	fs.SetOutput(usage)
	env := (*envList)(&cfg.Env)

	fs.Usage = func() {
		fmt.Fprintf(usage, `go-spawn-sync - run a child process to completion with bounded capture

Usage:
  go-spawn-sync [flags] -- <command> [args...]
  go-spawn-sync [flags] -cmd "<command line>"
  go-spawn-sync [flags] -job job.yaml

Command:
`)
		printFlagCategory(fs, usage, []string{"cmd", "job", "dir", "env", "clear-env", "new-pgrp"})

		fmt.Fprintf(usage, "\nInput:\n")
		printFlagCategory(fs, usage, []string{"stdin", "stdin-file"})

		fmt.Fprintf(usage, "\nLimits:\n")
		printFlagCategory(fs, usage, []string{"timeout", "stdout-cap", "stderr-cap", "combine", "kill-signal", "overflow-grace"})

		fmt.Fprintf(usage, "\nBatch:\n")
		printFlagCategory(fs, usage, []string{"runs", "workers", "rate", "rate-jitter", "retries", "backoff-initial", "backoff-max", "backoff-multiply"})

		fmt.Fprintf(usage, "\nObservability:\n")
		printFlagCategory(fs, usage, []string{"metrics", "metrics-out", "tui", "output", "v", "log-format"})

		fmt.Fprintf(usage, "\nDiagnostics:\n")
		printFlagCategory(fs, usage, []string{"print-cmd", "check", "skip-preflight", "version"})

		fmt.Fprintf(usage, `
Examples:
  # Capture at most 4 KiB of output, give up after 2s
  go-spawn-sync -timeout 2s -stdout-cap 4096 -- ls -la /

  # Feed stdin from a file, merge stderr into stdout
  go-spawn-sync -stdin-file input.txt -combine -- sort

  # Run the same command 500 times, 16 at a time, 50 starts per second
  go-spawn-sync -runs 500 -workers 16 -rate 50 -tui -cmd "/bin/true"

`)
	}

	// Command
	fs.StringVar(&cfg.CmdLine, "cmd", cfg.CmdLine, "Command line, split with shell quoting rules")
	fs.StringVar(&cfg.JobFile, "job", cfg.JobFile, "YAML job file (flags override its values)")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Working directory for the child")
	fs.Var(env, "env", "Add KEY=VALUE to the child's environment (can repeat)")
	fs.BoolVar(&cfg.ClearEnv, "clear-env", cfg.ClearEnv, "Start the child with only the -env variables")
	fs.BoolVar(&cfg.NewProcessGroup, "new-pgrp", cfg.NewProcessGroup, "Run the child in its own process group and signal the group")

	// Input
	fs.StringVar(&cfg.Stdin, "stdin", cfg.Stdin, "Literal bytes written to the child's stdin")
	fs.StringVar(&cfg.StdinFile, "stdin-file", cfg.StdinFile, "File whose contents are written to the child's stdin")

	// Limits
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Wall-clock limit (0 = none)")
	fs.IntVar(&cfg.StdoutCap, "stdout-cap", cfg.StdoutCap, "Stdout capture buffer in bytes (-1 = discard)")
	fs.IntVar(&cfg.StderrCap, "stderr-cap", cfg.StderrCap, "Stderr capture buffer in bytes (-1 = discard)")
	fs.BoolVar(&cfg.Combine, "combine", cfg.Combine, "Send the child's stderr into the stdout buffer")
	fs.StringVar(&cfg.KillSignal, "kill-signal", cfg.KillSignal, `Signal sent at the deadline, e.g. "SIGTERM" or "9"`)
	fs.DurationVar(&cfg.OverflowGrace, "overflow-grace", cfg.OverflowGrace, "Delay between SIGTERM and SIGKILL after an overflow")

	// Batch
	fs.IntVar(&cfg.Runs, "runs", cfg.Runs, "Number of times to run the command")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Runs in flight at once")
	fs.IntVar(&cfg.Rate, "rate", cfg.Rate, "Runs started per second (0 = as fast as workers allow)")
	fs.DurationVar(&cfg.RateJitter, "rate-jitter", cfg.RateJitter, "Random jitter per run start")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Retries per run when launch fails")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "First retry delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry delay")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Retry delay multiplier")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.MetricsOut, "metrics-out", cfg.MetricsOut, "Write a Prometheus textfile snapshot here at exit")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Live terminal dashboard for batch runs")
	fs.StringVar(&cfg.Output, "output", cfg.Output, `Report format: "text" or "json"`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the resolved command and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and run the command once with a 10s limit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	return fs
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
