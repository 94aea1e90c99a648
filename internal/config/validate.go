package config

import (
	"errors"
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Path == "" {
		add("command", "a command is required (positional, -cmd or -job)")
	}

	if cfg.Stdin != "" && cfg.StdinFile != "" {
		add("stdin", "-stdin and -stdin-file are mutually exclusive")
	}

	if cfg.Timeout < 0 {
		add("timeout", "must not be negative (0 disables the deadline)")
	}
	if cfg.StdoutCap < Discard {
		add("stdout_cap", "must be -1 (discard) or a byte count (got %d)", cfg.StdoutCap)
	}
	if cfg.StderrCap < Discard {
		add("stderr_cap", "must be -1 (discard) or a byte count (got %d)", cfg.StderrCap)
	}
	if _, err := ParseSignal(cfg.KillSignal); err != nil {
		add("kill_signal", "%v", err)
	}

	if cfg.Runs < 1 {
		add("runs", "must be at least 1")
	}
	if cfg.Workers < 1 {
		add("workers", "must be at least 1")
	}
	if cfg.Rate < 0 {
		add("rate", "must not be negative")
	}
	if cfg.RateJitter < 0 {
		add("rate_jitter", "must not be negative")
	}
	if cfg.Retries < 0 {
		add("retries", "must not be negative")
	}

	// Backoff settings
	if cfg.BackoffInitial <= 0 {
		add("backoff_initial", "must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		add("backoff_max", "must be >= backoff_initial")
	}
	if cfg.BackoffMultiply < 1.0 {
		add("backoff_multiply", "must be >= 1.0")
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	if !validFormats[cfg.Output] {
		add("output", "must be 'json' or 'text' (got %q)", cfg.Output)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
