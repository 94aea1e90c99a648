package stats

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Command is the command line that was run
	Command string

	// Workers is the configured concurrency
	Workers int

	// MetricsAddr is the Prometheus metrics endpoint address, if any
	MetricsAddr string

	// Interrupted is set when a signal stopped scheduling early
	Interrupted bool
}

const rule = "═══════════════════════════════════════════════════════════════════\n"

// FormatSummary formats a batch snapshot for display at program exit.
func FormatSummary(s Snapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                    go-spawn-sync Batch Summary\n")
	b.WriteString(rule)

	if cfg.Interrupted {
		fmt.Fprintf(&b, "INTERRUPTED: %d of %d runs were scheduled\n\n", s.Started, s.Target)
	}

	fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Elapsed))
	fmt.Fprintf(&b, "Runs:                   %d / %d completed\n", s.Completed, s.Target)
	fmt.Fprintf(&b, "Workers:                %d (peak in flight %d)\n", cfg.Workers, s.PeakIn)
	fmt.Fprintf(&b, "Throughput:             %s\n", FormatRate(s.RunsPerSecond()))
	fmt.Fprintf(&b, "Success Rate:           %.1f%%\n", s.SuccessRate()*100)
	if s.Retries > 0 {
		fmt.Fprintf(&b, "Launch Retries:         %d\n", s.Retries)
	}
	b.WriteString("\n")

	b.WriteString("Outcomes:\n")
	for _, o := range supervisor.Outcomes {
		if n := s.Outcomes[o]; n > 0 {
			fmt.Fprintf(&b, "  %-20s %d\n", o, n)
		}
	}
	b.WriteString("\n")

	if s.DurationP50 > 0 || s.DurationMax > 0 {
		b.WriteString("Run Duration Distribution:\n")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(s.DurationP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(s.DurationP95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(s.DurationP99))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatMs(s.DurationMax))
		b.WriteString("\n")
	}

	b.WriteString("Bytes:\n")
	fmt.Fprintf(&b, "  stdin written:        %s\n", FormatBytes(s.StdinBytes))
	fmt.Fprintf(&b, "  stdout captured:      %s (p50 %s, p99 %s per run)\n",
		FormatBytes(s.StdoutBytes), FormatBytes(int64(s.StdoutP50)), FormatBytes(int64(s.StdoutP99)))
	fmt.Fprintf(&b, "  stderr captured:      %s\n", FormatBytes(s.StderrBytes))
	b.WriteString("\n")

	if len(s.ExitCodes) > 0 {
		b.WriteString("Exit Codes:\n")
		for _, code := range sortedKeys(s.ExitCodes) {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if len(s.Signals) > 0 {
		b.WriteString("Terminating Signals:\n")
		for _, sig := range sortedKeys(s.Signals) {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", sig, SignalName(sig), s.Signals[sig])
		}
		b.WriteString("\n")
	}

	if len(s.StderrMatches) > 0 {
		b.WriteString("Stderr Matches:\n")
		for _, p := range slices.Sorted(maps.Keys(s.StderrMatches)) {
			fmt.Fprintf(&b, "  %-20s %d\n", p, s.StderrMatches[p])
		}
		b.WriteString("\n")
	}

	if len(s.FailedStderr) > 0 {
		fmt.Fprintf(&b, "Last Failed Run (#%d) stderr:\n", s.FailedRun)
		for _, line := range s.FailedStderr {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(rule)
	return b.String()
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 126:
		return "(not executable)"
	case 127:
		return "(not found)"
	default:
		return ""
	}
}

// SignalName returns the conventional name of a signal number, e.g. "SIGKILL".
func SignalName(sig int) string {
	switch syscall.Signal(sig) {
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return fmt.Sprintf("signal %d", sig)
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
