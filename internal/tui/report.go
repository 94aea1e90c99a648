package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-spawn-sync/internal/logging"
	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// Report is the result of a single run as printed on stdout.
type Report struct {
	Command      string             `json:"command"`
	Outcome      supervisor.Outcome `json:"outcome"`
	Error        string             `json:"error,omitempty"`
	Pid          int                `json:"pid"`
	ExitCode     int                `json:"exit_code"`
	ExitSignal   int                `json:"exit_signal"`
	ExitTimeout  bool               `json:"exit_timeout"`
	StdinWritten int                `json:"stdin_written"`
	StdoutRead   int                `json:"stdout_read"`
	StderrRead   int                `json:"stderr_read"`
	DurationMs   float64            `json:"duration_ms"`
	Stdout       string             `json:"stdout"`
	Stderr       string             `json:"stderr"`

	// StderrTail holds the last lines of stderr; StderrErrors counts the
	// lines matching each of logging.ErrorPatterns.
	StderrTail   []string       `json:"stderr_tail,omitempty"`
	StderrErrors map[string]int `json:"stderr_errors,omitempty"`
}

// reportTailLines is how many stderr lines the report keeps.
const reportTailLines = 5

// NewReport builds a report from the return values of a spawn.
func NewReport(command string, res supervisor.Result, err error) Report {
	r := Report{
		Command:      command,
		Outcome:      supervisor.Classify(res, err),
		Pid:          res.Pid,
		ExitCode:     res.ExitCode,
		ExitSignal:   res.ExitSignal,
		ExitTimeout:  res.ExitTimeout,
		StdinWritten: res.StdinWritten,
		StdoutRead:   res.StdoutRead,
		StderrRead:   res.StderrRead,
		DurationMs:   float64(res.Duration) / float64(time.Millisecond),
		Stdout:       string(res.Stdout),
		Stderr:       string(res.Stderr),
	}
	if err != nil {
		r.Error = err.Error()
	}
	if len(res.Stderr) > 0 {
		h := logging.NewOutputHandler("stderr", nil, false)
		h.HandleBytes(res.Stderr)
		r.StderrTail = h.RecentLines(reportTailLines)
		if counts := h.CountErrors(); len(counts) > 0 {
			r.StderrErrors = counts
		}
	}
	return r
}

// WriteJSON writes the report as a single indented JSON object.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes the captured stdout verbatim followed by a styled summary
// block. Styling degrades to plain text when w is not a terminal.
func WriteText(w io.Writer, r Report) error {
	if r.Stdout != "" {
		if _, err := io.WriteString(w, r.Stdout); err != nil {
			return err
		}
		if !strings.HasSuffix(r.Stdout, "\n") {
			fmt.Fprintln(w)
		}
	}
	_, err := fmt.Fprintln(w, RenderReport(r))
	return err
}

// RenderReport renders the summary block of a single run.
func RenderReport(r Report) string {
	rows := []string{
		titleStyle.Render("go-spawn-sync"),
		RenderKeyValue("Command", r.Command),
		RenderKeyValue("Outcome", GetOutcomeLabel(r.Outcome)),
	}

	if r.Pid > 0 {
		rows = append(rows, RenderKeyValue("PID", fmt.Sprintf("%d", r.Pid)))
	}
	switch {
	case r.ExitCode >= 0:
		rows = append(rows, RenderKeyValue("Exit code", fmt.Sprintf("%d", r.ExitCode)))
	case r.ExitSignal >= 0:
		sig := stats.SignalName(r.ExitSignal)
		if r.ExitTimeout {
			sig += " (timeout)"
		}
		rows = append(rows, RenderKeyValue("Signal", sig))
	}
	if r.Error != "" {
		rows = append(rows, RenderKeyValue("Error", statusError.Render(r.Error)))
	}

	rows = append(rows,
		RenderKeyValue("Duration", stats.FormatMs(time.Duration(r.DurationMs*float64(time.Millisecond)))),
		RenderKeyValue("Bytes in/out/err", fmt.Sprintf("%s / %s / %s",
			stats.FormatBytes(int64(r.StdinWritten)),
			stats.FormatBytes(int64(r.StdoutRead)),
			stats.FormatBytes(int64(r.StderrRead)))),
	)

	if len(r.StderrErrors) > 0 {
		rows = append(rows, RenderKeyValue("stderr matches", statusWarning.Render(formatCounts(r.StderrErrors))))
	}
	if len(r.StderrTail) > 0 {
		rows = append(rows, "", mutedStyle.Render("stderr (last lines):"), dimStyle.Render(strings.Join(r.StderrTail, "\n")))
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// formatCounts renders counts as "error×2 fatal×1", sorted by pattern.
func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s×%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
