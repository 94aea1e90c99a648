package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
	}

	if m.snap != nil {
		sections = append(sections,
			m.renderOutcomes(),
			m.renderLatency(),
			m.renderBytes(),
		)
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the exit code and signal tables.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderExitTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	var elapsed time.Duration
	if m.snap != nil {
		elapsed = m.snap.Elapsed
	}

	state := "running"
	switch {
	case m.interrupted:
		state = "interrupted"
	case m.done:
		state = "done"
	}

	header := fmt.Sprintf(
		" go-spawn-sync │ %s │ Runs: %d/%d │ Workers: %d │ Elapsed: %s ",
		state,
		m.Completed(),
		m.targetRuns,
		m.workers,
		stats.FormatDuration(elapsed),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := max(m.width-30, 20)
	progressBar := RenderProgressBar(m.Progress(), barWidth)

	var status string
	switch {
	case m.interrupted:
		status = statusWarning.Render(fmt.Sprintf("⚠ Interrupted after %d runs", m.Completed()))
	case m.done:
		status = statusOK.Render("✓ All runs finished")
	default:
		status = statusInfo.Render(fmt.Sprintf("Running... %d in flight", m.InFlight()))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Progress"),
		progressBar,
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Outcomes
// =============================================================================

func (m Model) renderOutcomes() string {
	s := m.snap

	rows := []string{
		RenderKeyValueWide("Success rate", GetSuccessRateStyle(s.SuccessRate()).Render(fmt.Sprintf("%.1f%%", s.SuccessRate()*100))),
		RenderKeyValueWide("Throughput", stats.FormatRate(s.RunsPerSecond())),
		RenderKeyValueWide("Last 10s", stats.FormatRate(s.RecentRate)),
	}
	if s.Retries > 0 {
		rows = append(rows, RenderKeyValueWide("Launch retries", stats.FormatNumber(int64(s.Retries))))
	}
	for _, o := range supervisor.Outcomes {
		if n := s.Outcomes[o]; n > 0 {
			rows = append(rows, renderCountRow(GetOutcomeLabel(o), n))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Outcomes")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderCountRow(label string, n int) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Width(25).Render(label),
		valueStyle.Render(stats.FormatNumber(int64(n))),
	)
}

// =============================================================================
// Latency
// =============================================================================

func (m Model) renderLatency() string {
	s := m.snap
	if s.DurationMax == 0 {
		return ""
	}

	rows := []string{
		RenderKeyValue("P50 (median)", stats.FormatMs(s.DurationP50)),
		RenderKeyValue("P95", stats.FormatMs(s.DurationP95)),
		RenderKeyValue("P99", stats.FormatMs(s.DurationP99)),
		RenderKeyValue("Max", stats.FormatMs(s.DurationMax)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Run Duration")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Bytes
// =============================================================================

func (m Model) renderBytes() string {
	s := m.snap

	rows := []string{
		RenderKeyValue("stdin written", stats.FormatBytes(s.StdinBytes)),
		RenderKeyValue("stdout captured", stats.FormatBytes(s.StdoutBytes)),
		RenderKeyValue("stderr captured", stats.FormatBytes(s.StderrBytes)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Bytes")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Detailed View
// =============================================================================

func (m Model) renderExitTable() string {
	s := m.snap
	if s == nil {
		return boxStyle.Width(m.width - 2).Render(dimStyle.Render("waiting for first run..."))
	}

	rows := []string{sectionHeaderStyle.Render("Exit Codes")}
	if len(s.ExitCodes) == 0 {
		rows = append(rows, dimStyle.Render("none yet"))
	}
	for _, code := range sortedInts(s.ExitCodes) {
		rows = append(rows, renderCountRow(fmt.Sprintf("%3d", code), s.ExitCodes[code]))
	}

	rows = append(rows, "", sectionHeaderStyle.Render("Terminating Signals"))
	if len(s.Signals) == 0 {
		rows = append(rows, dimStyle.Render("none"))
	}
	for _, sig := range sortedInts(s.Signals) {
		rows = append(rows, renderCountRow(stats.SignalName(sig), s.Signals[sig]))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle details",
		"r: refresh",
	}

	cmd := m.command
	if m.metricsAddr != "" {
		cmd = "metrics http://" + m.metricsAddr + "/metrics │ " + cmd
	}
	maxLen := m.width - 50
	if len(cmd) > maxLen && maxLen > 10 {
		cmd = cmd[:maxLen-3] + "..."
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(cmd)

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func sortedInts(m map[int]int) []int {
	return slices.Sorted(maps.Keys(m))
}
