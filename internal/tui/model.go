package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg pushes a snapshot to the model without waiting for a tick.
type SnapshotMsg stats.Snapshot

// DoneMsg tells the model the batch has finished. The dashboard stays up
// until the user quits so the final numbers can be read.
type DoneMsg struct {
	Interrupted bool
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// SnapshotSource provides aggregated batch statistics.
// *stats.Aggregator implements it.
type SnapshotSource interface {
	Snapshot() stats.Snapshot
}

// Config holds TUI configuration.
type Config struct {
	Command     string
	TargetRuns  int
	Workers     int
	MetricsAddr string
	Source      SnapshotSource
}

// Model represents the TUI state.
type Model struct {
	command     string
	targetRuns  int
	workers     int
	metricsAddr string
	source      SnapshotSource

	snap         *stats.Snapshot
	lastUpdate   time.Time
	detailedView bool
	done         bool
	interrupted  bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		command:     cfg.Command,
		targetRuns:  cfg.TargetRuns,
		workers:     cfg.Workers,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case SnapshotMsg:
		s := stats.Snapshot(msg)
		m.snap = &s
		m.lastUpdate = time.Now()
		return m, nil

	case DoneMsg:
		m.refresh()
		m.done = true
		m.interrupted = msg.Interrupted
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	s := m.source.Snapshot()
	m.snap = &s
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView && m.snap != nil {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Completed returns the number of finished runs.
func (m Model) Completed() int {
	if m.snap == nil {
		return 0
	}
	return m.snap.Completed
}

// InFlight returns the number of runs currently inside a spawn.
func (m Model) InFlight() int {
	if m.snap == nil {
		return 0
	}
	return m.snap.InFlight
}

// Progress returns completed runs over the target (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.targetRuns <= 0 {
		return 0
	}
	return min(float64(m.Completed())/float64(m.targetRuns), 1)
}

// Done reports whether the batch has finished.
func (m Model) Done() bool {
	return m.done
}

// =============================================================================
// Helpers for external use
// =============================================================================

// SendDone tells a running program the batch has finished.
func SendDone(p *tea.Program, interrupted bool) {
	if p != nil {
		p.Send(DoneMsg{Interrupted: interrupted})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
