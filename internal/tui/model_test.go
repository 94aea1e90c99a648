package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-spawn-sync/internal/stats"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// =============================================================================
// Mock SnapshotSource
// =============================================================================

type mockSource struct {
	snap  stats.Snapshot
	calls int
}

func (m *mockSource) Snapshot() stats.Snapshot {
	m.calls++
	return m.snap
}

func sampleSnapshot() stats.Snapshot {
	return stats.Snapshot{
		Target:    10,
		Started:   6,
		Completed: 4,
		InFlight:  2,
		Outcomes: map[supervisor.Outcome]int{
			supervisor.OutcomeSuccess: 3,
			supervisor.OutcomeTimeout: 1,
		},
		ExitCodes:   map[int]int{0: 3},
		Signals:     map[int]int{9: 1},
		StdoutBytes: 2048,
		DurationP50: 12 * time.Millisecond,
		DurationMax: 2 * time.Second,
		Elapsed:     3 * time.Second,
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{
		Command:     "/bin/echo hi",
		TargetRuns:  100,
		Workers:     4,
		MetricsAddr: "localhost:9090",
	})

	if model.targetRuns != 100 || model.workers != 4 {
		t.Errorf("targetRuns=%d workers=%d", model.targetRuns, model.workers)
	}
	if model.command != "/bin/echo hi" || model.metricsAddr != "localhost:9090" {
		t.Errorf("command=%q metricsAddr=%q", model.command, model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
}

func TestModel_Init(t *testing.T) {
	if New(Config{TargetRuns: 10}).Init() == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_Keys(t *testing.T) {
	tests := []struct {
		name     string
		msg      tea.KeyMsg
		wantQuit bool
	}{
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}, true},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, true},
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}, true},
		{"d", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}, false},
		{"r", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")}, false},
		{"x", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := update(t, New(Config{TargetRuns: 10}), tt.msg)
			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_ToggleDetailedView(t *testing.T) {
	d := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}

	m, _ := update(t, New(Config{TargetRuns: 10}), d)
	if !m.detailedView {
		t.Error("detailedView should be true after pressing 'd'")
	}
	m, _ = update(t, m, d)
	if m.detailedView {
		t.Error("detailedView should be false after pressing 'd' again")
	}
}

func TestModel_Update_RefreshKey(t *testing.T) {
	src := &mockSource{snap: sampleSnapshot()}
	m, _ := update(t, New(Config{TargetRuns: 10, Source: src}), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})

	if src.calls != 1 || m.Completed() != 4 {
		t.Errorf("calls=%d completed=%d", src.calls, m.Completed())
	}
}

// =============================================================================
// Tests: Update - Other Messages
// =============================================================================

func TestModel_Update_WindowSize(t *testing.T) {
	m, _ := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_Tick(t *testing.T) {
	src := &mockSource{snap: sampleSnapshot()}
	m, cmd := update(t, New(Config{TargetRuns: 10, Source: src}), TickMsg(time.Now()))

	if cmd == nil {
		t.Error("tick should schedule another tick")
	}
	if m.snap == nil || m.InFlight() != 2 {
		t.Errorf("snapshot not fetched: %+v", m.snap)
	}
}

func TestModel_Update_TickWithoutSource(t *testing.T) {
	m, cmd := update(t, New(Config{TargetRuns: 10}), TickMsg(time.Now()))
	if cmd == nil || m.snap != nil {
		t.Errorf("cmd=%v snap=%v", cmd, m.snap)
	}
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	m, cmd := update(t, New(Config{TargetRuns: 10}), SnapshotMsg(sampleSnapshot()))
	if cmd != nil {
		t.Error("SnapshotMsg should not return a cmd")
	}
	if m.Completed() != 4 {
		t.Errorf("Completed() = %d, want 4", m.Completed())
	}
}

func TestModel_Update_Done(t *testing.T) {
	tests := []struct {
		name        string
		interrupted bool
		want        string
	}{
		{"finished", false, "All runs finished"},
		{"interrupted", true, "Interrupted after 4 runs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{snap: sampleSnapshot()}
			m, _ := update(t, New(Config{TargetRuns: 10, Source: src}), DoneMsg{Interrupted: tt.interrupted})

			if !m.Done() || m.quitting {
				t.Errorf("done=%v quitting=%v", m.Done(), m.quitting)
			}
			if !strings.Contains(m.View(), tt.want) {
				t.Errorf("View() missing %q", tt.want)
			}
		})
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	m, cmd := update(t, New(Config{}), QuitMsg{})
	if !m.quitting || cmd == nil {
		t.Errorf("quitting=%v cmd=%v", m.quitting, cmd)
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	m := New(Config{})
	m.quitting = true
	if m.View() != "" {
		t.Error("View() should be empty when quitting")
	}
}

func TestModel_View_Summary(t *testing.T) {
	m, _ := update(t, New(Config{Command: "/bin/true", TargetRuns: 10, Workers: 2, MetricsAddr: "127.0.0.1:9100"}), SnapshotMsg(sampleSnapshot()))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 50})

	view := m.View()
	for _, want := range []string{"go-spawn-sync", "Runs: 4/10", "Workers: 2", "Outcomes", "success", "timeout", "Run Duration", "Bytes", "q: quit", "127.0.0.1:9100"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_NoSnapshot(t *testing.T) {
	view := New(Config{TargetRuns: 3}).View()
	if !strings.Contains(view, "Runs: 0/3") {
		t.Error("header missing before first snapshot")
	}
	if strings.Contains(view, "Outcomes") {
		t.Error("outcomes rendered without a snapshot")
	}
}

func TestModel_View_Detailed(t *testing.T) {
	m, _ := update(t, New(Config{TargetRuns: 10}), SnapshotMsg(sampleSnapshot()))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})

	view := m.View()
	for _, want := range []string{"Exit Codes", "Terminating Signals", "SIGKILL"} {
		if !strings.Contains(view, want) {
			t.Errorf("detailed view missing %q", want)
		}
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_Progress(t *testing.T) {
	tests := []struct {
		name      string
		target    int
		completed int
		want      float64
	}{
		{"zero target", 0, 0, 0},
		{"none", 10, 0, 0},
		{"half", 10, 5, 0.5},
		{"all", 10, 10, 1},
		{"clamped", 10, 12, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{TargetRuns: tt.target})
			m.snap = &stats.Snapshot{Completed: tt.completed}
			if got := m.Progress(); got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortedInts(t *testing.T) {
	got := sortedInts(map[int]int{143: 1, 0: 2, 2: 1})
	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 143 {
		t.Errorf("sortedInts() = %v", got)
	}
}

func TestSendHelpers_NilProgram(t *testing.T) {
	// Must not panic.
	SendDone(nil, false)
	SendQuit(nil)
}
