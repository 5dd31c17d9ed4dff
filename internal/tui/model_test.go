package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-kvs-tester/internal/stats"
	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
)

// =============================================================================
// Mock StatsSource
// =============================================================================

type mockStatsSource struct {
	snap  *stats.Snapshot
	calls int
}

func (m *mockStatsSource) Snapshot() *stats.Snapshot {
	m.calls++
	return m.snap
}

func sampleSnapshot() *stats.Snapshot {
	return &stats.Snapshot{
		Build:      "pass",
		TotalTests: 4,
		Current: &stats.CurrentTest{
			Name:    "partition",
			Run:     3,
			Phase:   "running",
			Started: time.Now().Add(-5 * time.Second),
		},
		Slots: []stats.SlotStats{
			{Slot: 0, Host: "c1", Iterations: 7, LastExitCode: 0, LastDuration: 40 * time.Millisecond},
			{Slot: 1, Host: "c2", Iterations: 2, LastExitCode: 3, Done: true, Outcome: supervisor.Failure},
		},
		Results: []stats.TestResult{
			{Name: "basic", Run: 1, Status: "pass"},
			{Name: "failing", Run: 2, Status: "fail", Message: "1 out of 2 clients failed"},
		},
		Passed: 1,
		Failed: 1,
		Iterations: map[supervisor.OutcomeKind]int64{
			supervisor.Success: 8,
			supervisor.Failure: 1,
		},
		TotalIterations: 9,
		IterationP50:    35 * time.Millisecond,
		IterationP95:    60 * time.Millisecond,
		IterationP99:    70 * time.Millisecond,
		IterationMax:    80 * time.Millisecond,
		NodeKills:       2,
	}
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{
		Mode:        "local",
		MserverHost: "localhost",
		MetricsAddr: "0.0.0.0:17091",
	})

	if model.mode != "local" {
		t.Errorf("mode = %s, want local", model.mode)
	}
	if model.metricsAddr != "0.0.0.0:17091" {
		t.Errorf("metricsAddr = %s, want 0.0.0.0:17091", model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
	if model.Progress() != 0 {
		t.Errorf("Progress() = %v, want 0 without a snapshot", model.Progress())
	}
}

func TestModel_Init(t *testing.T) {
	if New(Config{}).Init() == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"s", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			newModel, cmd := New(Config{}).Update(keyMsg(tt.key))
			m := newModel.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_ToggleSlotView(t *testing.T) {
	model := New(Config{})

	newModel, _ := model.Update(keyMsg("s"))
	m := newModel.(Model)
	if !m.slotView {
		t.Error("slotView should be true after pressing 's'")
	}

	newModel, _ = m.Update(keyMsg("s"))
	m = newModel.(Model)
	if m.slotView {
		t.Error("slotView should be false after pressing 's' again")
	}
}

func TestModel_Update_Refresh(t *testing.T) {
	src := &mockStatsSource{snap: sampleSnapshot()}
	newModel, _ := New(Config{StatsSource: src}).Update(keyMsg("r"))
	m := newModel.(Model)

	if src.calls != 1 {
		t.Errorf("Snapshot called %d times, want 1", src.calls)
	}
	if m.Completed() != 2 {
		t.Errorf("Completed() = %d, want 2", m.Completed())
	}
}

// =============================================================================
// Tests: Update - Other Messages
// =============================================================================

func TestModel_Update_WindowSize(t *testing.T) {
	newModel, _ := New(Config{}).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := newModel.(Model)

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_Tick(t *testing.T) {
	src := &mockStatsSource{snap: sampleSnapshot()}
	newModel, cmd := New(Config{StatsSource: src}).Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if cmd == nil {
		t.Error("Tick should schedule another tick")
	}
	if m.snap == nil {
		t.Fatal("Tick should take a snapshot")
	}
	if m.TotalTests() != 4 {
		t.Errorf("TotalTests() = %d, want 4", m.TotalTests())
	}
}

func TestModel_Update_Tick_NoSource(t *testing.T) {
	newModel, cmd := New(Config{}).Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if cmd == nil {
		t.Error("Tick should schedule another tick")
	}
	if m.snap != nil {
		t.Error("snap should stay nil without a source")
	}
}

func TestModel_Update_StatsMsg(t *testing.T) {
	newModel, _ := New(Config{}).Update(StatsMsg{Snapshot: sampleSnapshot()})
	m := newModel.(Model)

	if m.Completed() != 2 {
		t.Errorf("Completed() = %d, want 2", m.Completed())
	}
	if got := m.Progress(); got != 0.5 {
		t.Errorf("Progress() = %v, want 0.5", got)
	}
	if got := m.RunningSlots(); got != 1 {
		t.Errorf("RunningSlots() = %d, want 1", got)
	}
}

func TestModel_Update_Done(t *testing.T) {
	src := &mockStatsSource{snap: sampleSnapshot()}
	batchErr := errors.New("build failed")

	newModel, cmd := New(Config{StatsSource: src}).Update(DoneMsg{Err: batchErr})
	m := newModel.(Model)

	if !m.quitting || cmd == nil {
		t.Error("DoneMsg should quit")
	}
	if !errors.Is(m.Err(), batchErr) {
		t.Errorf("Err() = %v, want %v", m.Err(), batchErr)
	}
	if src.calls != 1 {
		t.Error("DoneMsg should take a final snapshot")
	}

	// Ticks queued before the quit must not reschedule.
	_, cmd = m.Update(TickMsg(time.Now()))
	if cmd != nil {
		t.Error("tick after done should not reschedule")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	newModel, cmd := New(Config{}).Update(QuitMsg{})
	m := newModel.(Model)

	if !m.quitting || cmd == nil {
		t.Error("QuitMsg should quit")
	}
	if m.View() != "" {
		t.Error("View() should be empty once quitting")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_NoSnapshot(t *testing.T) {
	view := New(Config{Mode: "local", MserverHost: "localhost"}).View()

	for _, want := range []string{"kvs-tester", "Batch Progress", "Waiting for batch", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_View_Summary(t *testing.T) {
	m := New(Config{Mode: "remote", MserverHost: "m1", MetricsAddr: "127.0.0.1:17091"})
	m.width = 140
	m.snap = sampleSnapshot()

	view := m.View()

	for _, want := range []string{
		"Test: 3/4",
		"Running... 2/4 done",
		"1 passed",
		"partition",
		"running",
		"Recent Verdicts",
		"basic",
		"1 out of 2 clients failed",
		"Client Iterations",
		"P95",
		"mserver: m1",
		"/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_View_BuildFailed(t *testing.T) {
	m := New(Config{})
	m.snap = &stats.Snapshot{Build: "error", TotalTests: 2}

	if !strings.Contains(m.View(), "Build failed") {
		t.Error("view should report the build failure")
	}
}

func TestModel_View_AllFinished(t *testing.T) {
	m := New(Config{})
	m.snap = &stats.Snapshot{
		Build:      "pass",
		TotalTests: 1,
		Results:    []stats.TestResult{{Name: "basic", Run: 1, Status: "pass"}},
		Passed:     1,
	}

	if !strings.Contains(m.View(), "All 1 tests finished") {
		t.Error("view should report completion")
	}
}

func TestModel_View_SlotTable(t *testing.T) {
	m := New(Config{})
	m.width = 120
	m.slotView = true
	m.snap = sampleSnapshot()

	view := m.View()
	for _, want := range []string{"Client Slots", "c1", "c2", "failure", "40 ms"} {
		if !strings.Contains(view, want) {
			t.Errorf("slot view missing %q", want)
		}
	}
}

func TestModel_View_SlotTableEmpty(t *testing.T) {
	m := New(Config{})
	m.slotView = true

	if !strings.Contains(m.View(), "No client slots running") {
		t.Error("empty slot view should say so")
	}
}

func TestModel_View_ManyVerdicts(t *testing.T) {
	m := New(Config{})
	m.width = 120
	snap := &stats.Snapshot{Build: "pass", TotalTests: 20}
	for i := 1; i <= 12; i++ {
		snap.Results = append(snap.Results, stats.TestResult{Name: "t", Run: i, Status: "pass"})
	}
	m.snap = snap

	if !strings.Contains(m.View(), "... 4 earlier") {
		t.Error("verdict list should collapse older results")
	}
}

func TestModel_FromAggregator(t *testing.T) {
	agg := stats.NewAggregator(2)
	agg.SetBuild("pass")
	agg.TestStarted(1, "basic")
	agg.SetPhase(1, "running")
	agg.SlotStarted(1, 0, "localhost")
	agg.IterationDone(1, 0, supervisor.Outcome{Kind: supervisor.Success, Duration: 10 * time.Millisecond})

	newModel, _ := New(Config{StatsSource: agg}).Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if m.RunningSlots() != 1 {
		t.Errorf("RunningSlots() = %d, want 1", m.RunningSlots())
	}
	if !strings.Contains(m.View(), "basic") {
		t.Error("view should show the current test")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"service-node-long-name", 8, "service…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
