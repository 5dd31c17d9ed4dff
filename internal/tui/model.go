package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-kvs-tester/internal/stats"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatsMsg carries an updated snapshot.
type StatsMsg struct {
	Snapshot *stats.Snapshot
}

// DoneMsg signals the batch has finished. The dashboard takes a final
// snapshot and exits.
type DoneMsg struct {
	Err error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	mode        string
	mserverHost string
	metricsAddr string

	// Current state
	snap       *stats.Snapshot
	startTime  time.Time
	lastUpdate time.Time
	slotView   bool
	done       bool
	err        error

	// Display options
	width  int
	height int

	statsSource StatsSource

	quitting bool
}

// StatsSource provides batch snapshots. stats.Aggregator implements it.
type StatsSource interface {
	Snapshot() *stats.Snapshot
}

// Config holds TUI configuration.
type Config struct {
	Mode        string
	MserverHost string
	MetricsAddr string
	StatsSource StatsSource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		mode:        cfg.Mode,
		mserverHost: cfg.MserverHost,
		metricsAddr: cfg.MetricsAddr,
		statsSource: cfg.StatsSource,
		startTime:   time.Now(),
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
		case "s":
			m.slotView = !m.slotView
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
		if m.done {
			return m, nil
		}
		m.refresh()
		return m, tickCmd()

	case StatsMsg:
		m.snap = msg.Snapshot
		m.lastUpdate = time.Now()
		return m, nil

	case DoneMsg:
		m.refresh()
		m.done = true
		m.err = msg.Err
		m.quitting = true
		return m, tea.Quit

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.statsSource != nil {
		m.snap = m.statsSource.Snapshot()
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.slotView {
		return m.renderSlotView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Completed returns how many tests have a verdict.
func (m Model) Completed() int {
	if m.snap == nil {
		return 0
	}
	return len(m.snap.Results)
}

// TotalTests returns the batch size.
func (m Model) TotalTests() int {
	if m.snap == nil {
		return 0
	}
	return m.snap.TotalTests
}

// Progress returns the batch progress (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.TotalTests() == 0 {
		return 0
	}
	return float64(m.Completed()) / float64(m.TotalTests())
}

// RunningSlots returns how many client slots of the current test are
// still iterating.
func (m Model) RunningSlots() int {
	if m.snap == nil {
		return 0
	}
	n := 0
	for _, s := range m.snap.Slots {
		if !s.Done {
			n++
		}
	}
	return n
}

// Err returns the batch error delivered with DoneMsg.
func (m Model) Err() error {
	return m.err
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendDone tells the TUI the batch has finished.
func SendDone(p *tea.Program, err error) {
	if p != nil {
		p.Send(DoneMsg{Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
