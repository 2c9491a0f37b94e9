package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries a fresh process snapshot.
type StatusMsg []supervisor.Status

// QuitMsg signals the TUI should exit. The run has already ended.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	runID       string
	policy      string
	metricsAddr string
	onStop      func()
	onKill      func()

	// Current state
	statuses   []supervisor.Status
	startTime  time.Time
	lastUpdate time.Time
	showOutput bool
	stopping   bool

	// Display options
	width  int
	height int

	// Status source (for fetching updates)
	source StatusSource

	// Quit flag
	quitting bool
}

// StatusSource provides live process status. *supervisor.Supervisor
// satisfies it.
type StatusSource interface {
	Statuses() []supervisor.Status
}

// Config holds TUI configuration.
type Config struct {
	RunID       string
	Policy      string
	MetricsAddr string
	Source      StatusSource

	// OnStop is called once when the user asks to stop the run. The TUI
	// keeps rendering until QuitMsg arrives so the shutdown is visible.
	OnStop func()

	// OnKill is called on the second stop request, just before the
	// dashboard exits, so no process outlives the run's grace period.
	OnKill func()
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		runID:       cfg.RunID,
		policy:      cfg.Policy,
		metricsAddr: cfg.MetricsAddr,
		onStop:      cfg.OnStop,
		onKill:      cfg.OnKill,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		showOutput:  true,
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.stopping {
				// Second request: force-kill what is left and leave.
				if m.onKill != nil {
					m.onKill()
				}
				m.quitting = true
				return m, tea.Quit
			}
			m.stopping = true
			if m.onStop != nil {
				m.onStop()
			}
			return m, nil
		case "o":
			m.showOutput = !m.showOutput
			return m, nil
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.statuses = m.source.Statuses()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case StatusMsg:
		m.statuses = msg
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
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

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Total returns the number of processes in the run.
func (m Model) Total() int {
	return len(m.statuses)
}

// Count returns how many processes are in state s.
func (m Model) Count(s supervisor.State) int {
	n := 0
	for _, st := range m.statuses {
		if st.State == s {
			n++
		}
	}
	return n
}

// Progress returns the fraction of one-shot processes that have finished
// (0.0 to 1.0). Watch processes never finish on their own and are not
// counted. Returns 1 when there are no one-shots.
func (m Model) Progress() float64 {
	total, done := 0, 0
	for _, st := range m.statuses {
		if st.Watch {
			continue
		}
		total++
		if st.State.IsTerminal() {
			done++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(done) / float64(total)
}

// Stopping reports whether the user asked to stop the run.
func (m Model) Stopping() bool {
	return m.stopping
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// truncate shortens s to at most n runes, marking the cut with "…".
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
