package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the main dashboard.
func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderProcessTable(),
	}

	if m.hasOneShots() {
		sections = append(sections, m.renderProgress())
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	status := statusOK.Render("● running")
	if m.stopping {
		status = statusWarning.Render("● stopping")
	}

	header := fmt.Sprintf(
		" devrunner │ %s │ Processes: %d/%d │ Elapsed: %s ",
		status,
		m.Count(supervisor.StateRunning),
		m.Total(),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Process Table
// =============================================================================

// Fixed column widths; the last-output column takes the remaining width.
const (
	colState  = 14
	colKind   = 8
	colPID    = 8
	colUptime = 9
	colExit   = 5
)

func (m Model) nameWidth() int {
	w := len("PROCESS")
	for _, st := range m.statuses {
		w = max(w, len([]rune(st.Name)))
	}
	return min(w, 24)
}

func (m Model) renderProcessTable() string {
	nameW := m.nameWidth()

	header := fmt.Sprintf("  %-*s %-*s %-*s %*s %*s %*s",
		nameW, "PROCESS",
		colState, "STATE",
		colKind, "KIND",
		colPID, "PID",
		colUptime, "UPTIME",
		colExit, "EXIT",
	)
	if m.showOutput {
		header += "  LAST OUTPUT"
	}

	rows := []string{
		sectionHeaderStyle.Render("Processes"),
		tableHeaderStyle.Render(header),
	}
	if len(m.statuses) == 0 {
		rows = append(rows, dimStyle.Render("  waiting for processes..."))
	}

	outputW := m.width - (2 + nameW + colState + colKind + colPID + colUptime + colExit + 5) - 2 - 6
	for _, st := range m.statuses {
		rows = append(rows, m.renderProcessRow(st, nameW, outputW))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderProcessRow(st supervisor.Status, nameW, outputW int) string {
	state := StateStyle(st).Render(fmt.Sprintf("%s %-*s", StateIcon(st), colState-2, st.State))

	kind := "oneshot"
	if st.Watch {
		kind = "watch"
	}

	pid := "-"
	if st.PID > 0 {
		pid = fmt.Sprintf("%d", st.PID)
	}

	uptime := "-"
	if !st.StartedAt.IsZero() {
		uptime = formatUptime(st.Duration)
	}

	exit := "-"
	if st.State.IsTerminal() && st.ExitCode >= 0 {
		exit = fmt.Sprintf("%d", st.ExitCode)
	}

	row := fmt.Sprintf("  %-*s %s %-*s %*s %*s %*s",
		nameW, truncate(st.Name, nameW),
		state,
		colKind, kind,
		colPID, pid,
		colUptime, uptime,
		colExit, exit,
	)
	if m.showOutput && outputW > 0 {
		row += "  " + mutedStyle.Render(truncate(st.LastLine, outputW))
	}
	return row
}

// formatUptime renders short uptimes in seconds and longer ones as HH:MM:SS.
func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return formatDuration(d)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) hasOneShots() bool {
	for _, st := range m.statuses {
		if !st.Watch {
			return true
		}
	}
	return false
}

func (m Model) renderProgress() string {
	progress := m.Progress()

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	var status string
	if progress >= 1.0 {
		status = statusOK.Render("✓ All one-shot processes finished")
	} else {
		finished := 0
		total := 0
		for _, st := range m.statuses {
			if st.Watch {
				continue
			}
			total++
			if st.State.IsTerminal() {
				finished++
			}
		}
		status = statusInfo.Render(fmt.Sprintf("Running one-shots... %d/%d finished", finished, total))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("One-shot Progress"),
		RenderProgressBar(progress, barWidth),
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	stop := "q: stop"
	if m.stopping {
		stop = "q: leave dashboard"
	}
	shortcuts := []string{stop, "o: toggle output", "r: refresh"}

	var info []string
	if m.runID != "" {
		id := m.runID
		if len(id) > 8 {
			id = id[:8]
		}
		info = append(info, "run "+id)
	}
	if m.policy != "" {
		info = append(info, m.policy)
	}
	if m.metricsAddr != "" {
		info = append(info, "metrics "+m.metricsAddr)
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(strings.Join(info, " │ "))

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
