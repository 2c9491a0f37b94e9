package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// RunID identifies the run in logs and metrics
	RunID string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// PeakActive is the peak number of running processes (from metrics.Collector)
	PeakActive int

	// ShowOutput appends the captured stderr tail of failed processes
	ShowOutput bool

	// OutputLines bounds the stderr tail per failed process
	OutputLines int
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// FormatSummary formats the outcome of a run for display at program exit.
func FormatSummary(o *supervisor.Outcome, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                            devrunner Run Summary\n")
	b.WriteString(heavyRule + "\n")

	if o == nil {
		b.WriteString("(no run took place)\n")
		b.WriteString(heavyRule)
		return b.String()
	}

	s := Aggregate(o)

	// Run info
	if cfg.RunID != "" {
		fmt.Fprintf(&b, "Run ID:                 %s\n", cfg.RunID)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatElapsed(o.Duration))
	fmt.Fprintf(&b, "Policy:                 %s (%s start)\n", o.Policy, o.StartMode)
	fmt.Fprintf(&b, "Processes:              %d (%d watch)\n", s.Processes, s.Watch)
	if cfg.PeakActive > 0 {
		fmt.Fprintf(&b, "Peak Running:           %d\n", cfg.PeakActive)
	}
	b.WriteString("\n")

	// Per-process table
	b.WriteString(lightRule)
	b.WriteString("                                 Processes\n")
	b.WriteString(lightRule + "\n")

	nameWidth := len("Process")
	for _, r := range o.InOrder() {
		nameWidth = max(nameWidth, len(r.Name))
	}
	fmt.Fprintf(&b, "  %-*s  %-8s  %-13s  %-15s  %10s\n", nameWidth, "Process", "Kind", "State", "Exit", "Duration")
	b.WriteString("  " + strings.Repeat("─", nameWidth+56) + "\n")
	for _, r := range o.InOrder() {
		kind := "oneshot"
		if r.Watch {
			kind = "watch"
		}
		duration := "-"
		if !r.StartedAt.IsZero() {
			duration = FormatElapsed(r.Duration)
		}
		fmt.Fprintf(&b, "  %-*s  %-8s  %s  %-15s  %10s%s\n",
			nameWidth, r.Name,
			kind,
			stateStyle(r).Render(fmt.Sprintf("%-13s", r.State)),
			exitColumn(r),
			duration,
			resultNotes(r),
		)
	}
	b.WriteString("\n")

	// Run time distribution
	if s.Processes-s.SpawnFailed-s.Cancelled > 1 {
		b.WriteString(lightRule)
		b.WriteString("                           Run Time Distribution\n")
		b.WriteString(lightRule + "\n")

		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatElapsed(s.DurationP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatElapsed(s.DurationP95))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatElapsed(s.DurationMax))
		b.WriteString("\n")
	}

	// Exit codes
	if len(s.ExitCodes) > 0 {
		b.WriteString(lightRule)
		b.WriteString("                                Exit Codes\n")
		b.WriteString(lightRule + "\n")

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(s.ExitCodes))
		for code := range s.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	// Warnings
	if len(o.Warnings) > 0 || s.LinesDropped > 0 || s.Truncated > 0 {
		b.WriteString(lightRule)
		b.WriteString("                                 Warnings\n")
		b.WriteString(lightRule + "\n")

		for _, w := range o.Warnings {
			fmt.Fprintf(&b, "  %s\n", warnStyle.Render(w.Error()))
		}
		if s.LinesDropped > 0 {
			fmt.Fprintf(&b, "  Live output dropped: %s lines across %d processes (captured output is complete)\n",
				FormatNumber(s.LinesDropped), s.ProcessesDropped)
		}
		if s.Truncated > 0 {
			fmt.Fprintf(&b, "  Captured output truncated for %d processes (raise --capture-bytes)\n", s.Truncated)
		}
		b.WriteString("\n")
	}

	// Output of failed processes
	if cfg.ShowOutput {
		b.WriteString(failedOutput(o, cfg.OutputLines))
	}

	// Result
	b.WriteString(resultLine(o) + "\n")

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule)
	return b.String()
}

func stateStyle(r *supervisor.Result) lipgloss.Style {
	switch {
	case r.Failed():
		return failStyle
	case r.State == supervisor.StateExited:
		return okStyle
	case r.State == supervisor.StateKilled || r.State == supervisor.StateCancelled:
		return dimStyle
	default:
		return lipgloss.NewStyle()
	}
}

func exitColumn(r *supervisor.Result) string {
	if r.ExitCode < 0 {
		return "-"
	}
	label := exitCodeLabel(r.ExitCode)
	if label == "" {
		return fmt.Sprintf("%d", r.ExitCode)
	}
	return fmt.Sprintf("%d %s", r.ExitCode, label)
}

func resultNotes(r *supervisor.Result) string {
	var notes []string
	if r.ForceKilled {
		notes = append(notes, "force killed")
	}
	if r.LinesDropped > 0 {
		notes = append(notes, FormatNumber(r.LinesDropped)+" lines dropped")
	}
	if r.OutputDegraded {
		notes = append(notes, "output degraded")
	}
	if r.State == supervisor.StateSpawnFailed && r.Err != nil {
		notes = append(notes, r.Err.Error())
	}
	if len(notes) == 0 {
		return ""
	}
	return "  " + strings.Join(notes, ", ")
}

func failedOutput(o *supervisor.Outcome, lines int) string {
	if lines <= 0 {
		lines = 20
	}

	var b strings.Builder
	for _, r := range o.InOrder() {
		if !r.Failed() || r.State == supervisor.StateSpawnFailed {
			continue
		}
		tail := r.Stderr
		if strings.TrimSpace(tail) == "" {
			tail = r.Stdout
		}
		tail = lastLines(tail, lines)
		if tail == "" {
			continue
		}

		b.WriteString(lightRule)
		fmt.Fprintf(&b, "  Output of %s (last %d lines)\n", r.Name, lines)
		b.WriteString(lightRule + "\n")
		for _, line := range strings.Split(tail, "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func resultLine(o *supervisor.Outcome) string {
	switch {
	case o.Err == nil:
		return okStyle.Render("Result: ok")
	case o.Cancelled():
		return warnStyle.Render("Result: cancelled")
	default:
		return failStyle.Render(fmt.Sprintf("Result: failed (exit %d): %v", supervisor.ExitCode(o.Err), o.Err))
	}
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 127:
		return "(not found)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
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

// FormatElapsed formats short durations with millisecond precision and
// anything from a minute up as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
	return FormatDuration(d)
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
