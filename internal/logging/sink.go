package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/devrunner/internal/output"
)

// Sink kinds accepted by NewSink.
const (
	SinkConsole = "console"
	SinkLog     = "log"
	SinkNone    = "none"
)

// SinkKinds lists the valid sink names.
var SinkKinds = []string{SinkConsole, SinkLog, SinkNone}

// NewSink builds the named sink. names is the full set of process names in
// the run, used to align console prefixes.
func NewSink(kind string, w io.Writer, logger *slog.Logger, names []string) (output.Sink, error) {
	switch strings.ToLower(kind) {
	case SinkConsole, "":
		return NewConsoleSink(w, names), nil
	case SinkLog:
		return NewLogSink(logger), nil
	case SinkNone:
		return output.Discard, nil
	default:
		return nil, fmt.Errorf("unknown sink %q (want one of %s)", kind, strings.Join(SinkKinds, ", "))
	}
}

// =============================================================================
// Console sink
// =============================================================================

var prefixColors = []lipgloss.Color{
	"#06B6D4", // cyan
	"#7C3AED", // purple
	"#10B981", // green
	"#F59E0B", // amber
	"#3B82F6", // blue
	"#EC4899", // pink
}

// ConsoleSink writes "name | line" to a writer, one whole line per call.
// Process names get a stable colour when w is a terminal.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	width    int
	renderer *lipgloss.Renderer
	styles   map[string]lipgloss.Style
	errStyle lipgloss.Style
}

// NewConsoleSink creates a console sink for the given process names.
func NewConsoleSink(w io.Writer, names []string) *ConsoleSink {
	r := lipgloss.NewRenderer(w)
	s := &ConsoleSink{
		w:        w,
		renderer: r,
		styles:   make(map[string]lipgloss.Style, len(names)),
		errStyle: r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
	for i, name := range names {
		if len(name) > s.width {
			s.width = len(name)
		}
		s.styles[name] = r.NewStyle().Bold(true).Foreground(prefixColors[i%len(prefixColors)])
	}
	return s
}

// WriteLine implements output.Sink.
func (s *ConsoleSink) WriteLine(l output.Line) {
	text := l.Text
	if l.Stream == output.Stderr && classifyLine(text) >= slog.LevelWarn {
		text = s.errStyle.Render(text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s | %s\n", s.prefix(l.Process), text)
}

// Echo prints the command line about to run, shell style.
func (s *ConsoleSink) Echo(process, commandLine string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s | $ %s\n", s.prefix(process), commandLine)
}

func (s *ConsoleSink) prefix(process string) string {
	padded := fmt.Sprintf("%-*s", s.width, process)
	style, ok := s.styles[process]
	if !ok {
		return padded
	}
	return style.Render(padded)
}

// =============================================================================
// Log sink
// =============================================================================

// LogSink emits every line as a "process_line" record. stderr lines that
// look like errors or warnings are logged at warn.
type LogSink struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewLogSink creates a sink on logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = Discard()
	}
	return &LogSink{logger: logger}
}

// WriteLine implements output.Sink.
func (s *LogSink) WriteLine(l output.Line) {
	level := slog.LevelInfo
	if l.Stream == output.Stderr {
		level = classifyLine(l.Text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Log(context.Background(), level, "process_line",
		"process", l.Process,
		"stream", l.Stream,
		"line", l.Text,
	)
}

// classifyLine picks a level for a stderr line based on its content. Many
// tools write routine progress to stderr, so the default is info.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "panic") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "warn") {
		return slog.LevelWarn
	}

	return slog.LevelInfo
}
