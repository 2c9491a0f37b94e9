package output

import (
	"strings"
	"sync"
)

const (
	// MaxLineLength is the longest line kept before truncation.
	MaxLineLength = 4096

	// DefaultCaptureBytes bounds each captured stream when no limit is set.
	DefaultCaptureBytes = 64 * 1024

	truncatedSuffix = "...(truncated)"
)

// Capture keeps the most recent lines of a stream within a byte budget.
// When the budget is exceeded the oldest lines are discarded.
type Capture struct {
	mu        sync.Mutex
	maxBytes  int
	lines     []string
	head      int
	size      int
	total     int64
	truncated bool
}

// NewCapture creates a capture bounded to maxBytes (DefaultCaptureBytes when
// maxBytes <= 0).
func NewCapture(maxBytes int) *Capture {
	if maxBytes <= 0 {
		maxBytes = DefaultCaptureBytes
	}
	return &Capture{maxBytes: maxBytes}
}

// Add appends a line. The newest line is always kept.
func (c *Capture) Add(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + truncatedSuffix
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = append(c.lines, line)
	c.size += len(line) + 1
	c.total++

	for c.size > c.maxBytes && len(c.lines)-c.head > 1 {
		c.size -= len(c.lines[c.head]) + 1
		c.lines[c.head] = ""
		c.head++
		c.truncated = true
	}

	// Compact once the dead prefix dominates the backing array.
	if c.head > 64 && c.head*2 > len(c.lines) {
		c.lines = append([]string(nil), c.lines[c.head:]...)
		c.head = 0
	}
}

// String returns the captured text, one line per newline-terminated row.
func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.lines[c.head:]
	if len(live) == 0 {
		return ""
	}
	return strings.Join(live, "\n") + "\n"
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (c *Capture) RecentLines(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.lines[c.head:]
	if n <= 0 || n > len(live) {
		n = len(live)
	}
	out := make([]string, n)
	copy(out, live[len(live)-n:])
	return out
}

// Truncated reports whether older lines were discarded.
func (c *Capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// TotalLines returns the number of lines ever added.
func (c *Capture) TotalLines() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
