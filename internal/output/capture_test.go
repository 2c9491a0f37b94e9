package output

import (
	"strings"
	"testing"
)

func TestCapture_KeepsEverythingUnderBudget(t *testing.T) {
	c := NewCapture(1024)
	c.Add("one")
	c.Add("two")

	if got, want := c.String(), "one\ntwo\n"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if c.Truncated() {
		t.Error("Truncated() = true under budget")
	}
	if c.TotalLines() != 2 {
		t.Errorf("TotalLines() = %d, want 2", c.TotalLines())
	}
}

func TestCapture_DropsOldestOverBudget(t *testing.T) {
	// Each "lineN" costs 6 bytes with its newline.
	c := NewCapture(18)
	for _, l := range []string{"line1", "line2", "line3", "line4", "line5"} {
		c.Add(l)
	}

	if got, want := c.String(), "line3\nline4\nline5\n"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !c.Truncated() {
		t.Error("Truncated() = false after discarding lines")
	}
	if c.TotalLines() != 5 {
		t.Errorf("TotalLines() = %d, want 5", c.TotalLines())
	}
}

func TestCapture_AlwaysKeepsNewestLine(t *testing.T) {
	c := NewCapture(4)
	c.Add("short")
	c.Add("a much longer line than the budget")

	if got := c.RecentLines(0); len(got) != 1 || got[0] != "a much longer line than the budget" {
		t.Errorf("RecentLines() = %v", got)
	}
}

func TestCapture_TruncatesLongLines(t *testing.T) {
	c := NewCapture(0)
	c.Add(strings.Repeat("a", MaxLineLength+10))

	got := c.RecentLines(1)[0]
	if !strings.HasSuffix(got, truncatedSuffix) {
		t.Errorf("long line not marked truncated: ...%q", got[len(got)-20:])
	}
	if len(got) != MaxLineLength+len(truncatedSuffix) {
		t.Errorf("len = %d, want %d", len(got), MaxLineLength+len(truncatedSuffix))
	}
}

func TestCapture_RecentLines(t *testing.T) {
	c := NewCapture(0)
	for _, l := range []string{"a", "b", "c", "d"} {
		c.Add(l)
	}

	tests := []struct {
		n    int
		want []string
	}{
		{2, []string{"c", "d"}},
		{4, []string{"a", "b", "c", "d"}},
		{10, []string{"a", "b", "c", "d"}},
		{0, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		got := c.RecentLines(tt.n)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("RecentLines(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestCapture_Compaction(t *testing.T) {
	c := NewCapture(20)
	for i := 0; i < 1000; i++ {
		c.Add("xxxx")
	}
	// 4 lines of 5 bytes fit in 20.
	if got := len(c.RecentLines(0)); got != 4 {
		t.Errorf("kept %d lines, want 4", got)
	}
	if len(c.lines) > 200 {
		t.Errorf("backing slice not compacted: len=%d", len(c.lines))
	}
}

func TestCapture_Empty(t *testing.T) {
	c := NewCapture(0)
	if c.String() != "" {
		t.Errorf("String() = %q, want empty", c.String())
	}
	if len(c.RecentLines(3)) != 0 {
		t.Error("RecentLines on empty capture should be empty")
	}
}
