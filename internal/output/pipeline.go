// Package output moves child process output from the pipes exec gives us to
// the places it needs to go: a bounded capture per stream and an optional
// streaming sink.
//
// Forwarding to the sink is lossy by design. A child writing faster than the
// sink can render must never be blocked on its stdout/stderr, so lines are
// queued on a bounded channel and dropped (and counted) when it fills up.
//
//	Layer 1 (LineWriter): splits writes into lines, never blocks
//	Layer 2 (Pipeline):   bounded queue, drops when full
//	Layer 3 (Sink):       consumes lines at its own pace
package output

import (
	"sync"
	"sync/atomic"
)

// Stream names.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Line is one line of output from a child process.
type Line struct {
	Process string
	Stream  string
	Text    string
}

// Sink receives forwarded lines. Implementations must be safe for
// concurrent use since every child has its own pipeline.
type Sink interface {
	WriteLine(l Line)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(l Line)

// WriteLine calls f(l).
func (f SinkFunc) WriteLine(l Line) { f(l) }

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(Line) {})

const (
	// DefaultBufferSize is the queue length used when none is configured.
	DefaultBufferSize = 1024

	// DropThreshold is the drop rate above which a pipeline is reported as
	// degraded.
	DropThreshold = 0.01
)

// Pipeline is the bounded queue between one child's output and a Sink.
type Pipeline struct {
	process string

	lineChan chan Line
	mu       sync.RWMutex
	closed   bool

	linesRead    atomic.Int64
	linesDropped atomic.Int64
	linesWritten atomic.Int64
}

// NewPipeline creates a pipeline for the named process. Lines fed without a
// process name are stamped with it.
func NewPipeline(process string, bufferSize int) *Pipeline {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}

	return &Pipeline{
		process:  process,
		lineChan: make(chan Line, bufferSize),
	}
}

// Feed queues a line for the sink. It never blocks; it returns false if the
// line was dropped because the queue is full or the pipeline is closed.
func (p *Pipeline) Feed(l Line) bool {
	p.linesRead.Add(1)
	if l.Process == "" {
		l.Process = p.process
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.linesDropped.Add(1)
		return false
	}

	select {
	case p.lineChan <- l:
		return true
	default:
		p.linesDropped.Add(1)
		return false
	}
}

// Close stops accepting lines. Lines already queued are still delivered by
// Run. Safe to call more than once.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.lineChan)
}

// Run delivers queued lines to sink until the pipeline is closed and
// drained. Must run in its own goroutine.
func (p *Pipeline) Run(sink Sink) {
	if sink == nil {
		sink = Discard
	}
	for l := range p.lineChan {
		sink.WriteLine(l)
		p.linesWritten.Add(1)
	}
}

// Stats returns lines read, dropped and delivered so far.
func (p *Pipeline) Stats() (read, dropped, written int64) {
	return p.linesRead.Load(), p.linesDropped.Load(), p.linesWritten.Load()
}

// DropRate returns dropped/read as a fraction.
func (p *Pipeline) DropRate() float64 {
	read := p.linesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(p.linesDropped.Load()) / float64(read)
}

// IsDegraded reports whether the drop rate exceeds the threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > DropThreshold
}
