package supervisor

import (
	"time"

	"github.com/randomizedcoder/devrunner/internal/process"
)

// Result is the terminal record for one process.
type Result struct {
	Name  string
	Watch bool
	State State

	// ExitCode is -1 when the process never exited (spawn failure,
	// cancelled before start, or stuck past the kill timeout).
	ExitCode int
	PID      int

	StartedAt time.Time
	Duration  time.Duration

	Stdout string
	Stderr string
	// OutputTruncated is set when older output was discarded to stay
	// within the capture budget.
	OutputTruncated bool

	// ForceKilled is set when SIGKILL was needed.
	ForceKilled bool

	// LinesDropped counts lines not forwarded to the sink.
	LinesDropped int64
	// OutputDegraded is set when the drop rate passed output.DropThreshold.
	OutputDegraded bool
	// OutputLines counts every line seen on both streams, captured or not.
	OutputLines int64

	// Signaled is set when the process was ended by a signal.
	Signaled bool

	// Err is nil for a successful process. Killed and cancelled processes
	// carry no error of their own.
	Err error
}

// Failed reports whether the process itself failed: it could not be
// spawned, a one-shot exited non-zero, or a watch process exited.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Outcome is the result of one Run. Every submitted spec has exactly one
// entry in Results once Run returns.
type Outcome struct {
	Results map[string]*Result
	// Order holds process names in submission order.
	Order []string

	Policy    Policy
	StartMode StartMode

	StartedAt time.Time
	Duration  time.Duration

	// Err is the first fatal error, ErrCancelled, or nil.
	Err error
	// Warnings holds non-fatal problems such as *ShutdownTimeout.
	Warnings []error
}

func newOutcome(specs []process.Spec, policy Policy, mode StartMode) *Outcome {
	o := &Outcome{
		Results:   make(map[string]*Result, len(specs)),
		Order:     make([]string, 0, len(specs)),
		Policy:    policy,
		StartMode: mode,
		StartedAt: time.Now(),
	}
	for _, spec := range specs {
		o.Order = append(o.Order, spec.Name)
		o.Results[spec.Name] = &Result{
			Name:     spec.Name,
			Watch:    spec.Watch,
			State:    StatePending,
			ExitCode: -1,
		}
	}
	return o
}

// Success reports whether the run ended without a failure. A run cancelled
// by the caller with no failure counts as success.
func (o *Outcome) Success() bool {
	return ExitCode(o.Err) == 0
}

// Cancelled reports whether the run was stopped by the caller.
func (o *Outcome) Cancelled() bool {
	return o.Err == ErrCancelled
}

// InOrder returns the results in submission order.
func (o *Outcome) InOrder() []*Result {
	out := make([]*Result, 0, len(o.Order))
	for _, name := range o.Order {
		out = append(out, o.Results[name])
	}
	return out
}

// Count returns how many results are in state s.
func (o *Outcome) Count(s State) int {
	n := 0
	for _, r := range o.Results {
		if r.State == s {
			n++
		}
	}
	return n
}

// Status is a live view of one process, for dashboards.
type Status struct {
	Name      string
	Watch     bool
	State     State
	PID       int
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
	LastLine  string
}
