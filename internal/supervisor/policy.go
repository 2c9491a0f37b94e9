package supervisor

import (
	"fmt"
	"strings"
)

// Policy decides what a failure means for the rest of the run.
type Policy int

const (
	// PolicyWaitAll lets every process run to completion. Failures are
	// recorded and the first one is returned at the end.
	PolicyWaitAll Policy = iota

	// PolicyFailFast stops every other process on the first failure.
	PolicyFailFast
)

func (p Policy) String() string {
	switch p {
	case PolicyWaitAll:
		return "wait-all"
	case PolicyFailFast:
		return "fail-fast"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts "wait-all" or "fail-fast".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wait-all", "waitall", "":
		return PolicyWaitAll, nil
	case "fail-fast", "failfast":
		return PolicyFailFast, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (want wait-all or fail-fast)", s)
	}
}

// StartMode decides how processes are launched.
type StartMode int

const (
	// StartConcurrent spawns every process at once.
	StartConcurrent StartMode = iota

	// StartSequential spawns processes in order. A one-shot must exit
	// before the next process starts; a watch process is left running and
	// the next one starts straight away.
	StartSequential
)

func (m StartMode) String() string {
	switch m {
	case StartConcurrent:
		return "concurrent"
	case StartSequential:
		return "sequential"
	default:
		return "unknown"
	}
}

// ParseStartMode accepts "concurrent" or "sequential".
func ParseStartMode(s string) (StartMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "concurrent", "parallel", "":
		return StartConcurrent, nil
	case "sequential", "serial":
		return StartSequential, nil
	default:
		return 0, fmt.Errorf("unknown start mode %q (want concurrent or sequential)", s)
	}
}
