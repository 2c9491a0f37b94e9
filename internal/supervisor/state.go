// Package supervisor runs a fixed set of child processes together, decides
// overall success under a run policy, and tears every child down on failure
// or cancellation.
package supervisor

// State represents the lifecycle state of one supervised process.
type State int

const (
	// StatePending is the initial state before the process has been spawned.
	StatePending State = iota

	// StateRunning indicates the process was spawned and has not exited.
	StateRunning

	// StateExited indicates the process exited on its own.
	StateExited

	// StateKilled indicates the supervisor stopped the process.
	StateKilled

	// StateSpawnFailed indicates the process could not be started.
	StateSpawnFailed

	// StateCancelled indicates the run stopped before the process was started.
	StateCancelled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateSpawnFailed:
		return "spawn_failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsActive returns true while a process exists for this spec.
func (s State) IsActive() bool {
	return s == StateRunning
}

// IsTerminal returns true for states that never change again.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateKilled || s == StateSpawnFailed || s == StateCancelled
}

// States lists every state in declaration order.
var States = []State{StatePending, StateRunning, StateExited, StateKilled, StateSpawnFailed, StateCancelled}
