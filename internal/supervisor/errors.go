package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned when the caller cancelled the run before every
// process completed and no process failed first.
var ErrCancelled = errors.New("run cancelled")

// SpawnError means a process could not be started at all, usually because
// the executable was not found or the working directory does not exist.
type SpawnError struct {
	Process    string
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("process %s: cannot start %s: %v", e.Process, e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessFailed means a process finished without satisfying its success
// criterion: a one-shot exited non-zero, or a watch process exited at all.
type ProcessFailed struct {
	Process  string
	ExitCode int
	Watch    bool
	// Stderr is the captured tail of the process's stderr.
	Stderr string
}

func (e *ProcessFailed) Error() string {
	if e.Watch {
		return fmt.Sprintf("process %s: watch process exited unexpectedly with code %d", e.Process, e.ExitCode)
	}
	return fmt.Sprintf("process %s: exited with code %d", e.Process, e.ExitCode)
}

// ShutdownTimeout is a warning: the process did not reach a terminal state
// within the kill timeout after SIGKILL.
type ShutdownTimeout struct {
	Process string
	PID     int
	Timeout time.Duration
}

func (e *ShutdownTimeout) Error() string {
	return fmt.Sprintf("process %s (pid %d): still running %s after SIGKILL", e.Process, e.PID, e.Timeout)
}

// ExitCode maps a Run error to the exit code a CLI should return.
// Cancellation without failure is a clean exit.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, ErrCancelled) {
		return 0
	}

	var failed *ProcessFailed
	if errors.As(err, &failed) {
		if failed.ExitCode <= 0 || failed.ExitCode > 255 {
			return 1
		}
		return failed.ExitCode
	}

	var spawn *SpawnError
	if errors.As(err, &spawn) {
		return 127
	}

	return 1
}
