package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// ExitCode converts the error returned by (*exec.Cmd).Wait into a shell
// style exit code. A process terminated by a signal reports 128 plus the
// signal number.
func ExitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}

	// The child exited cleanly but a grandchild kept stdout/stderr open
	// past WaitDelay.
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	return 1
}

// Signaled reports whether the wait error describes death by signal.
func Signaled(waitErr error) bool {
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}
