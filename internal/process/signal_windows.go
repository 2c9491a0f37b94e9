//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// Windows has no process groups in the unix sense; signals go to the
// direct child only.
func configureProcessGroup(cmd *exec.Cmd) {}

// Terminate asks the process to exit. Interrupt isn't supported for most
// Windows processes, in which case it falls back to Kill.
func Terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Signal(os.Interrupt); err != nil {
		return Kill(p)
	}
	return nil
}

// Kill forcefully stops the process.
func Kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
