//go:build unix

package process

import (
	"testing"
	"time"
)

func startSpec(t *testing.T, spec Spec) (wait <-chan error, stop func()) {
	t.Helper()

	cmd := spec.Command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", spec.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	return done, func() { _ = Kill(cmd.Process) }
}

func TestTerminate_ProcessGroup(t *testing.T) {
	spec := Spec{Name: "tree", Executable: "sh", Args: []string{"-c", "sleep 30 & wait"}}
	cmd := spec.Command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := Terminate(cmd.Process); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	select {
	case err := <-done:
		if got := ExitCode(err); got != 143 {
			t.Errorf("exit code = %d, want 143", got)
		}
	case <-time.After(5 * time.Second):
		_ = Kill(cmd.Process)
		t.Fatal("process group did not exit after SIGTERM")
	}
}

func TestKill_IgnoresSIGTERM(t *testing.T) {
	wait, stop := startSpec(t, Spec{
		Name:       "stubborn",
		Executable: "sh",
		Args:       []string{"-c", "trap '' TERM; sleep 30"},
	})
	defer stop()

	// Give sh a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	select {
	case <-wait:
		t.Fatal("process exited before being signalled")
	default:
	}

	if err := Kill(nil); err != nil {
		t.Errorf("Kill(nil) = %v, want nil", err)
	}

	stop()
	select {
	case err := <-wait:
		if got := ExitCode(err); got != 137 {
			t.Errorf("exit code = %d, want 137", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGKILL")
	}
}

func TestTerminate_AlreadyExited(t *testing.T) {
	cmd := Spec{Name: "done", Executable: "true"}.Command()
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := Terminate(cmd.Process); err != nil {
		t.Errorf("Terminate() on reaped process = %v, want nil", err)
	}
}
