package orchestrator

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/randomizedcoder/devrunner/internal/config"
	"github.com/randomizedcoder/devrunner/internal/process"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestConfig(specs ...process.Spec) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processes = specs
	cfg.Preflight = false
	cfg.GracePeriod = 500 * time.Millisecond
	cfg.KillTimeout = time.Second
	return cfg
}

func sh(name, script string) process.Spec {
	return process.Spec{Name: name, Executable: "sh", Args: []string{"-c", script}}
}

type runResult struct {
	code   int
	stdout string
	stderr string
	orch   *Orchestrator
}

func runOrchestrator(t *testing.T, ctx context.Context, cfg *config.Config) runResult {
	t.Helper()

	var stdout, stderr bytes.Buffer
	orch := New(cfg, nil, "test")
	orch.SetOutput(&stdout, &stderr)

	done := make(chan int, 1)
	go func() { done <- orch.Run(ctx) }()

	select {
	case code := <-done:
		return runResult{code: code, stdout: stdout.String(), stderr: stderr.String(), orch: orch}
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not return")
		return runResult{}
	}
}

// =============================================================================
// Tests: Exit Codes
// =============================================================================

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		specs []process.Spec
		want  int
	}{
		{"success", []process.Spec{{Name: "greet", Executable: "echo", Args: []string{"hello"}}}, 0},
		{"child exit code", []process.Spec{sh("fail", "exit 3")}, 3},
		{"spawn error", []process.Spec{{Name: "ghost", Executable: "devrunner-no-such-tool"}}, ExitNotExecutable},
		{"first failure wins", []process.Spec{sh("fast", "exit 4"), sh("slow", "sleep 5")}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runOrchestrator(t, context.Background(), newTestConfig(tt.specs...))
			if res.code != tt.want {
				t.Errorf("Run() = %d, want %d\nstderr:\n%s", res.code, tt.want, res.stderr)
			}
			if res.orch.Outcome() == nil {
				t.Error("Outcome() should be set after Run")
			}
		})
	}
}

func TestRun_WaitAllReportsFailure(t *testing.T) {
	cfg := newTestConfig(sh("bad", "exit 2"), sh("good", "sleep 0.2; echo done"))
	cfg.Policy = "wait-all"

	res := runOrchestrator(t, context.Background(), cfg)
	if res.code != 2 {
		t.Errorf("Run() = %d, want 2", res.code)
	}

	good := res.orch.Outcome().Results["good"]
	if good.State != supervisor.StateExited || good.ExitCode != 0 {
		t.Errorf("good = %s/%d, want exited/0", good.State, good.ExitCode)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res := runOrchestrator(t, ctx, newTestConfig(process.Spec{Name: "server", Executable: "sleep", Args: []string{"30"}, Watch: true}))

	if res.code != 0 {
		t.Errorf("Run() = %d, want 0 for a user cancel", res.code)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
	if !res.orch.Outcome().Cancelled() {
		t.Error("Outcome should be cancelled")
	}
	if !strings.Contains(res.stderr, "Result: cancelled") {
		t.Errorf("summary should report cancellation:\n%s", res.stderr)
	}
}

func TestRun_InvalidSpecs(t *testing.T) {
	res := runOrchestrator(t, context.Background(), newTestConfig())
	if res.code != ExitUsage {
		t.Errorf("Run() = %d, want %d", res.code, ExitUsage)
	}
	if !strings.Contains(res.stderr, "no processes") {
		t.Errorf("stderr should explain the error:\n%s", res.stderr)
	}
	if res.orch.Outcome() != nil {
		t.Error("Outcome() should be nil for a rejected run")
	}
}

// =============================================================================
// Tests: Output
// =============================================================================

func TestRun_ConsoleOutput(t *testing.T) {
	res := runOrchestrator(t, context.Background(), newTestConfig(
		process.Spec{Name: "greet", Executable: "echo", Args: []string{"hello world"}},
	))

	for _, want := range []string{"greet | $ echo 'hello world'", "greet | hello world"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, res.stdout)
		}
	}
	for _, want := range []string{"devrunner Run Summary", "Result: ok", res.orch.RunID()} {
		if !strings.Contains(res.stderr, want) {
			t.Errorf("summary missing %q:\n%s", want, res.stderr)
		}
	}
}

func TestRun_SinkNoneShowsFailedOutput(t *testing.T) {
	cfg := newTestConfig(sh("build", "echo compile error >&2; exit 1"))
	cfg.Sink = "none"

	res := runOrchestrator(t, context.Background(), cfg)

	if res.code != 1 {
		t.Errorf("Run() = %d, want 1", res.code)
	}
	if res.stdout != "" {
		t.Errorf("sink none should not stream output, got:\n%s", res.stdout)
	}
	if !strings.Contains(res.stderr, "compile error") {
		t.Errorf("summary should include the failed output:\n%s", res.stderr)
	}
}

func TestRun_NoSummary(t *testing.T) {
	cfg := newTestConfig(process.Spec{Name: "ok", Executable: "true"})
	cfg.PrintSummary = false

	res := runOrchestrator(t, context.Background(), cfg)
	if strings.Contains(res.stderr, "Run Summary") {
		t.Errorf("summary printed with PrintSummary=false:\n%s", res.stderr)
	}
}

// =============================================================================
// Tests: Preflight
// =============================================================================

func TestRun_PreflightMissingCommand(t *testing.T) {
	cfg := newTestConfig(process.Spec{Name: "ghost", Executable: "devrunner-no-such-tool"})
	cfg.Preflight = true

	res := runOrchestrator(t, context.Background(), cfg)

	if res.code != ExitNotExecutable {
		t.Errorf("Run() = %d, want %d", res.code, ExitNotExecutable)
	}
	if !strings.Contains(res.stderr, "Preflight checks:") {
		t.Errorf("preflight results should be printed:\n%s", res.stderr)
	}
	if res.orch.Outcome() != nil {
		t.Error("no run should take place after a failed preflight")
	}
}

func TestRun_PreflightMissingDirectory(t *testing.T) {
	cfg := newTestConfig(process.Spec{Name: "p", Executable: "true", Dir: "/nonexistent/devrunner"})
	cfg.Preflight = true

	res := runOrchestrator(t, context.Background(), cfg)
	if res.code != ExitUsage {
		t.Errorf("Run() = %d, want %d", res.code, ExitUsage)
	}
}

// =============================================================================
// Tests: Metrics
// =============================================================================

func TestRun_Metrics(t *testing.T) {
	cfg := newTestConfig(
		process.Spec{Name: "a", Executable: "true"},
		process.Spec{Name: "b", Executable: "true"},
	)
	cfg.MetricsAddr = "127.0.0.1:0"

	res := runOrchestrator(t, context.Background(), cfg)
	if res.code != 0 {
		t.Fatalf("Run() = %d, want 0\n%s", res.code, res.stderr)
	}

	if got := res.orch.Metrics().TotalStarts(); got != 2 {
		t.Errorf("TotalStarts() = %d, want 2", got)
	}
	if n, err := testutil.GatherAndCount(res.orch.Gatherer(), "devrunner_info"); err != nil || n != 1 {
		t.Errorf("devrunner_info count = %d, err = %v", n, err)
	}
	if !strings.Contains(res.stderr, "127.0.0.1:") {
		t.Errorf("summary should show the bound metrics address:\n%s", res.stderr)
	}
}

func TestRun_MetricsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := newTestConfig(process.Spec{Name: "a", Executable: "true"})
	cfg.MetricsAddr = ln.Addr().String()

	res := runOrchestrator(t, context.Background(), cfg)
	if res.code != ExitUsage {
		t.Errorf("Run() = %d, want %d", res.code, ExitUsage)
	}
}

func TestNew_RunID(t *testing.T) {
	a := New(newTestConfig(), nil, "test")
	b := New(newTestConfig(), nil, "test")

	if a.RunID() == "" || a.RunID() == b.RunID() {
		t.Errorf("run IDs should be unique: %q %q", a.RunID(), b.RunID())
	}
}
