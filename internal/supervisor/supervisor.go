package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/randomizedcoder/devrunner/internal/logging"
	"github.com/randomizedcoder/devrunner/internal/output"
	"github.com/randomizedcoder/devrunner/internal/process"
)

const (
	// DefaultGracePeriod is how long a process gets between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// DefaultKillTimeout bounds the wait after SIGKILL.
	DefaultKillTimeout = 5 * time.Second

	// DefaultMaxProcesses caps the number of specs per run.
	DefaultMaxProcesses = 64

	sinkDrainTimeout = 5 * time.Second

	// outputLogLines is how many trailing lines per stream a failure logs.
	outputLogLines = 20
)

var (
	// ErrNoProcesses is returned by Run when given no specs.
	ErrNoProcesses = errors.New("no processes to run")

	// ErrDuplicateName is returned when two specs share a name.
	ErrDuplicateName = errors.New("duplicate process name")

	// ErrTooManyProcesses is returned when the spec count exceeds MaxProcesses.
	ErrTooManyProcesses = errors.New("too many processes")
)

// Callbacks contains optional callback functions for supervisor events.
// They are called from the goroutine that owns the process and must not
// block.
type Callbacks struct {
	// OnStateChange is called when a process changes state.
	OnStateChange func(name string, oldState, newState State)

	// OnStart is called once a process has been spawned.
	OnStart func(name string, pid int)

	// OnExit is called with the terminal result of a process that was
	// submitted to the run (including spawn failures).
	OnExit func(res Result)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Policy    Policy
	StartMode StartMode

	GracePeriod time.Duration
	KillTimeout time.Duration

	// CaptureBytes bounds each captured stream per process.
	CaptureBytes int

	// SinkBufferSize is the per-process queue length in front of Sink.
	SinkBufferSize int

	// Sink receives output lines as they arrive. nil disables streaming;
	// output is still captured.
	Sink output.Sink

	Logger    *slog.Logger
	Callbacks Callbacks

	MaxProcesses int
}

// Supervisor runs a set of processes to completion under a policy.
// A Supervisor can be reused; runs do not overlap.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	runMu sync.Mutex

	mu       sync.RWMutex
	statuses map[string]*Status
	order    []string

	// procs holds the live children so KillAll can reach them.
	procs     map[string]*os.Process
	killedAll map[string]bool
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = DefaultMaxProcesses
	}
	if cfg.Sink == nil {
		cfg.Sink = output.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Supervisor{
		cfg:       cfg,
		logger:    logger,
		statuses:  make(map[string]*Status),
		procs:     make(map[string]*os.Process),
		killedAll: make(map[string]bool),
	}
}

// ValidateSpecs checks a spec set before a run: at least one spec, no more
// than max, every spec valid, names unique.
func ValidateSpecs(specs []process.Spec, max int) error {
	if len(specs) == 0 {
		return ErrNoProcesses
	}
	if max > 0 && len(specs) > max {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyProcesses, len(specs), max)
	}

	var errs []error
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[spec.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name))
		}
		seen[spec.Name] = true
	}
	return errors.Join(errs...)
}

// Run launches every spec, waits for them under the configured policy, and
// returns once every child has reached a terminal state.
//
// The returned error is the first failure (*SpawnError or *ProcessFailed),
// ErrCancelled when ctx was cancelled with no failure, or nil. The Outcome
// is returned whenever the specs were valid, including on failure.
func (s *Supervisor) Run(ctx context.Context, specs []process.Spec) (*Outcome, error) {
	if err := ValidateSpecs(specs, s.cfg.MaxProcesses); err != nil {
		return nil, err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	cloned := make([]process.Spec, len(specs))
	for i, spec := range specs {
		cloned[i] = spec.Clone()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rs := &runState{
		s:       s,
		ctx:     runCtx,
		cancel:  cancel,
		specs:   cloned,
		outcome: newOutcome(cloned, s.cfg.Policy, s.cfg.StartMode),
		// Each child sends at most two events, so sends never block.
		events: make(chan event, 2*len(cloned)),
	}
	s.resetStatuses(cloned)

	s.logger.Info("run_starting",
		"processes", len(cloned),
		"policy", s.cfg.Policy.String(),
		"start_mode", s.cfg.StartMode.String(),
	)

	// A run whose parent is already cancelled starts nothing.
	if ctx.Err() != nil {
		s.logger.Info("run_cancelled", "running", 0)
		rs.stop(ErrCancelled)
	}
	rs.launch()

	parentDone := ctx.Done()
	for rs.inFlight > 0 {
		select {
		case ev := <-rs.events:
			rs.handle(ev)
		case <-parentDone:
			parentDone = nil
			if !rs.stopping {
				s.logger.Info("run_cancelled", "running", rs.inFlight)
				rs.stop(ErrCancelled)
			}
		}
	}
	// The last child can finish in the same instant the parent is
	// cancelled; select may then never observe parentDone.
	if ctx.Err() != nil {
		rs.cancelled = true
	}

	cancel()
	rs.wg.Wait()

	return rs.finish(), rs.outcome.Err
}

// =============================================================================
// Run loop
// =============================================================================

type eventKind int

const (
	eventStarted eventKind = iota
	eventDone
)

type event struct {
	kind    eventKind
	name    string
	result  Result
	warning error
}

// runState is owned by the Run goroutine.
type runState struct {
	s      *Supervisor
	ctx    context.Context
	cancel context.CancelFunc

	specs   []process.Spec
	outcome *Outcome
	events  chan event
	wg      sync.WaitGroup

	next     int
	inFlight int
	// gate names the process the next sequential start waits on.
	gate string

	stopping  bool
	cancelled bool
	firstErr  error
}

func (rs *runState) launch() {
	for rs.next < len(rs.specs) && !rs.stopping {
		if rs.s.cfg.StartMode == StartSequential && rs.gate != "" {
			return
		}

		spec := rs.specs[rs.next]
		rs.next++
		rs.inFlight++
		if rs.s.cfg.StartMode == StartSequential {
			rs.gate = spec.Name
		}

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			rs.s.runChild(rs.ctx, spec, rs.events)
		}()
	}
}

func (rs *runState) handle(ev event) {
	switch ev.kind {
	case eventStarted:
		// A watch process never exits on its own, so sequential start
		// only waits for it to be spawned.
		if rs.gate == ev.name && rs.outcome.Results[ev.name].Watch {
			rs.gate = ""
		}

	case eventDone:
		rs.inFlight--
		*rs.outcome.Results[ev.name] = ev.result
		if rs.gate == ev.name {
			rs.gate = ""
		}
		if ev.warning != nil {
			rs.outcome.Warnings = append(rs.outcome.Warnings, ev.warning)
		}

		if err := ev.result.Err; err != nil {
			if rs.firstErr == nil {
				rs.firstErr = err
			}
			var spawnErr *SpawnError
			if !rs.stopping && (rs.s.cfg.Policy == PolicyFailFast || errors.As(err, &spawnErr)) {
				rs.stop(err)
			}
		}
	}

	if !rs.stopping {
		rs.launch()
	}
}

func (rs *runState) stop(reason error) {
	rs.stopping = true
	if errors.Is(reason, ErrCancelled) {
		rs.cancelled = true
	}
	rs.s.logger.Info("stopping_processes", "reason", reason.Error(), "running", rs.inFlight)
	rs.cancel()
}

func (rs *runState) finish() *Outcome {
	for _, spec := range rs.specs[rs.next:] {
		rs.outcome.Results[spec.Name].State = StateCancelled
		rs.s.setState(spec.Name, StateCancelled)
	}

	o := rs.outcome
	o.Duration = time.Since(o.StartedAt)
	switch {
	case rs.firstErr != nil:
		o.Err = rs.firstErr
	case rs.cancelled:
		o.Err = ErrCancelled
	}

	rs.s.logger.Info("run_complete",
		"exited", o.Count(StateExited),
		"killed", o.Count(StateKilled),
		"spawn_failed", o.Count(StateSpawnFailed),
		"cancelled", o.Count(StateCancelled),
		"duration", o.Duration.String(),
		"error", errString(o.Err),
	)
	return o
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// Per-process lifecycle
// =============================================================================

// runChild spawns one process, waits for it or for ctx, and sends its events.
func (s *Supervisor) runChild(ctx context.Context, spec process.Spec, events chan<- event) {
	res := Result{Name: spec.Name, Watch: spec.Watch, State: StatePending, ExitCode: -1}

	// The run may have been stopped between launch and this goroutine
	// getting scheduled.
	if ctx.Err() != nil {
		res.State = StateCancelled
		s.setState(spec.Name, StateCancelled)
		events <- event{kind: eventDone, name: spec.Name, result: res}
		return
	}

	stdoutCap := output.NewCapture(s.cfg.CaptureBytes)
	stderrCap := output.NewCapture(s.cfg.CaptureBytes)
	pipe := output.NewPipeline(spec.Name, s.cfg.SinkBufferSize)
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		pipe.Run(s.cfg.Sink)
	}()

	stdout := output.NewLineWriter(func(text string) {
		stdoutCap.Add(text)
		pipe.Feed(output.Line{Process: spec.Name, Stream: output.Stdout, Text: text})
		s.noteLine(spec.Name, text)
	})
	stderr := output.NewLineWriter(func(text string) {
		stderrCap.Add(text)
		pipe.Feed(output.Line{Process: spec.Name, Stream: output.Stderr, Text: text})
		s.noteLine(spec.Name, text)
	})

	cmd := spec.Command()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = s.cfg.KillTimeout

	s.logger.Info("process_starting",
		"process", spec.Name,
		"command", spec.CommandLine(),
		"dir", spec.Dir,
		"kind", spec.Kind(),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pipe.Close()
		<-sinkDone

		res.State = StateSpawnFailed
		res.Err = &SpawnError{Process: spec.Name, Executable: spec.Executable, Err: err}
		s.logger.Error("process_spawn_failed",
			"process", spec.Name,
			"command", spec.Executable,
			"error", err,
		)
		s.setState(spec.Name, StateSpawnFailed)
		if s.cfg.Callbacks.OnExit != nil {
			s.cfg.Callbacks.OnExit(res)
		}
		events <- event{kind: eventDone, name: spec.Name, result: res}
		return
	}

	pid := cmd.Process.Pid
	res.PID = pid
	res.StartedAt = start
	s.markRunning(spec.Name, cmd.Process, start)

	s.logger.Info("process_started", "process", spec.Name, "pid", pid)
	if s.cfg.Callbacks.OnStart != nil {
		s.cfg.Callbacks.OnStart(spec.Name, pid)
	}
	events <- event{kind: eventStarted, name: spec.Name}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	var (
		waitErr error
		warning error
	)
	select {
	case waitErr = <-waitDone:
		res.State = StateExited
		res.ForceKilled = s.wasKilledAll(spec.Name)
	case <-ctx.Done():
		res.State = StateKilled
		waitErr, res.ForceKilled, warning = s.terminate(spec.Name, cmd.Process, waitDone)
	}
	res.Duration = time.Since(start)
	if warning == nil {
		res.ExitCode = process.ExitCode(waitErr)
		res.Signaled = process.Signaled(waitErr)
	}

	stdout.Flush()
	stderr.Flush()
	pipe.Close()
	s.drainSink(spec.Name, sinkDone)

	res.Stdout = stdoutCap.String()
	res.Stderr = stderrCap.String()
	res.OutputTruncated = stdoutCap.Truncated() || stderrCap.Truncated()
	_, res.LinesDropped, _ = pipe.Stats()
	res.OutputDegraded = pipe.IsDegraded()
	res.OutputLines = stdoutCap.TotalLines() + stderrCap.TotalLines()

	if res.State == StateExited && (spec.Watch || res.ExitCode != 0) {
		res.Err = &ProcessFailed{
			Process:  spec.Name,
			ExitCode: res.ExitCode,
			Watch:    spec.Watch,
			Stderr:   res.Stderr,
		}
	}

	s.logger.Info("process_exited",
		"process", spec.Name,
		"pid", pid,
		"state", res.State.String(),
		"exit_code", res.ExitCode,
		"signaled", res.Signaled,
		"duration", res.Duration.String(),
		"force_killed", res.ForceKilled,
		"lines", res.OutputLines,
	)
	if res.LinesDropped > 0 {
		s.logger.Warn("output_lines_dropped",
			"process", spec.Name,
			"lines_dropped", res.LinesDropped,
			"drop_rate", pipe.DropRate(),
			"degraded", res.OutputDegraded,
		)
	}
	if res.Err != nil {
		s.logger.Error("process_failed",
			"process", spec.Name,
			"error", res.Err,
		)
		s.logger.Warn("process_output",
			"process", spec.Name,
			"stdout_tail", stdoutCap.RecentLines(outputLogLines),
			"stderr_tail", stderrCap.RecentLines(outputLogLines),
			"truncated", res.OutputTruncated,
		)
	}

	s.markDone(res)
	if s.cfg.Callbacks.OnExit != nil {
		s.cfg.Callbacks.OnExit(res)
	}
	events <- event{kind: eventDone, name: spec.Name, result: res, warning: warning}
}

// terminate stops a running process: SIGTERM to its group, the grace period,
// then SIGKILL and a bounded wait.
func (s *Supervisor) terminate(name string, p *os.Process, waitDone <-chan error) (waitErr error, forced bool, warning error) {
	s.logger.Info("process_stopping",
		"process", name,
		"pid", p.Pid,
		"grace_period", s.cfg.GracePeriod.String(),
	)
	if err := process.Terminate(p); err != nil {
		s.logger.Debug("terminate_signal_failed", "process", name, "pid", p.Pid, "error", err)
	}

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case err := <-waitDone:
		return err, s.wasKilledAll(name), nil
	case <-grace.C:
	}

	s.logger.Warn("force_killing_process", "process", name, "pid", p.Pid)
	if err := process.Kill(p); err != nil {
		s.logger.Debug("kill_signal_failed", "process", name, "pid", p.Pid, "error", err)
	}

	kill := time.NewTimer(s.cfg.KillTimeout)
	defer kill.Stop()
	select {
	case err := <-waitDone:
		return err, true, nil
	case <-kill.C:
		w := &ShutdownTimeout{Process: name, PID: p.Pid, Timeout: s.cfg.KillTimeout}
		s.logger.Warn("shutdown_timeout",
			"process", name,
			"pid", p.Pid,
			"timeout", s.cfg.KillTimeout.String(),
		)
		return nil, true, w
	}
}

// drainSink waits for the sink goroutine to deliver queued lines.
func (s *Supervisor) drainSink(name string, done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(sinkDrainTimeout):
		s.logger.Warn("sink_drain_timeout",
			"process", name,
			"timeout", sinkDrainTimeout.String(),
		)
	}
}

// =============================================================================
// Live status
// =============================================================================

func (s *Supervisor) resetStatuses(specs []process.Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses = make(map[string]*Status, len(specs))
	s.order = s.order[:0]
	for _, spec := range specs {
		s.statuses[spec.Name] = &Status{
			Name:     spec.Name,
			Watch:    spec.Watch,
			State:    StatePending,
			ExitCode: -1,
		}
		s.order = append(s.order, spec.Name)
	}
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(name string, newState State) {
	s.mu.Lock()
	st, ok := s.statuses[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	oldState := st.State
	st.State = newState
	s.mu.Unlock()

	if s.cfg.Callbacks.OnStateChange != nil && oldState != newState {
		s.cfg.Callbacks.OnStateChange(name, oldState, newState)
	}
}

func (s *Supervisor) markRunning(name string, p *os.Process, start time.Time) {
	s.mu.Lock()
	if st, ok := s.statuses[name]; ok {
		st.PID = p.Pid
		st.StartedAt = start
	}
	s.procs[name] = p
	s.mu.Unlock()

	s.setState(name, StateRunning)
}

func (s *Supervisor) markDone(res Result) {
	s.mu.Lock()
	if st, ok := s.statuses[res.Name]; ok {
		st.ExitCode = res.ExitCode
		st.Duration = res.Duration
	}
	delete(s.procs, res.Name)
	delete(s.killedAll, res.Name)
	s.mu.Unlock()

	s.setState(res.Name, res.State)
}

func (s *Supervisor) noteLine(name, text string) {
	s.mu.Lock()
	if st, ok := s.statuses[name]; ok {
		st.LastLine = text
	}
	s.mu.Unlock()
}

// Statuses returns a snapshot of every process in submission order.
func (s *Supervisor) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		st := *s.statuses[name]
		if st.State == StateRunning {
			st.Duration = now.Sub(st.StartedAt)
		}
		out = append(out, st)
	}
	return out
}

// ActiveCount returns the number of processes currently running.
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, st := range s.statuses {
		if st.State.IsActive() {
			n++
		}
	}
	return n
}

// KillAll sends SIGKILL to the process group of every running child and
// returns how many were signalled. Run still waits for them; children that
// were being stopped are reported as killed with ForceKilled set.
func (s *Supervisor) KillAll() int {
	s.mu.Lock()
	procs := make(map[string]*os.Process, len(s.procs))
	for name, p := range s.procs {
		procs[name] = p
		s.killedAll[name] = true
	}
	s.mu.Unlock()

	for name, p := range procs {
		s.logger.Warn("force_killing_process", "process", name, "pid", p.Pid, "reason", "kill_all")
		if err := process.Kill(p); err != nil {
			s.logger.Debug("kill_signal_failed", "process", name, "pid", p.Pid, "error", err)
		}
	}
	return len(procs)
}

func (s *Supervisor) wasKilledAll(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.killedAll[name]
}
