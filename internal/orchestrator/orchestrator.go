// Package orchestrator wires a loaded configuration to the supervisor and
// everything around a run: signals, output sinks, metrics, the dashboard and
// the exit summary.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/devrunner/internal/config"
	"github.com/randomizedcoder/devrunner/internal/logging"
	"github.com/randomizedcoder/devrunner/internal/metrics"
	"github.com/randomizedcoder/devrunner/internal/output"
	"github.com/randomizedcoder/devrunner/internal/preflight"
	"github.com/randomizedcoder/devrunner/internal/stats"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
	"github.com/randomizedcoder/devrunner/internal/tui"
)

// Exit codes that do not come from a child process.
const (
	ExitUsage         = 2
	ExitNotExecutable = 127
)

const (
	shutdownTimeout    = 5 * time.Second
	summaryOutputLines = 10
)

// Orchestrator coordinates all components for one devrunner run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string
	runID   string

	stdout io.Writer
	stderr io.Writer

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	supervisor    *supervisor.Supervisor
	outcome       *supervisor.Outcome

	// notify and stopNotify are signal.Notify and signal.Stop.
	notify     func(c chan<- os.Signal, sig ...os.Signal)
	stopNotify func(c chan<- os.Signal)
}

// New creates a new Orchestrator for an already loaded and validated
// configuration. Every log line it emits carries the run ID.
func New(cfg *config.Config, logger *slog.Logger, version string) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	runID := uuid.New().String()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:   version,
		RunID:     runID,
		Policy:    cfg.Policy,
		StartMode: cfg.StartMode,
	}, registry)

	return &Orchestrator{
		config:     cfg,
		logger:     logger.With("run_id", runID),
		version:    version,
		runID:      runID,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		registry:   registry,
		metrics:    collector,
		notify:     signal.Notify,
		stopNotify: signal.Stop,
	}
}

// SetOutput redirects child output (stdout) and the notices and summary
// (stderr). Defaults are the process's own streams.
func (o *Orchestrator) SetOutput(stdout, stderr io.Writer) {
	o.stdout = stdout
	o.stderr = stderr
}

// Run executes the configured processes and blocks until every one of them
// has reached a terminal state. It returns the process exit code for the run.
func (o *Orchestrator) Run(ctx context.Context) int {
	cfg := o.config

	if cfg.Preflight {
		if code, ok := o.runPreflight(); !ok {
			return code
		}
	}

	sink, err := o.buildSink()
	if err != nil {
		o.logger.Error("sink_failed", "error", err)
		fmt.Fprintf(o.stderr, "Error: %v\n", err)
		return ExitUsage
	}

	scfg := cfg.SupervisorConfig()
	scfg.Sink = sink
	scfg.Logger = o.logger
	scfg.Callbacks = o.metrics.Callbacks(o.callbacks(sink))
	o.supervisor = supervisor.New(scfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := o.watchSignals(cancel, o.supervisor)
	defer stopSignals()

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.registry, o.logger)
		if err := o.metricsServer.Start(); err != nil {
			o.logger.Error("metrics_server_failed", "error", err)
			fmt.Fprintf(o.stderr, "Error: %v\n", err)
			return ExitUsage
		}
		defer o.shutdownMetrics()
	}
	o.metrics.Register(cfg.Processes)

	var program *tea.Program
	var tuiDone sync.WaitGroup
	if cfg.TUI {
		program = o.startTUI(cancel, &tuiDone)
	}

	o.logger.Info("starting",
		"version", o.version,
		"processes", len(cfg.Processes),
		"policy", cfg.Policy,
		"start_mode", cfg.StartMode,
		"metrics_addr", cfg.MetricsAddr,
	)

	outcome, err := o.supervisor.Run(ctx, cfg.Processes)

	if program != nil {
		tui.SendQuit(program)
		tuiDone.Wait()
	}

	if outcome == nil {
		o.logger.Error("run_rejected", "error", err)
		fmt.Fprintf(o.stderr, "Error: %v\n", err)
		return ExitUsage
	}
	o.outcome = outcome

	code := supervisor.ExitCode(err)
	o.logger.Info("run_finished",
		"success", outcome.Success(),
		"cancelled", outcome.Cancelled(),
		"exit_code", code,
		"duration", outcome.Duration.String(),
	)

	if cfg.PrintSummary {
		o.printSummary(outcome)
	}

	return code
}

// runPreflight returns ok=false with the exit code to use when a check
// fails. A missing executable maps to the same code as a spawn failure.
func (o *Orchestrator) runPreflight() (int, bool) {
	result := preflight.RunAll(o.config.Processes)
	if result.Passed {
		o.logger.Debug("preflight_passed", "checks", len(result.Checks))
		if o.config.Verbose {
			preflight.PrintResults(o.stderr, result)
		}
		return 0, true
	}

	preflight.PrintResults(o.stderr, result)
	fmt.Fprintln(o.stderr, "preflight checks failed (use --preflight=false to override)")

	code := ExitUsage
	for _, c := range result.Failed() {
		o.logger.Error("preflight_failed", "check", c.Name, "kind", c.Kind, "message", c.Message)
		if c.Kind == "command" {
			code = ExitNotExecutable
		}
	}
	return code, false
}

// watchSignals cancels the run on the first SIGINT or SIGTERM. Any further
// signal SIGKILLs every process group still running, so Run returns without
// waiting out the grace period and no child is left behind.
func (o *Orchestrator) watchSignals(cancel context.CancelFunc, sup *supervisor.Supervisor) func() {
	sigCh := make(chan os.Signal, 1)
	o.notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case sig := <-sigCh:
				received++
				if received == 1 {
					o.logger.Info("received_signal", "signal", sig.String(), "running", sup.ActiveCount())
					o.notice("interrupted, stopping processes")
					cancel()
					continue
				}
				o.notice("interrupted again, killing processes")
				killed := sup.KillAll()
				o.logger.Warn("received_second_signal", "signal", sig.String(), "killed", killed)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.stopNotify(sigCh)
			close(done)
		})
	}
}

// notice prints a one-line message to stderr unless the dashboard owns the
// terminal.
func (o *Orchestrator) notice(msg string) {
	if !o.config.TUI {
		fmt.Fprintln(o.stderr, msg)
	}
}

// buildSink picks the child output sink. The dashboard owns the terminal,
// so output is only captured while it runs.
func (o *Orchestrator) buildSink() (output.Sink, error) {
	kind := o.config.Sink
	if o.config.TUI {
		kind = logging.SinkNone
	}
	return logging.NewSink(kind, o.stdout, o.logger, o.config.Names())
}

// callbacks echoes "$ command" into the console output as each process
// starts, the way a shell script would.
func (o *Orchestrator) callbacks(sink output.Sink) supervisor.Callbacks {
	console, ok := sink.(*logging.ConsoleSink)
	if !ok {
		return supervisor.Callbacks{}
	}

	lines := make(map[string]string, len(o.config.Processes))
	for _, p := range o.config.Processes {
		lines[p.Name] = p.CommandLine()
	}
	return supervisor.Callbacks{
		OnStart: func(name string, _ int) {
			console.Echo(name, lines[name])
		},
	}
}

func (o *Orchestrator) startTUI(cancel context.CancelFunc, done *sync.WaitGroup) *tea.Program {
	model := tui.New(tui.Config{
		RunID:       o.runID,
		Policy:      o.config.Policy,
		MetricsAddr: o.config.MetricsAddr,
		Source:      o.supervisor,
		OnStop:      cancel,
		OnKill: func() {
			killed := o.supervisor.KillAll()
			o.logger.Warn("dashboard_force_stop", "killed", killed)
		},
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	done.Add(1)
	go func() {
		defer done.Done()
		if _, err := program.Run(); err != nil {
			o.logger.Error("tui_failed", "error", err)
		}
	}()
	return program
}

func (o *Orchestrator) printSummary(outcome *supervisor.Outcome) {
	streamed := o.config.Sink == logging.SinkConsole && !o.config.TUI
	fmt.Fprint(o.stderr, stats.FormatSummary(outcome, stats.SummaryConfig{
		RunID:       o.runID,
		MetricsAddr: o.metricsAddr(),
		PeakActive:  o.metrics.PeakActive(),
		ShowOutput:  !streamed,
		OutputLines: summaryOutputLines,
	}))
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

func (o *Orchestrator) shutdownMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// RunID returns the identifier attached to this run's logs and metrics.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Outcome returns the result of the last Run, or nil before it finished.
func (o *Orchestrator) Outcome() *supervisor.Outcome {
	return o.outcome
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Gatherer exposes the run's metric registry.
func (o *Orchestrator) Gatherer() prometheus.Gatherer {
	return o.registry
}
