// Package metrics provides Prometheus metrics for devrunner.
//
// The collector is fed from supervisor callbacks. Per-process series are
// labelled by process name; a run has at most a few dozen processes so the
// label cardinality stays small.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/devrunner/internal/process"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// Metric names, shared with the status scraper.
const (
	namespace = "devrunner"

	metricInfo           = "devrunner_info"
	metricProcessState   = "devrunner_process_state"
	metricProcessPID     = "devrunner_process_pid"
	metricProcessExit    = "devrunner_process_exit_code"
	metricProcessStarted = "devrunner_process_start_time_seconds"
)

// Collector manages all Prometheus metrics for one supervisor.
type Collector struct {
	info            *prometheus.GaugeVec
	processes       prometheus.Gauge
	active          prometheus.Gauge
	starts          prometheus.Counter
	exits           *prometheus.CounterVec
	spawnFailures   prometheus.Counter
	forcedKills     prometheus.Counter
	linesDropped    *prometheus.CounterVec
	processDuration prometheus.Histogram

	state     *prometheus.GaugeVec
	pid       *prometheus.GaugeVec
	exitCode  *prometheus.GaugeVec
	startTime *prometheus.GaugeVec

	mu         sync.Mutex
	kinds      map[string]string
	activeNow  int
	peakActive int
	totalStart int64
	exitCodes  map[int]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version   string
	RunID     string
	Policy    string
	StartMode string
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricInfo,
			Help: "Information about the run (value always 1)",
		}, []string{"version", "run_id", "policy", "start_mode"}),

		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Number of processes in the run",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_processes",
			Help:      "Currently running processes",
		}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Processes successfully spawned",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Process exits by category (success, error, signal, killed)",
		}, []string{"category"}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_failures_total",
			Help:      "Processes that could not be started",
		}),
		forcedKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_kills_total",
			Help:      "Processes that needed SIGKILL after the grace period",
		}),
		linesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_dropped_total",
			Help:      "Output lines not forwarded to the live sink",
		}, []string{"process"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Process run time from spawn to exit",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricProcessState,
			Help: "Process state (0 pending, 1 running, 2 exited, 3 killed, 4 spawn_failed, 5 cancelled)",
		}, []string{"process", "kind"}),
		pid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricProcessPID,
			Help: "Process ID of the running process",
		}, []string{"process"}),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricProcessExit,
			Help: "Exit code of the finished process (-1 if it never exited)",
		}, []string{"process"}),
		startTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricProcessStarted,
			Help: "Unix time the process was spawned",
		}, []string{"process"}),

		kinds:     make(map[string]string),
		exitCodes: make(map[int]int64),
	}

	c.info.WithLabelValues(cfg.Version, cfg.RunID, cfg.Policy, cfg.StartMode).Set(1)

	registry.MustRegister(
		c.info,
		c.processes,
		c.active,
		c.starts,
		c.exits,
		c.spawnFailures,
		c.forcedKills,
		c.linesDropped,
		c.processDuration,
		c.state,
		c.pid,
		c.exitCode,
		c.startTime,
	)
	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// Register declares the processes of a run. Every process starts as pending.
func (c *Collector) Register(specs []process.Spec) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.processes.Set(float64(len(specs)))
	for _, spec := range specs {
		c.kinds[spec.Name] = spec.Kind()
		c.state.WithLabelValues(spec.Name, spec.Kind()).Set(float64(supervisor.StatePending))
	}
}

// SetState records a state transition.
func (c *Collector) SetState(name string, from, to supervisor.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind := c.kinds[name]
	if kind == "" {
		kind = "oneshot"
		c.kinds[name] = kind
	}
	c.state.WithLabelValues(name, kind).Set(float64(to))

	switch {
	case to == supervisor.StateRunning && from != supervisor.StateRunning:
		c.activeNow++
	case from == supervisor.StateRunning && to != supervisor.StateRunning:
		c.activeNow--
	}
	c.active.Set(float64(c.activeNow))
	if c.activeNow > c.peakActive {
		c.peakActive = c.activeNow
	}
}

// ProcessStarted records a successful spawn.
func (c *Collector) ProcessStarted(name string, pid int) {
	c.starts.Inc()
	c.pid.WithLabelValues(name).Set(float64(pid))
	c.startTime.WithLabelValues(name).Set(float64(time.Now().UnixNano()) / 1e9)

	c.mu.Lock()
	c.totalStart++
	c.mu.Unlock()
}

// RecordExit records the final result of a process.
func (c *Collector) RecordExit(res supervisor.Result) {
	c.exitCode.WithLabelValues(res.Name).Set(float64(res.ExitCode))

	if res.LinesDropped > 0 {
		c.linesDropped.WithLabelValues(res.Name).Add(float64(res.LinesDropped))
	}
	if res.ForceKilled {
		c.forcedKills.Inc()
	}

	switch res.State {
	case supervisor.StateSpawnFailed:
		c.spawnFailures.Inc()
		return
	case supervisor.StateCancelled:
		return
	}

	c.exits.WithLabelValues(exitCategory(res)).Inc()
	c.processDuration.Observe(res.Duration.Seconds())

	c.mu.Lock()
	c.exitCodes[res.ExitCode]++
	c.mu.Unlock()
}

// exitCategory mirrors the exit code labels used in the summary.
func exitCategory(res supervisor.Result) string {
	switch {
	case res.State == supervisor.StateKilled:
		return "killed"
	case res.ExitCode == 0:
		return "success"
	case res.Signaled || res.ExitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// Callbacks returns supervisor callbacks that feed this collector. next is
// invoked after the collector for every event; its fields may be nil.
func (c *Collector) Callbacks(next supervisor.Callbacks) supervisor.Callbacks {
	return supervisor.Callbacks{
		OnStateChange: func(name string, from, to supervisor.State) {
			c.SetState(name, from, to)
			if next.OnStateChange != nil {
				next.OnStateChange(name, from, to)
			}
		},
		OnStart: func(name string, pid int) {
			c.ProcessStarted(name, pid)
			if next.OnStart != nil {
				next.OnStart(name, pid)
			}
		},
		OnExit: func(res supervisor.Result) {
			c.RecordExit(res)
			if next.OnExit != nil {
				next.OnExit(res)
			}
		},
	}
}

// =============================================================================
// Accessors
// =============================================================================

// PeakActive returns the highest number of simultaneously running processes.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// TotalStarts returns the number of successful spawns.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStart
}

// ExitCodes returns a copy of the exit code histogram.
func (c *Collector) ExitCodes() map[int]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int64, len(c.exitCodes))
	for code, n := range c.exitCodes {
		out[code] = n
	}
	return out
}
