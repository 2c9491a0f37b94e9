// Package config provides configuration management for devrunner.
package config

import (
	"time"

	"github.com/randomizedcoder/devrunner/internal/output"
	"github.com/randomizedcoder/devrunner/internal/process"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// DefaultFile is loaded from the current directory when neither a file nor
// ad-hoc commands are given.
const DefaultFile = "devrunner.yaml"

// Config holds all configuration options for a run.
type Config struct {
	// Process sources
	File          string   `json:"file"`
	Commands      []string `json:"commands"`
	WatchCommands []string `json:"watch_commands"`

	// Processes is filled by Load from File, Commands and WatchCommands.
	Processes []process.Spec `json:"processes"`

	// Supervision
	Policy       string        `json:"policy"` // wait-all, fail-fast
	StartMode    string        `json:"start"`  // concurrent, sequential
	GracePeriod  time.Duration `json:"grace_period"`
	KillTimeout  time.Duration `json:"kill_timeout"`
	MaxProcesses int           `json:"max_processes"`

	// Output
	CaptureBytes int    `json:"capture_bytes"`
	SinkBuffer   int    `json:"sink_buffer"`
	Sink         string `json:"sink"` // console, log, none

	// Observability
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`
	Verbose     bool   `json:"verbose"`
	MetricsAddr string `json:"metrics_addr"`
	TUI         bool   `json:"tui"`

	// Diagnostics
	Preflight    bool `json:"preflight"`
	PrintSummary bool `json:"print_summary"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy:       "fail-fast",
		StartMode:    "concurrent",
		GracePeriod:  supervisor.DefaultGracePeriod,
		KillTimeout:  supervisor.DefaultKillTimeout,
		MaxProcesses: supervisor.DefaultMaxProcesses,

		CaptureBytes: output.DefaultCaptureBytes,
		SinkBuffer:   output.DefaultBufferSize,
		Sink:         "console",

		LogFormat: "json",
		LogLevel:  "info",

		Preflight:    true,
		PrintSummary: true,
	}
}

// SupervisorConfig converts the run options into a supervisor.Config. The
// caller fills in Sink, Logger and Callbacks. Policy and start mode must
// already have passed Validate.
func (c *Config) SupervisorConfig() supervisor.Config {
	policy, _ := supervisor.ParsePolicy(c.Policy)
	mode, _ := supervisor.ParseStartMode(c.StartMode)
	return supervisor.Config{
		Policy:         policy,
		StartMode:      mode,
		GracePeriod:    c.GracePeriod,
		KillTimeout:    c.KillTimeout,
		CaptureBytes:   c.CaptureBytes,
		SinkBufferSize: c.SinkBuffer,
		MaxProcesses:   c.MaxProcesses,
	}
}

// Names returns the process names in order.
func (c *Config) Names() []string {
	names := make([]string, len(c.Processes))
	for i, p := range c.Processes {
		names[i] = p.Name
	}
	return names
}
