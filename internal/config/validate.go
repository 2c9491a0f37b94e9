package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/randomizedcoder/devrunner/internal/logging"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem found joined together.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := supervisor.ParsePolicy(cfg.Policy); err != nil {
		add("policy", "must be one of: wait-all, fail-fast (got %q)", cfg.Policy)
	}
	if _, err := supervisor.ParseStartMode(cfg.StartMode); err != nil {
		add("start", "must be one of: concurrent, sequential (got %q)", cfg.StartMode)
	}

	if cfg.GracePeriod < 0 {
		add("grace_period", "must not be negative")
	}
	if cfg.KillTimeout <= 0 {
		add("kill_timeout", "must be positive")
	}
	if cfg.MaxProcesses < 1 {
		add("max_processes", "must be at least 1")
	}
	if cfg.CaptureBytes < 0 {
		add("capture_bytes", "must not be negative")
	}
	if cfg.SinkBuffer < 0 {
		add("sink_buffer", "must not be negative")
	}

	if !slices.Contains(logging.SinkKinds, cfg.Sink) {
		add("sink", "must be one of: %s (got %q)", strings.Join(logging.SinkKinds, ", "), cfg.Sink)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	if !slices.Contains(logLevels, strings.ToLower(cfg.LogLevel)) {
		add("log_level", "must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if err := supervisor.ValidateSpecs(cfg.Processes, cfg.MaxProcesses); err != nil {
		for _, e := range unjoin(err) {
			add("processes", "%v", e)
		}
	}

	return errors.Join(errs...)
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
