package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/randomizedcoder/devrunner/internal/logging"
)

// Flag categories, used by the run command's usage output.
var flagCategories = []struct {
	title string
	names []string
}{
	{"Processes", []string{"file", "cmd", "watch-cmd"}},
	{"Supervision", []string{"policy", "start", "grace-period", "kill-timeout", "max-processes"}},
	{"Output", []string{"sink", "capture-bytes", "sink-buffer"}},
	{"Observability", []string{"log-format", "log-level", "verbose", "metrics", "tui"}},
	{"Diagnostics", []string{"preflight", "summary"}},
}

// BindFlags registers every run option on fs, backed by cfg. Defaults come
// from the current values in cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.File, "file", "f", cfg.File,
		"Process file (YAML); defaults to ./"+DefaultFile+" when no --cmd is given")
	fs.StringArrayVar(&cfg.Commands, "cmd", cfg.Commands,
		`One-shot command, optionally named: --cmd "lint=golangci-lint run" (repeatable)`)
	fs.StringArrayVar(&cfg.WatchCommands, "watch-cmd", cfg.WatchCommands,
		`Long-running command that must not exit, e.g. --watch-cmd "air" (repeatable)`)

	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "Failure policy: wait-all, fail-fast")
	fs.StringVar(&cfg.StartMode, "start", cfg.StartMode, "Start mode: concurrent, sequential")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod,
		"Time between SIGTERM and SIGKILL when stopping a process")
	fs.DurationVar(&cfg.KillTimeout, "kill-timeout", cfg.KillTimeout,
		"Time to wait for a process to disappear after SIGKILL")
	fs.IntVar(&cfg.MaxProcesses, "max-processes", cfg.MaxProcesses, "Maximum number of processes in one run")

	fs.StringVar(&cfg.Sink, "sink", cfg.Sink,
		"Live output destination: "+strings.Join(logging.SinkKinds, ", "))
	fs.IntVar(&cfg.CaptureBytes, "capture-bytes", cfg.CaptureBytes,
		"Bytes of stdout and stderr kept per process for the final report")
	fs.IntVar(&cfg.SinkBuffer, "sink-buffer", cfg.SinkBuffer,
		"Lines queued per process before live output is dropped")

	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json, text")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging (same as --log-level debug)")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr,
		"Prometheus metrics address, e.g. 127.0.0.1:17091 (empty disables)")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show a live dashboard instead of streaming output")

	fs.BoolVar(&cfg.Preflight, "preflight", cfg.Preflight, "Check executables and directories before starting")
	fs.BoolVar(&cfg.PrintSummary, "summary", cfg.PrintSummary, "Print a summary when the run ends")
}

// FlagUsages renders the flags in fs grouped by category. Flags that are not
// part of any category are listed last.
func FlagUsages(fs *pflag.FlagSet) string {
	var b strings.Builder
	listed := make(map[string]bool)

	for _, cat := range flagCategories {
		group := pflag.NewFlagSet(cat.title, pflag.ContinueOnError)
		for _, name := range cat.names {
			if f := fs.Lookup(name); f != nil {
				group.AddFlag(f)
				listed[name] = true
			}
		}
		if !group.HasFlags() {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n", cat.title, group.FlagUsages())
	}

	rest := pflag.NewFlagSet("other", pflag.ContinueOnError)
	fs.VisitAll(func(f *pflag.Flag) {
		if !listed[f.Name] {
			rest.AddFlag(f)
		}
	})
	if rest.HasFlags() {
		fmt.Fprintf(&b, "Other:\n%s\n", rest.FlagUsages())
	}
	return b.String()
}
