package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/devrunner/internal/config"
	"github.com/randomizedcoder/devrunner/internal/logging"
	"github.com/randomizedcoder/devrunner/internal/metrics"
	"github.com/randomizedcoder/devrunner/internal/orchestrator"
	"github.com/randomizedcoder/devrunner/internal/preflight"
	"github.com/randomizedcoder/devrunner/internal/stats"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// =============================================================================
// Shared
// =============================================================================

// processCommand creates a command that takes the full set of run flags.
func processCommand(use, short string, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
	}
	config.BindFlags(cmd.Flags(), cfg)
	cmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Fprintf(c.OutOrStderr(), "Usage:\n  %s\n\n%s", c.UseLine(), config.FlagUsages(c.Flags()))
		return nil
	})
	return cmd
}

// loadConfig resolves the process file and ad-hoc commands into cfg and
// validates the result.
func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	stderr := cmd.ErrOrStderr()

	if err := config.Load(cfg, cmd.Flags().Changed); err != nil {
		fmt.Fprintf(stderr, "Error loading processes: %v\n", err)
		return &exitError{code: exitUsage}
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "Configuration error:\n%v\n", err)
		return &exitError{code: exitUsage}
	}
	return nil
}

// =============================================================================
// run
// =============================================================================

func newRunCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	cmd := processCommand("run", "Start every process and supervise them until done", cfg)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(cmd, cfg); err != nil {
			return err
		}

		// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
		var logger *slog.Logger
		if cfg.TUI {
			logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
		} else {
			logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
		}
		logging.SetDefault(logger)

		orch := orchestrator.New(cfg, logger, version)
		orch.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())

		if code := orch.Run(cmd.Context()); code != 0 {
			return &exitError{code: code}
		}
		return nil
	}
	return cmd
}

// =============================================================================
// check
// =============================================================================

func newCheckCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	cmd := processCommand("check", "Run preflight checks for the configured processes", cfg)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(cmd, cfg); err != nil {
			return err
		}

		result := preflight.RunAll(cfg.Processes)
		preflight.PrintResults(cmd.OutOrStdout(), result)
		if !result.Passed {
			return &exitError{code: 1}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
		return nil
	}
	return cmd
}

// =============================================================================
// print
// =============================================================================

func newPrintCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	cmd := processCommand("print", "Print the resolved command of every process and exit", cfg)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(cmd, cfg); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s policy, %s start\n", cfg.Policy, cfg.StartMode)
		for _, p := range cfg.Processes {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "# %s (%s)\n", p.Name, p.Kind())
			if p.Dir != "" {
				fmt.Fprintf(w, "#   dir: %s\n", p.Dir)
			}
			keys := make([]string, 0, len(p.Env))
			for k := range p.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "#   env: %s=%s\n", k, p.Env[k])
			}
			fmt.Fprintf(w, "$ %s\n", p.CommandLine())
		}
		return nil
	}
	return cmd
}

// =============================================================================
// status
// =============================================================================

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process states of a running devrunner via its metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snap, err := metrics.Scrape(ctx, &http.Client{Timeout: timeout}, metrics.MetricsURL(addr))
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return &exitError{code: 1}
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Metrics address of the running devrunner (host:port or URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Scrape timeout")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

func printSnapshot(w io.Writer, snap *metrics.Snapshot) {
	fmt.Fprintf(w, "Run ID:     %s\n", snap.RunID)
	fmt.Fprintf(w, "Version:    %s\n", snap.Version)
	fmt.Fprintf(w, "Policy:     %s (%s start)\n", snap.Policy, snap.StartMode)
	fmt.Fprintf(w, "Running:    %d/%d\n", snap.Active, len(snap.Processes))
	fmt.Fprintln(w)

	nameW := len("PROCESS")
	for _, p := range snap.Processes {
		nameW = max(nameW, len(p.Name))
	}

	fmt.Fprintf(w, "%-*s  %-7s  %-12s  %7s  %4s  %s\n", nameW, "PROCESS", "KIND", "STATE", "PID", "EXIT", "UPTIME")
	fmt.Fprintln(w, strings.Repeat("-", nameW+50))
	for _, p := range snap.Processes {
		pid, exit, uptime := "-", "-", "-"
		if p.PID > 0 {
			pid = fmt.Sprintf("%d", p.PID)
		}
		if p.State.IsTerminal() && p.ExitCode >= 0 {
			exit = fmt.Sprintf("%d", p.ExitCode)
		}
		if p.State == supervisor.StateRunning && !p.StartedAt.IsZero() {
			uptime = stats.FormatDuration(time.Since(p.StartedAt))
		}
		fmt.Fprintf(w, "%-*s  %-7s  %-12s  %7s  %4s  %s\n", nameW, p.Name, p.Kind, p.State, pid, exit, uptime)
	}
}

// =============================================================================
// version
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devrunner version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devrunner %s\n", version)
		},
	}
}
