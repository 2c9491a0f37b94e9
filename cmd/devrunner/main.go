// Package main provides the devrunner CLI entry point.
//
// devrunner launches a fixed set of development processes (build steps and
// long-running watchers) together, streams their output, and stops all of
// them cleanly when one fails or on Ctrl-C.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/devrunner
var version = "dev"

// exitUsage is returned for bad flags, invalid configuration and unreadable
// process files.
const exitUsage = 2

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a process exit code out of a command. Its message, if
// any, has already been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return execute(root, stderr)
}

func execute(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "devrunner",
		Short: "Run development processes together and stop them together",
		Long: `devrunner starts a set of processes (one-shot build steps and long-running
watchers), streams their output with a per-process prefix, and tears every
one of them down when one fails or when interrupted.

Processes come from a YAML file (./devrunner.yaml by default) or from
repeated --cmd / --watch-cmd flags.`,
		Version: version,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("devrunner {{.Version}}\n")
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newPrintCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())

	return root
}
