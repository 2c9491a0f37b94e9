// Package process describes the external commands a supervisor launches and
// builds ready-to-start *exec.Cmd values from them.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Spec describes one child process. A Spec is treated as immutable once it
// has been handed to a supervisor.
type Spec struct {
	// Name uniquely identifies the process within a run.
	Name string `yaml:"name" json:"name"`

	// Executable is resolved through PATH when it contains no separator.
	Executable string `yaml:"command" json:"command"`

	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Dir is the working directory. Empty means the supervisor's own.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Env entries override (or add to) the inherited environment.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Watch marks a long-running process that is never expected to exit
	// on its own.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

var (
	// ErrEmptyName is returned when a Spec has no name.
	ErrEmptyName = errors.New("process name is required")

	// ErrEmptyExecutable is returned when a Spec has no executable.
	ErrEmptyExecutable = errors.New("process command is required")
)

// Validate checks that the spec can be turned into a command.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(s.Executable) == "" {
		return fmt.Errorf("%s: %w", s.Name, ErrEmptyExecutable)
	}
	for k := range s.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			return fmt.Errorf("%s: invalid env key %q", s.Name, k)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate a running spec.
func (s Spec) Clone() Spec {
	out := s
	if s.Args != nil {
		out.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Kind returns "watch" or "oneshot".
func (s Spec) Kind() string {
	if s.Watch {
		return "watch"
	}
	return "oneshot"
}

// CommandLine renders the command the way a shell user would type it.
// Arguments containing whitespace or quotes are single-quoted.
func (s Spec) CommandLine() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, quoteArg(s.Executable))
	for _, a := range s.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(a string) string {
	if a == "" {
		return "''"
	}
	if !strings.ContainsAny(a, " \t\n'\"\\$`") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}

// Environ returns the child environment: the parent's environment with the
// spec's overrides applied in key order. Returns nil when there are no
// overrides so exec inherits the parent environment unchanged.
func (s Spec) Environ() []string {
	if len(s.Env) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	base := os.Environ()
	env := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := s.Env[k]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Command returns a command for the spec that has not been started yet.
// The child is placed in its own process group so the whole tree can be
// signalled on shutdown.
func (s Spec) Command() *exec.Cmd {
	cmd := exec.Command(s.Executable, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Environ()
	configureProcessGroup(cmd)
	return cmd
}
