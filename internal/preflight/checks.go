// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/devrunner/internal/process"
)

// Note: the process limit is read from /proc/self/limits because
// RLIMIT_NPROC is not portable across unix systems.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Kind     string // command, directory, file_descriptors, process_limit
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Failed returns the checks that did not pass.
func (r *Result) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for the given processes.
func RunAll(specs []process.Spec) *Result {
	result := &Result{
		Checks: make([]Check, 0, 2*len(specs)+2),
		Passed: true,
	}

	for _, spec := range specs {
		if spec.Dir != "" {
			result.add(checkDirectory(spec))
		}
		result.add(checkCommand(spec))
	}

	result.add(checkFileDescriptors(len(specs)))
	result.add(checkProcessLimit(len(specs)))

	return result
}

// checkDirectory verifies the working directory exists.
func checkDirectory(spec process.Spec) Check {
	c := Check{Name: spec.Name + " dir", Kind: "directory"}

	info, err := os.Stat(spec.Dir)
	switch {
	case err != nil:
		c.Message = fmt.Sprintf("%s: %v", spec.Dir, err)
	case !info.IsDir():
		c.Message = fmt.Sprintf("%s is not a directory", spec.Dir)
	default:
		c.Passed = true
		c.Message = spec.Dir
	}
	return c
}

// checkCommand verifies the executable can be found. A path containing a
// separator is resolved against the process directory, the same way the
// child will see it.
func checkCommand(spec process.Spec) Check {
	c := Check{Name: spec.Name, Kind: "command"}

	path, err := resolveExecutable(spec)
	if err != nil {
		c.Message = fmt.Sprintf("%s not found: %v", spec.Executable, err)
		return c
	}

	c.Passed = true
	c.Message = "found at " + path
	return c
}

func resolveExecutable(spec process.Spec) (string, error) {
	exe := spec.Executable
	if !strings.ContainsRune(exe, filepath.Separator) && !strings.ContainsRune(exe, '/') {
		return exec.LookPath(exe)
	}

	if !filepath.IsAbs(exe) && spec.Dir != "" {
		exe = filepath.Join(spec.Dir, exe)
	}
	info, err := os.Stat(exe)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", exe)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s is not executable", exe)
	}
	return exe, nil
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(processes int) Check {
	// Each child needs two pipe ends for stdout and stderr, plus
	// supervisor overhead (metrics server, logging, etc.)
	required := processes*4 + 64

	actual, ok := openFileLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Kind:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check on this platform",
		}
	}

	return Check{
		Name:     "file_descriptors",
		Kind:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d processes)", actual, required, processes),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(processes int) Check {
	return processLimitFrom("/proc/self/limits", processes)
}

func processLimitFrom(path string, processes int) Check {
	// Children may fork helpers (air runs go build, tailwind runs node)
	required := processes*4 + 50

	data, err := os.ReadFile(path)
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Kind:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	// Parse "Max processes" line
	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Kind:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Kind:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Kind))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(kind string) string {
	switch kind {
	case "command":
		return "install the tool or add its directory to PATH"
	case "directory":
		return "create the directory or fix 'dir' in the process file"
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
