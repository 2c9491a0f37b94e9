package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/randomizedcoder/devrunner/internal/process"
)

// namedCommand matches "name=command ..." where name is a bare word.
var namedCommand = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.-]*)=(\S.*)$`)

// ParseCommand turns one --cmd value into a Spec. The value is split on
// whitespace; there is no shell quoting. A leading "name=" sets the process
// name, otherwise the executable's base name is used.
func ParseCommand(value string, watch bool) (process.Spec, error) {
	value = strings.TrimSpace(value)
	name := ""
	if m := namedCommand.FindStringSubmatch(value); m != nil {
		name, value = m[1], m[2]
	}

	fields := strings.Fields(value)
	if len(fields) == 0 {
		return process.Spec{}, fmt.Errorf("empty command %q", value)
	}
	if name == "" {
		name = filepath.Base(fields[0])
	}

	spec := process.Spec{
		Name:       name,
		Executable: fields[0],
		Watch:      watch,
	}
	if len(fields) > 1 {
		spec.Args = fields[1:]
	}
	return spec, nil
}

// ParseCommands parses one-shot and watch command values, in that order.
// Derived names that collide with existing or earlier ones get a numeric
// suffix ("make", "make-2"). Explicit names are kept as given so that a
// duplicate is reported by validation.
func ParseCommands(commands, watchCommands []string, existing []process.Spec) ([]process.Spec, error) {
	taken := make(map[string]bool, len(existing))
	for _, s := range existing {
		taken[s.Name] = true
	}

	var specs []process.Spec
	add := func(value string, watch bool) error {
		spec, err := ParseCommand(value, watch)
		if err != nil {
			return err
		}
		if !namedCommand.MatchString(strings.TrimSpace(value)) {
			spec.Name = uniqueName(spec.Name, taken)
		}
		taken[spec.Name] = true
		specs = append(specs, spec)
		return nil
	}

	for _, c := range commands {
		if err := add(c, false); err != nil {
			return nil, fmt.Errorf("--cmd: %w", err)
		}
	}
	for _, c := range watchCommands {
		if err := add(c, true); err != nil {
			return nil, fmt.Errorf("--watch-cmd: %w", err)
		}
	}
	return specs, nil
}

func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
