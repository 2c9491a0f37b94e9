package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/devrunner/internal/process"
)

// File is the on-disk process file.
type File struct {
	Policy      string         `yaml:"policy"`
	Start       string         `yaml:"start"`
	GracePeriod time.Duration  `yaml:"gracePeriod"`
	KillTimeout time.Duration  `yaml:"killTimeout"`
	Workdir     string         `yaml:"workdir"`
	Processes   []process.Spec `yaml:"processes"`
}

// LoadFile reads a process file. Unknown fields are rejected. workdir is
// resolved against the file's directory and each process dir against
// workdir; ${VAR} references in commands, args, dirs and env values are
// expanded from the environment.
func LoadFile(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve process file path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open process file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc File
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty process file", absPath)
		}
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	doc.Workdir = resolveDir(filepath.Dir(absPath), os.ExpandEnv(doc.Workdir))
	for i := range doc.Processes {
		p := &doc.Processes[i]
		p.Executable = os.ExpandEnv(p.Executable)
		for j, a := range p.Args {
			p.Args[j] = os.ExpandEnv(a)
		}
		p.Dir = resolveDir(doc.Workdir, os.ExpandEnv(p.Dir))
		for k, v := range p.Env {
			p.Env[k] = os.ExpandEnv(v)
		}
	}
	return &doc, nil
}

func resolveDir(base, dir string) string {
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(base, dir))
}

// Load fills cfg.Processes. Processes from the process file come first,
// followed by --cmd and --watch-cmd entries. Settings in the file apply
// only where the matching flag was not set explicitly; changed reports
// whether a flag was set and may be nil.
//
// When neither a file nor any command is given, DefaultFile in the current
// directory is used if it exists.
func Load(cfg *Config, changed func(name string) bool) error {
	if changed == nil {
		changed = func(string) bool { return false }
	}

	path := cfg.File
	if path == "" && len(cfg.Commands) == 0 && len(cfg.WatchCommands) == 0 {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	var specs []process.Spec
	if path != "" {
		doc, err := LoadFile(path)
		if err != nil {
			return err
		}
		cfg.File = path
		specs = append(specs, doc.Processes...)

		if doc.Policy != "" && !changed("policy") {
			cfg.Policy = doc.Policy
		}
		if doc.Start != "" && !changed("start") {
			cfg.StartMode = doc.Start
		}
		if doc.GracePeriod != 0 && !changed("grace-period") {
			cfg.GracePeriod = doc.GracePeriod
		}
		if doc.KillTimeout != 0 && !changed("kill-timeout") {
			cfg.KillTimeout = doc.KillTimeout
		}
	}

	adHoc, err := ParseCommands(cfg.Commands, cfg.WatchCommands, specs)
	if err != nil {
		return err
	}
	cfg.Processes = append(specs, adHoc...)
	return nil
}
