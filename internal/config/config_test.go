package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/randomizedcoder/devrunner/internal/process"
	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Processes = []process.Spec{
		{Name: "css", Executable: "tailwindcss", Watch: true},
		{Name: "air", Executable: "air", Watch: true},
	}
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// =============================================================================
// Defaults and flags
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Policy != "fail-fast" {
		t.Errorf("Policy = %q, want fail-fast", cfg.Policy)
	}
	if cfg.StartMode != "concurrent" {
		t.Errorf("StartMode = %q, want concurrent", cfg.StartMode)
	}
	if cfg.GracePeriod != supervisor.DefaultGracePeriod {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if cfg.KillTimeout != supervisor.DefaultKillTimeout {
		t.Errorf("KillTimeout = %v", cfg.KillTimeout)
	}
	if cfg.Sink != "console" {
		t.Errorf("Sink = %q, want console", cfg.Sink)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if !cfg.Preflight || !cfg.PrintSummary {
		t.Error("Preflight and PrintSummary should default to true")
	}
}

func TestBindFlags(t *testing.T) {
	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	BindFlags(fs, cfg)

	err := fs.Parse([]string{
		"--cmd", "make build",
		"--cmd", "lint=golangci-lint run",
		"--watch-cmd", "air",
		"--policy", "wait-all",
		"--start", "sequential",
		"--grace-period", "2s",
		"-v",
		"--sink", "log",
		"--preflight=false",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Commands) != 2 || cfg.Commands[1] != "lint=golangci-lint run" {
		t.Errorf("Commands = %q", cfg.Commands)
	}
	if len(cfg.WatchCommands) != 1 || cfg.WatchCommands[0] != "air" {
		t.Errorf("WatchCommands = %q", cfg.WatchCommands)
	}
	if cfg.Policy != "wait-all" || cfg.StartMode != "sequential" {
		t.Errorf("Policy/StartMode = %q/%q", cfg.Policy, cfg.StartMode)
	}
	if cfg.GracePeriod != 2*time.Second {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if !cfg.Verbose || cfg.Sink != "log" || cfg.Preflight {
		t.Errorf("Verbose=%v Sink=%q Preflight=%v", cfg.Verbose, cfg.Sink, cfg.Preflight)
	}
	if !fs.Changed("policy") || fs.Changed("kill-timeout") {
		t.Error("Changed() does not reflect the parsed flags")
	}
}

func TestFlagUsages(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	BindFlags(fs, DefaultConfig())
	fs.Bool("extra", false, "not categorised")

	usage := FlagUsages(fs)
	for _, want := range []string{"Processes:", "Supervision:", "--watch-cmd", "--grace-period", "Other:", "--extra"} {
		if !strings.Contains(usage, want) {
			t.Errorf("usage missing %q:\n%s", want, usage)
		}
	}
	if strings.Index(usage, "Processes:") > strings.Index(usage, "Diagnostics:") {
		t.Error("categories out of order")
	}
}

func TestSupervisorConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Policy = "wait-all"
	cfg.StartMode = "sequential"
	cfg.GracePeriod = time.Second

	sc := cfg.SupervisorConfig()
	if sc.Policy != supervisor.PolicyWaitAll || sc.StartMode != supervisor.StartSequential {
		t.Errorf("Policy/StartMode = %s/%s", sc.Policy, sc.StartMode)
	}
	if sc.GracePeriod != time.Second || sc.KillTimeout != cfg.KillTimeout {
		t.Errorf("GracePeriod/KillTimeout = %v/%v", sc.GracePeriod, sc.KillTimeout)
	}
	if sc.MaxProcesses != cfg.MaxProcesses || sc.CaptureBytes != cfg.CaptureBytes {
		t.Error("limits not copied")
	}
	if got := cfg.Names(); len(got) != 2 || got[0] != "css" || got[1] != "air" {
		t.Errorf("Names() = %v", got)
	}
}

// =============================================================================
// Ad-hoc commands
// =============================================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantExe  string
		wantArgs []string
		wantErr  bool
	}{
		{"make build", "make", "make", []string{"build"}, false},
		{"  air  ", "air", "air", nil, false},
		{"./bin/server -port 8080", "server", "./bin/server", []string{"-port", "8080"}, false},
		{"lint=golangci-lint run ./...", "lint", "golangci-lint", []string{"run", "./..."}, false},
		{"css=tailwindcss --watch", "css", "tailwindcss", []string{"--watch"}, false},
		{"", "", "", nil, true},
		{"   ", "", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := ParseCommand(tt.in, false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) error = %v", tt.in, err)
			}
			if tt.wantErr {
				return
			}
			if spec.Name != tt.wantName || spec.Executable != tt.wantExe {
				t.Errorf("got name=%q exe=%q, want %q %q", spec.Name, spec.Executable, tt.wantName, tt.wantExe)
			}
			if strings.Join(spec.Args, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("Args = %q, want %q", spec.Args, tt.wantArgs)
			}
		})
	}
}

func TestParseCommands_UniqueNames(t *testing.T) {
	existing := []process.Spec{{Name: "make", Executable: "make"}}
	specs, err := ParseCommands(
		[]string{"make build", "make test"},
		[]string{"air", "air -c .air.toml"},
		existing,
	)
	if err != nil {
		t.Fatalf("ParseCommands: %v", err)
	}

	want := []struct {
		name  string
		watch bool
	}{
		{"make-2", false},
		{"make-3", false},
		{"air", true},
		{"air-2", true},
	}
	if len(specs) != len(want) {
		t.Fatalf("got %d specs, want %d", len(specs), len(want))
	}
	for i, w := range want {
		if specs[i].Name != w.name || specs[i].Watch != w.watch {
			t.Errorf("specs[%d] = %s watch=%v, want %s watch=%v", i, specs[i].Name, specs[i].Watch, w.name, w.watch)
		}
	}
}

func TestParseCommands_ExplicitDuplicateIsKept(t *testing.T) {
	specs, err := ParseCommands([]string{"x=echo a", "x=echo b"}, nil, nil)
	if err != nil {
		t.Fatalf("ParseCommands: %v", err)
	}
	if specs[0].Name != "x" || specs[1].Name != "x" {
		t.Fatalf("names = %s, %s", specs[0].Name, specs[1].Name)
	}

	cfg := DefaultConfig()
	cfg.Processes = specs
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Validate() = %v, want duplicate name error", err)
	}
}

func TestParseCommands_Empty(t *testing.T) {
	_, err := ParseCommands(nil, []string{" "}, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "--watch-cmd") {
		t.Errorf("error = %v, want --watch-cmd error", err)
	}
}

// =============================================================================
// Process file
// =============================================================================

const sampleFile = `
policy: wait-all
start: sequential
gracePeriod: 3s
killTimeout: 1s
workdir: app
processes:
  - name: css
    command: tailwindcss
    args: [-i, templates/css/globals.css, -o, static/css/style.css, --watch]
    watch: true
  - name: air
    command: air
    dir: cmd/web
    env: {GOFLAGS: -mod=mod, HOME_COPY: "${DEVRUNNER_TEST_HOME}"}
    watch: true
  - name: migrate
    command: ${DEVRUNNER_TEST_BIN}/migrate
    dir: /tmp
`

func TestLoadFile(t *testing.T) {
	t.Setenv("DEVRUNNER_TEST_HOME", "/home/dev")
	t.Setenv("DEVRUNNER_TEST_BIN", "/opt/bin")
	dir := t.TempDir()
	path := writeFile(t, dir, "devrunner.yaml", sampleFile)

	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if doc.Policy != "wait-all" || doc.Start != "sequential" {
		t.Errorf("Policy/Start = %q/%q", doc.Policy, doc.Start)
	}
	if doc.GracePeriod != 3*time.Second || doc.KillTimeout != time.Second {
		t.Errorf("GracePeriod/KillTimeout = %v/%v", doc.GracePeriod, doc.KillTimeout)
	}

	workdir := filepath.Join(dir, "app")
	if doc.Workdir != workdir {
		t.Errorf("Workdir = %q, want %q", doc.Workdir, workdir)
	}
	if len(doc.Processes) != 3 {
		t.Fatalf("got %d processes", len(doc.Processes))
	}

	css, air, migrate := doc.Processes[0], doc.Processes[1], doc.Processes[2]
	if !css.Watch || css.Dir != workdir || len(css.Args) != 5 {
		t.Errorf("css = %+v", css)
	}
	if air.Dir != filepath.Join(workdir, "cmd", "web") {
		t.Errorf("air.Dir = %q", air.Dir)
	}
	if air.Env["GOFLAGS"] != "-mod=mod" || air.Env["HOME_COPY"] != "/home/dev" {
		t.Errorf("air.Env = %v", air.Env)
	}
	if migrate.Watch || migrate.Executable != "/opt/bin/migrate" || migrate.Dir != "/tmp" {
		t.Errorf("migrate = %+v", migrate)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{"unknown field", "processes:\n  - name: a\n    command: a\n    restart: always\n", "restart"},
		{"unknown top-level", "services: {}\n", "services"},
		{"bad duration", "gracePeriod: soon\n", "decode"},
		{"empty", "", "empty process file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml", tt.content)
			_, err := LoadFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("LoadFile() error = %v, want containing %q", err, tt.wantSub)
			}
		})
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "devrunner.yaml", sampleFile)

	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	if err := fs.Parse([]string{"-f", path, "--policy", "fail-fast", "--cmd", "echo hi"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if err := Load(cfg, fs.Changed); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Policy != "fail-fast" {
		t.Errorf("Policy = %q, flag should win", cfg.Policy)
	}
	if cfg.StartMode != "sequential" || cfg.GracePeriod != 3*time.Second {
		t.Errorf("StartMode/GracePeriod = %q/%v, file should apply", cfg.StartMode, cfg.GracePeriod)
	}

	names := cfg.Names()
	want := []string{"css", "air", "migrate", "echo"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", names, want)
	}
}

func TestLoad_DefaultFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefaultFile, "processes:\n  - name: hello\n    command: echo\n")
	t.Chdir(dir)

	cfg := DefaultConfig()
	if err := Load(cfg, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File != DefaultFile || len(cfg.Processes) != 1 || cfg.Processes[0].Name != "hello" {
		t.Errorf("File=%q Processes=%+v", cfg.File, cfg.Processes)
	}

	// Ad-hoc commands skip the default file.
	cfg = DefaultConfig()
	cfg.Commands = []string{"true"}
	if err := Load(cfg, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File != "" || len(cfg.Processes) != 1 || cfg.Processes[0].Name != "true" {
		t.Errorf("File=%q Processes=%+v", cfg.File, cfg.Processes)
	}
}

func TestLoad_NothingToRun(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := DefaultConfig()
	if err := Load(cfg, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Processes) != 0 {
		t.Fatalf("Processes = %v", cfg.Processes)
	}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "no processes") {
		t.Errorf("Validate() = %v, want no processes error", err)
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"policy", func(c *Config) { c.Policy = "restart" }},
		{"start", func(c *Config) { c.StartMode = "random" }},
		{"grace_period", func(c *Config) { c.GracePeriod = -time.Second }},
		{"kill_timeout", func(c *Config) { c.KillTimeout = 0 }},
		{"max_processes", func(c *Config) { c.MaxProcesses = 0 }},
		{"capture_bytes", func(c *Config) { c.CaptureBytes = -1 }},
		{"sink_buffer", func(c *Config) { c.SinkBuffer = -1 }},
		{"sink", func(c *Config) { c.Sink = "syslog" }},
		{"log_format", func(c *Config) { c.LogFormat = "xml" }},
		{"log_level", func(c *Config) { c.LogLevel = "trace" }},
		{"processes", func(c *Config) { c.Processes[0].Executable = "" }},
		{"processes", func(c *Config) { c.MaxProcesses = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected an error")
			}
			var ve ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("error = %v, want field %q", err, tt.field)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Policy = "x"
	cfg.LogFormat = "xml"
	cfg.Processes = append(cfg.Processes,
		process.Spec{Name: "", Executable: "a"},
		process.Spec{Name: "css", Executable: "b"},
	)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{"policy:", "log_format:", "process name is required", "duplicate process name: css"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "policy", Message: "must be one of: wait-all, fail-fast"}
	if got := err.Error(); got != "policy: must be one of: wait-all, fail-fast" {
		t.Errorf("Error() = %q", got)
	}
}
