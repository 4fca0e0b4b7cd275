package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[jit]
enabled = true
full-build-threshold = 3
jit-threshold = 10
max-ir-size = 500
workers = 4
queue-size = 16
ledger = "state/failures.db"

[cache]
chain-limit = 2
rebind-on-miss = true

[exclude]
names = ["Point#*"]
files = ["lib/slow.rb"]
lines = ["lib/a.rb:12"]

[debug]
full-trace = true
verbosity = 1
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	opts := c.Options()
	if !opts.JITEnabled {
		t.Error("jit enabled = false, want true")
	}
	if opts.FullBuildThreshold != 3 || opts.JITThreshold != 10 {
		t.Errorf("thresholds = %d/%d, want 3/10", opts.FullBuildThreshold, opts.JITThreshold)
	}
	if opts.MaxIRSize != 500 {
		t.Errorf("max-ir-size = %d, want 500", opts.MaxIRSize)
	}
	if opts.Workers != 4 || opts.QueueSize != 16 {
		t.Errorf("workers/queue = %d/%d, want 4/16", opts.Workers, opts.QueueSize)
	}
	if want := filepath.Join(c.Dir, "state", "failures.db"); opts.LedgerPath != want {
		t.Errorf("ledger = %q, want %q", opts.LedgerPath, want)
	}
	if opts.ChainLimit != 2 || !opts.RebindOnMiss {
		t.Errorf("cache = %d/%v, want 2/true", opts.ChainLimit, opts.RebindOnMiss)
	}
	if len(opts.Exclusions.Names) != 1 || len(opts.Exclusions.Files) != 1 || len(opts.Exclusions.Lines) != 1 {
		t.Errorf("exclusions = %+v", opts.Exclusions)
	}
	if !opts.FullTrace {
		t.Error("full-trace = false, want true")
	}
	if c.Debug.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", c.Debug.Verbosity)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[cache]
chain-limit = 8
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := Default()
	if c.JIT != d.JIT {
		t.Errorf("jit = %+v, want defaults %+v", c.JIT, d.JIT)
	}
	if c.Cache.ChainLimit != 8 {
		t.Errorf("chain-limit = %d, want 8", c.Cache.ChainLimit)
	}
	if c.LedgerPath() != "" {
		t.Errorf("ledger = %q, want disabled", c.LedgerPath())
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without tiervm.toml should fail")
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"unknown section", "[server]\nport = 1\n", 1},
		{"unknown key", "[jit]\nturbo = true\n", 1},
		{"wrong type", "[jit]\nenabled = \"yes\"\n", 1},
		{"out of range", "[jit]\nworkers = 0\n", 1},
		{"two sections", "[jit]\nworkers = 0\n[cache]\nchain-limit = 100\n", 1},
		{"negative threshold", "[jit]\njit-threshold = -1\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "test.toml")
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			var merr *multierror.Error
			if !errors.As(err, &merr) {
				t.Fatalf("err = %T, want a *multierror.Error inside", err)
			}
			if len(merr.Errors) < tt.want {
				t.Errorf("reported %d problems, want at least %d: %v", len(merr.Errors), tt.want, err)
			}
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	c := Default()
	c.JIT.FullBuildThreshold = 0
	c.JIT.JITThreshold = 0
	c.Exclude.Names = []string{"Point#["}
	c.Exclude.Lines = []string{"no-line-number"}

	err := c.Validate()
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Validate = %v, want a *multierror.Error", err)
	}
	if len(merr.Errors) != 3 {
		t.Errorf("reported %d problems, want 3: %v", len(merr.Errors), err)
	}
	if !strings.Contains(err.Error(), "Point#[") {
		t.Errorf("error should name the bad pattern: %v", err)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("[jit\n"), "broken.toml")
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want a parse error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[jit]\nworkers = 3\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if c.JIT.Workers != 3 {
		t.Errorf("workers = %d, want 3", c.JIT.Workers)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c != nil {
		t.Skip("a tiervm.toml exists above the temp directory")
	}
}
