// Package config handles tiervm.toml runtime configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/chazu/tiervm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "tiervm.toml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

//go:embed schema.cue
var schemaSrc string

// Config represents a tiervm.toml file.
type Config struct {
	JIT     JIT     `toml:"jit"`
	Cache   Cache   `toml:"cache"`
	Exclude Exclude `toml:"exclude"`
	Debug   Debug   `toml:"debug"`

	// Dir is the directory containing the tiervm.toml file (set at load time).
	Dir string `toml:"-"`
}

// JIT configures promotion thresholds and the background compiler.
type JIT struct {
	Enabled            bool   `toml:"enabled"`
	FullBuildThreshold int64  `toml:"full-build-threshold"`
	JITThreshold       int64  `toml:"jit-threshold"`
	MaxIRSize          int    `toml:"max-ir-size"`
	Workers            int    `toml:"workers"`
	QueueSize          int    `toml:"queue-size"`
	Ledger             string `toml:"ledger"`
}

// Cache configures call-site caches.
type Cache struct {
	ChainLimit   int  `toml:"chain-limit"`
	RebindOnMiss bool `toml:"rebind-on-miss"`
}

// Exclude lists units that are never compiled natively.
type Exclude struct {
	Names []string `toml:"names"`
	Files []string `toml:"files"`
	Lines []string `toml:"lines"`
}

// Debug holds diagnostics switches.
type Debug struct {
	FullTrace bool `toml:"full-trace"`
	Verbosity int  `toml:"verbosity"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	opts := vm.DefaultOptions()
	return &Config{
		JIT: JIT{
			Enabled:            opts.JITEnabled,
			FullBuildThreshold: opts.FullBuildThreshold,
			JITThreshold:       opts.JITThreshold,
			MaxIRSize:          opts.MaxIRSize,
			Workers:            opts.Workers,
			QueueSize:          opts.QueueSize,
		},
		Cache: Cache{
			ChainLimit:   opts.ChainLimit,
			RebindOnMiss: opts.RebindOnMiss,
		},
	}
}

// Load parses a tiervm.toml file from the given directory. Keys absent from
// the file keep their default values.
func Load(dir string) (*Config, error) {
	p := filepath.Join(dir, FileName)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", p, err)
	}
	c, err := Parse(data, p)
	if err != nil {
		return nil, err
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a tiervm.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Parse decodes and validates configuration text. name is used in error
// messages only.
func Parse(data []byte, name string) (*Config, error) {
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if err := checkSchema(raw); err != nil {
		return nil, fmt.Errorf("%w in %s: %w", ErrInvalid, name, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w in %s: %w", ErrInvalid, name, err)
	}
	return c, nil
}

// checkSchema unifies the decoded document with the embedded CUE schema.
// Every violation is reported, not just the first.
func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + schemaSrc + "})")
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return err
	}
	err := schema.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var result *multierror.Error
	for _, e := range cueerrors.Errors(err) {
		result = multierror.Append(result, e)
	}
	if result == nil {
		result = multierror.Append(result, err)
	}
	return result
}

// Validate checks constraints the schema cannot express.
func (c *Config) Validate() error {
	var result *multierror.Error
	check := func(section string, patterns []string) {
		for _, p := range patterns {
			if _, err := path.Match(p, ""); err != nil {
				result = multierror.Append(result, fmt.Errorf("exclude.%s: bad pattern %q", section, p))
			}
		}
	}
	check("names", c.Exclude.Names)
	check("files", c.Exclude.Files)
	check("lines", c.Exclude.Lines)
	for _, p := range c.Exclude.Lines {
		if !strings.Contains(p, ":") {
			result = multierror.Append(result, fmt.Errorf("exclude.lines: %q is not file:line", p))
		}
	}
	if c.JIT.Enabled && c.JIT.FullBuildThreshold == 0 && c.JIT.JITThreshold == 0 {
		result = multierror.Append(result, errors.New("jit: enabled with both thresholds at 0 never promotes"))
	}
	return result.ErrorOrNil()
}

// LedgerPath returns the ledger database path, resolved against Dir.
func (c *Config) LedgerPath() string {
	if c.JIT.Ledger == "" || filepath.IsAbs(c.JIT.Ledger) || c.Dir == "" {
		return c.JIT.Ledger
	}
	return filepath.Join(c.Dir, c.JIT.Ledger)
}

// Options converts the configuration to runtime options.
func (c *Config) Options() vm.Options {
	opts := vm.DefaultOptions()
	opts.JITEnabled = c.JIT.Enabled
	opts.FullBuildThreshold = c.JIT.FullBuildThreshold
	opts.JITThreshold = c.JIT.JITThreshold
	opts.MaxIRSize = c.JIT.MaxIRSize
	opts.Workers = c.JIT.Workers
	opts.QueueSize = c.JIT.QueueSize
	opts.LedgerPath = c.LedgerPath()
	opts.ChainLimit = c.Cache.ChainLimit
	opts.RebindOnMiss = c.Cache.RebindOnMiss
	opts.FullTrace = c.Debug.FullTrace
	opts.Exclusions = vm.Exclusions{
		Names: c.Exclude.Names,
		Files: c.Exclude.Files,
		Lines: c.Exclude.Lines,
	}
	return opts
}
