package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the name of the run configuration searched for by FindConfig.
const ConfigFile = "lvm.toml"

// Config describes a run of the vm, it can be loaded from lvm.toml and then
// overridden by command line flags.
type Config struct {
	// Chunks are the files or directories of precompiled chunks to run in order.
	Chunks []string `toml:"chunks"`
	// Verbose turns on the per instruction trace.
	Verbose bool `toml:"verbose"`
	// ContinueOnError keeps running the queue after a chunk fails.
	ContinueOnError bool `toml:"continue_on_error"`
	// StrictIndex makes reads of absent table keys fail instead of returning nil.
	StrictIndex bool `toml:"strict_index"`
	// MaxInstructions is the per chunk instruction ceiling.
	MaxInstructions int64 `toml:"max_instructions"`
	// MaxCallDepth is the deepest call stack allowed.
	MaxCallDepth int `toml:"max_call_depth"`
	// BacklogSize is how many instructions are kept for diagnostics.
	BacklogSize int `toml:"backlog_size"`
	// ReportDir is where crash reports are written, empty disables them.
	ReportDir string `toml:"report_dir"`
	// Luac is the lua 5.1 compiler used by loadstring, empty disables it.
	Luac string `toml:"luac"`

	// Dir is the directory containing the config file (set at load time).
	Dir string `toml:"-"`
}

// Default returns a config with all the limits set to their defaults.
func Default() *Config {
	return &Config{
		MaxInstructions: MAXINSTRUCTIONS,
		MaxCallDepth:    MAXCALLDEPTH,
		BacklogSize:     BACKLOGSIZE,
	}
}

// LoadConfig parses a config file at path. Unset limits get their defaults and
// relative chunk paths are resolved against the directory of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	cfg.applyDefaults()
	for i, chunk := range cfg.Chunks {
		if !filepath.IsAbs(chunk) {
			cfg.Chunks[i] = filepath.Join(cfg.Dir, chunk)
		}
	}
	return cfg, nil
}

// FindConfig walks up from startDir looking for lvm.toml. It returns the default
// config when none is found.
func FindConfig(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, ConfigFile)
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxInstructions <= 0 {
		cfg.MaxInstructions = MAXINSTRUCTIONS
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = MAXCALLDEPTH
	}
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = BACKLOGSIZE
	}
}
