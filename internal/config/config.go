// Package config loads buildfix settings from .buildfix.yaml and the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables, command-line flags (applied by the CLI).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/buildfix/internal/ai"
	"github.com/steveyegge/buildfix/internal/diagnostics"
	"github.com/steveyegge/buildfix/internal/types"
)

// FileName is the per-repository configuration file
const FileName = ".buildfix.yaml"

// Config is the complete buildfix configuration
type Config struct {
	Build   BuildConfig   `yaml:"build"`
	AI      AIConfig      `yaml:"ai"`
	Search  SearchConfig  `yaml:"search"`
	History HistoryConfig `yaml:"history"`
	Cleanup CleanupConfig `yaml:"cleanup"`

	// ResearchFile is a path (relative to the repository) whose contents are
	// included in every fix prompt
	ResearchFile string `yaml:"research_file"`

	// AutoApprove merges successful runs without asking
	AutoApprove bool `yaml:"auto_approve"`

	// APIKey is only read from ANTHROPIC_API_KEY, never from the file
	APIKey string `yaml:"-"`
}

// BuildConfig describes how the target project is built
type BuildConfig struct {
	Toolchain      string        `yaml:"toolchain"`
	Command        []string      `yaml:"command"`
	PackageManager string        `yaml:"package_manager"`
	Env            []string      `yaml:"env"`
	Timeout        time.Duration `yaml:"timeout"`
}

// AIConfig configures the oracles
type AIConfig struct {
	// Model is the default model for fix generation (default: ai.GetDefaultModel())
	Model string `yaml:"model"`

	// CriticModel rates patches (default: ai.GetSimpleTaskModel())
	CriticModel string `yaml:"critic_model"`

	// Ensemble is sampled for every fix-generation request.
	// Empty means the default model at two temperatures.
	Ensemble []ai.Sample `yaml:"ensemble"`

	// RefineThreshold is the judge score (1-10) below which the best sample is refined
	RefineThreshold int `yaml:"refine_threshold"`

	// MaxRefinements bounds refinement rounds; negative disables refinement
	MaxRefinements int `yaml:"max_refinements"`

	// RequestsPerMinute caps API requests; 0 disables the limit
	RequestsPerMinute int `yaml:"requests_per_minute"`

	Retry ai.RetryConfig `yaml:"retry"`
}

// SearchConfig bounds the resolution search
type SearchConfig struct {
	// MaxDepth bounds recursion on promising partial fixes
	// Default: 3, Range: 1-10
	MaxDepth int `yaml:"max_depth"`

	// MaxFixesPerBug is how many candidate patches are requested per agent
	// Default: 3, Range: 1-10
	MaxFixesPerBug int `yaml:"max_fixes_per_bug"`

	// Parallelism > 1 resolves agents concurrently in separate worktrees
	// Default: 1, Range: 1-32
	Parallelism int `yaml:"parallelism"`

	// EscalateUnparsed turns a failing build without parsable diagnostics into an error
	EscalateUnparsed bool `yaml:"escalate_unparsed"`

	// ScopedSuccess commits a fix that clears its own file even while other files
	// still fail to build. The run is verified by a full build at the end.
	ScopedSuccess bool `yaml:"scoped_success"`

	// ArenaRoot is where parallel worktrees are created (default: a temp directory)
	ArenaRoot string `yaml:"arena_root"`
}

// HistoryConfig configures the run history database
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Relative paths are resolved against the repository
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Toolchain:      diagnostics.DefaultToolchain,
			PackageManager: "npm",
			Timeout:        10 * time.Minute,
		},
		AI: AIConfig{
			RefineThreshold: 8,
			MaxRefinements:  1,
			Retry:           ai.DefaultRetryConfig(),
		},
		Search: SearchConfig{
			MaxDepth:       3,
			MaxFixesPerBug: 3,
			Parallelism:    1,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(".buildfix", "history.db"),
		},
		Cleanup: DefaultCleanupConfig(),
	}
}

// Load builds the configuration for repoPath. When path is empty the file is
// looked up at <repoPath>/.buildfix.yaml and may be absent; an explicit path must exist.
// Environment overrides are applied and the result is validated.
func Load(repoPath, path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(repoPath, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults apply
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// decode merges YAML onto cfg. Unknown keys are rejected so typos surface.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if _, err := diagnostics.ForToolchain(c.Build.Toolchain); err != nil {
		return err
	}
	switch c.Build.PackageManager {
	case "", "npm", "yarn", "pnpm", "go":
	default:
		return fmt.Errorf("package_manager must be one of npm, yarn, pnpm, go (got %q)", c.Build.PackageManager)
	}
	if c.Build.Timeout < 0 {
		return fmt.Errorf("build timeout cannot be negative (got %v)", c.Build.Timeout)
	}
	for _, kv := range c.Build.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("build env entry %q must be KEY=VALUE", kv)
		}
	}

	for i, s := range c.AI.Ensemble {
		if s.Model == "" {
			return fmt.Errorf("ensemble[%d]: model is required", i)
		}
		if s.Temperature < 0 || s.Temperature > 1 {
			return fmt.Errorf("ensemble[%d]: temperature must be between 0 and 1 (got %v)", i, s.Temperature)
		}
	}
	if c.AI.RefineThreshold < 1 || c.AI.RefineThreshold > 10 {
		return fmt.Errorf("refine_threshold must be between 1 and 10 (got %d)", c.AI.RefineThreshold)
	}
	if c.AI.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute cannot be negative (got %d)", c.AI.RequestsPerMinute)
	}
	if c.AI.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative (got %d)", c.AI.Retry.MaxRetries)
	}

	if c.Search.MaxDepth < 1 || c.Search.MaxDepth > 10 {
		return fmt.Errorf("max_depth must be between 1 and 10 (got %d)", c.Search.MaxDepth)
	}
	if c.Search.MaxFixesPerBug < 1 || c.Search.MaxFixesPerBug > 10 {
		return fmt.Errorf("max_fixes_per_bug must be between 1 and 10 (got %d)", c.Search.MaxFixesPerBug)
	}
	if c.Search.Parallelism < 1 || c.Search.Parallelism > 32 {
		return fmt.Errorf("parallelism must be between 1 and 32 (got %d)", c.Search.Parallelism)
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return c.Cleanup.Validate()
}

// BuildSettings converts the build section into resolver settings
func (c *Config) BuildSettings() types.BuildSettings {
	return types.BuildSettings{
		Toolchain:      c.Build.Toolchain,
		BuildCommand:   c.Build.Command,
		PackageManager: c.Build.PackageManager,
		Env:            c.Build.Env,
		Timeout:        c.Build.Timeout,
	}
}

// HistoryPath returns the database path resolved against repoPath
func (c *Config) HistoryPath(repoPath string) string {
	if c.History.Path == ":memory:" || filepath.IsAbs(c.History.Path) {
		return c.History.Path
	}
	return filepath.Join(repoPath, c.History.Path)
}

// Research returns the contents of the research file, or "" when none is configured
func (c *Config) Research(repoPath string) (string, error) {
	if c.ResearchFile == "" {
		return "", nil
	}
	path := c.ResearchFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoPath, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading research file: %w", err)
	}
	return string(data), nil
}

// String returns a human-readable representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Toolchain: %s, PackageManager: %s, Timeout: %v, Model: %s, Ensemble: %d, "+
			"MaxDepth: %d, MaxFixes: %d, Parallelism: %d, EscalateUnparsed: %t, ScopedSuccess: %t, History: %t}",
		c.Build.Toolchain, c.Build.PackageManager, c.Build.Timeout, c.AI.Model, len(c.AI.Ensemble),
		c.Search.MaxDepth, c.Search.MaxFixesPerBug, c.Search.Parallelism, c.Search.EscalateUnparsed,
		c.Search.ScopedSuccess, c.History.Enabled,
	)
}
