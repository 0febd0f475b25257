package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/buildfix/internal/ai"
)

// clearEnv isolates a test from BUILDFIX_* variables set in the developer's shell
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BUILDFIX_TOOLCHAIN", "BUILDFIX_BUILD_COMMAND", "BUILDFIX_MODEL", "BUILDFIX_CRITIC_MODEL",
		"BUILDFIX_MAX_DEPTH", "BUILDFIX_MAX_FIXES", "BUILDFIX_PARALLELISM", "BUILDFIX_ESCALATE_UNPARSED",
		"BUILDFIX_SCOPED_SUCCESS", "BUILDFIX_AUTO_APPROVE", "BUILDFIX_DB", "BUILDFIX_REQUESTS_PER_MINUTE", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults, cfg)
	assert.Equal(t, "typescript", cfg.Build.Toolchain)
	assert.Equal(t, 3, cfg.Search.MaxDepth)
	assert.Equal(t, 3, cfg.Search.MaxFixesPerBug)
	assert.Equal(t, 1, cfg.Search.Parallelism)
	assert.False(t, cfg.Search.EscalateUnparsed)
	assert.False(t, cfg.Search.ScopedSuccess)
}

func TestLoad_FileMergesOntoDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
build:
  toolchain: go
  command: [go, vet, ./...]
  package_manager: go
  timeout: 2m
ai:
  critic_model: claude-3-5-haiku-20241022
  ensemble:
    - model: claude-sonnet-4-5-20250929
      temperature: 0.1
    - model: claude-sonnet-4-5-20250929
      temperature: 0.9
  retry:
    max_retries: 5
    initial_backoff: 2s
search:
  max_depth: 2
  escalate_unparsed: true
  scoped_success: true
research_file: docs/notes.md
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "go", cfg.Build.Toolchain)
	assert.Equal(t, []string{"go", "vet", "./..."}, cfg.Build.Command)
	assert.Equal(t, 2*time.Minute, cfg.Build.Timeout)
	assert.Equal(t, []ai.Sample{
		{Model: "claude-sonnet-4-5-20250929", Temperature: 0.1},
		{Model: "claude-sonnet-4-5-20250929", Temperature: 0.9},
	}, cfg.AI.Ensemble)
	assert.Equal(t, 5, cfg.AI.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.AI.Retry.InitialBackoff)
	assert.Equal(t, ai.DefaultRetryConfig().MaxBackoff, cfg.AI.Retry.MaxBackoff, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Search.MaxDepth)
	assert.Equal(t, 3, cfg.Search.MaxFixesPerBug)
	assert.True(t, cfg.Search.EscalateUnparsed)
	assert.True(t, cfg.Search.ScopedSuccess)

	settings := cfg.BuildSettings()
	assert.Equal(t, "go", settings.Toolchain)
	assert.Equal(t, []string{"go", "vet", "./..."}, settings.BuildCommand)
	assert.Equal(t, 2*time.Minute, settings.Timeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "search:\n  max_depth: 2\n  parallelism: 2\n")

	t.Setenv("BUILDFIX_MAX_DEPTH", "5")
	t.Setenv("BUILDFIX_MAX_FIXES", "4")
	t.Setenv("BUILDFIX_AUTO_APPROVE", "true")
	t.Setenv("BUILDFIX_SCOPED_SUCCESS", "1")
	t.Setenv("BUILDFIX_MODEL", "custom-model")
	t.Setenv("BUILDFIX_BUILD_COMMAND", "pnpm run typecheck")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.MaxDepth)
	assert.Equal(t, 4, cfg.Search.MaxFixesPerBug)
	assert.Equal(t, 2, cfg.Search.Parallelism)
	assert.True(t, cfg.AutoApprove)
	assert.True(t, cfg.Search.ScopedSuccess)
	assert.Equal(t, "custom-model", cfg.AI.Model)
	assert.Equal(t, []string{"pnpm", "run", "typecheck"}, cfg.Build.Command)
	assert.Equal(t, "sk-test", cfg.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown key", file: "search:\n  max_dept: 2\n", wantErr: "max_dept"},
		{name: "bad yaml", file: "build: [\n", wantErr: "parsing"},
		{name: "unknown toolchain", file: "build:\n  toolchain: cobol\n", wantErr: "unknown toolchain"},
		{name: "depth out of range", file: "search:\n  max_depth: 0\n", wantErr: "max_depth"},
		{name: "bad package manager", file: "build:\n  package_manager: bower\n", wantErr: "package_manager"},
		{name: "bad temperature", file: "ai:\n  ensemble:\n    - model: m\n      temperature: 1.5\n", wantErr: "temperature"},
		{name: "invalid env int", env: map[string]string{"BUILDFIX_PARALLELISM": "many"}, wantErr: "BUILDFIX_PARALLELISM"},
		{name: "invalid env bool", env: map[string]string{"BUILDFIX_AUTO_APPROVE": "sure"}, wantErr: "BUILDFIX_AUTO_APPROVE"},
		{name: "parallelism out of range", env: map[string]string{"BUILDFIX_PARALLELISM": "64"}, wantErr: "parallelism"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			if tt.file != "" {
				writeConfig(t, dir, tt.file)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(dir, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	clearEnv(t)
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "")
	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestHistoryPathAndResearch(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(dir, ".buildfix", "history.db"), cfg.HistoryPath(dir))

	cfg.History.Path = ":memory:"
	assert.Equal(t, ":memory:", cfg.HistoryPath(dir))

	research, err := cfg.Research(dir)
	require.NoError(t, err)
	assert.Empty(t, research)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("Bar moved to components/"), 0644))
	cfg.ResearchFile = "notes.md"
	research, err = cfg.Research(dir)
	require.NoError(t, err)
	assert.Equal(t, "Bar moved to components/", research)
}

func TestCleanupConfig(t *testing.T) {
	cfg := DefaultCleanupConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())

	cfg.RetentionDays = 400
	assert.Error(t, cfg.Validate())
	cfg.RetentionDays = -1
	assert.Error(t, cfg.Validate())
}
