package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/buildfix/internal/config"
	"github.com/steveyegge/buildfix/internal/storage"
)

// resolveRepo returns the absolute repository path for the --repo flag value
func resolveRepo(repo string) (string, error) {
	if repo == "" {
		repo = "."
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repository %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository %s is not a directory", abs)
	}
	return abs, nil
}

// loadConfig loads the repository configuration and applies global flags
func loadConfig(repoPath string) (*config.Config, error) {
	cfg, err := config.Load(repoPath, configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.History.Path = dbPath
		cfg.History.Enabled = true
	}
	return cfg, nil
}

// openHistory opens the run history database, or returns nil when history is disabled.
// A database inside the repository gets a .gitignore so fix commits never pick it up.
func openHistory(ctx context.Context, cfg *config.Config, repoPath string) (storage.HistoryStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	path := cfg.HistoryPath(repoPath)
	if path != ":memory:" {
		if err := ignoreDir(repoPath, filepath.Dir(path)); err != nil {
			return nil, err
		}
	}
	store, err := storage.NewStorage(ctx, &storage.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return store, nil
}

// ignoreDir writes a catch-all .gitignore into dir when dir is inside repoPath
func ignoreDir(repoPath, dir string) error {
	rel, err := filepath.Rel(repoPath, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte("*\n"), 0644)
}

// readBuildOutput reads captured build output from path ("-" is stdin)
func readBuildOutput(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read build output from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read build output: %w", err)
	}
	return string(data), nil
}
