package storage

import (
	"context"

	"github.com/steveyegge/buildfix/internal/storage/sqlite"
	"github.com/steveyegge/buildfix/internal/types"
)

// HistoryStore persists resolution runs and their patch attempts
type HistoryStore interface {
	// Runs
	RecordRun(ctx context.Context, run *types.ResolutionRun) error
	FinishRun(ctx context.Context, run *types.ResolutionRun) error
	ListRuns(ctx context.Context, limit int) ([]*types.ResolutionRun, error)

	// Attempts
	RecordAttempt(ctx context.Context, attempt *types.AttemptRecord) error
	GetAttempts(ctx context.Context, runID string) ([]*types.AttemptRecord, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".buildfix/history.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultPath is where history is kept relative to the repository root
const DefaultPath = ".buildfix/history.db"

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: DefaultPath,
	}
}

// NewStorage creates a new SQLite history store
func NewStorage(ctx context.Context, cfg *Config) (HistoryStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return sqlite.New(ctx, cfg.Path)
}
