// Package sandbox provides an arena of git worktrees, one per bug agent, so that
// independent agents can be resolved in parallel without sharing a checkout.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSharedDirs are linked from the parent checkout into every workspace
var DefaultSharedDirs = []string{"node_modules"}

// Config holds configuration for an arena
type Config struct {
	// ParentRepo is the path to the main checkout
	ParentRepo string

	// Root is the directory worktrees are created under.
	// Defaults to a temporary directory removed by Close.
	Root string

	// SharedDirs are untracked directories symlinked into each worktree
	SharedDirs []string

	Logger *zap.Logger
}

// Arena leases one worktree per agent ID
type Arena struct {
	parentRepo string
	root       string
	ownsRoot   bool
	sharedDirs []string
	logger     *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace

	// gitMu serializes worktree add/remove against the shared repository metadata
	gitMu sync.Mutex
}

// NewArena creates an arena for the repository at cfg.ParentRepo
func NewArena(cfg Config) (*Arena, error) {
	if cfg.ParentRepo == "" {
		return nil, fmt.Errorf("parent repository is required")
	}
	parent, err := filepath.Abs(cfg.ParentRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parent repository: %w", err)
	}
	if err := validateGitRepo(parent); err != nil {
		return nil, err
	}

	a := &Arena{
		parentRepo: parent,
		root:       cfg.Root,
		sharedDirs: cfg.SharedDirs,
		logger:     cfg.Logger,
		workspaces: make(map[string]*Workspace),
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.logger = a.logger.Named("arena")
	if a.sharedDirs == nil {
		a.sharedDirs = DefaultSharedDirs
	}
	if a.root == "" {
		root, err := os.MkdirTemp("", "buildfix-arena-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create arena root: %w", err)
		}
		a.root = root
		a.ownsRoot = true
	}
	return a, nil
}

// Acquire creates a worktree for agentID at base. Each agent holds at most one workspace.
func (a *Arena) Acquire(ctx context.Context, agentID, base string) (*Workspace, error) {
	a.mu.Lock()
	if _, exists := a.workspaces[agentID]; exists {
		a.mu.Unlock()
		return nil, fmt.Errorf("agent %s already holds a workspace", agentID)
	}
	// Reserve the slot so concurrent Acquire calls for the same agent fail fast
	a.workspaces[agentID] = nil
	a.mu.Unlock()

	a.gitMu.Lock()
	path, err := createWorktree(ctx, a.parentRepo, filepath.Join(a.root, agentID), base)
	a.gitMu.Unlock()
	if err == nil {
		err = linkShared(a.parentRepo, path, a.sharedDirs)
		if err != nil {
			_ = removeWorktree(ctx, a.parentRepo, path)
		}
	}
	if err != nil {
		a.mu.Lock()
		delete(a.workspaces, agentID)
		a.mu.Unlock()
		return nil, fmt.Errorf("failed to create workspace for %s: %w", agentID, err)
	}

	ws := &Workspace{
		AgentID:    agentID,
		Path:       path,
		Base:       base,
		ParentRepo: a.parentRepo,
		Created:    time.Now(),
		Status:     WorkspaceStatusActive,
	}
	a.mu.Lock()
	a.workspaces[agentID] = ws
	a.mu.Unlock()

	a.logger.Debug("workspace acquired", zap.String("agent", agentID), zap.String("path", path))
	return ws, nil
}

// Release removes the agent's worktree. Branches created inside it are kept.
func (a *Arena) Release(ctx context.Context, agentID string) error {
	a.mu.Lock()
	ws := a.workspaces[agentID]
	delete(a.workspaces, agentID)
	a.mu.Unlock()

	if ws == nil {
		return nil
	}
	a.gitMu.Lock()
	err := removeWorktree(ctx, a.parentRepo, ws.Path)
	a.gitMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to release workspace for %s: %w", agentID, err)
	}
	ws.Status = WorkspaceStatusReleased
	a.logger.Debug("workspace released", zap.String("agent", agentID))
	return nil
}

// Active lists the agent IDs currently holding a workspace, sorted
func (a *Arena) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.workspaces))
	for id, ws := range a.workspaces {
		if ws != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close releases every workspace and removes the arena root if the arena created it
func (a *Arena) Close(ctx context.Context) error {
	var errs []error
	for _, id := range a.Active() {
		if err := a.Release(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ownsRoot {
		if err := os.RemoveAll(a.root); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove arena root: %w", err))
		}
	}
	return errors.Join(errs...)
}
