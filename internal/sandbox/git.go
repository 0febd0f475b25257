package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

// createWorktree creates a git worktree at worktreePath in detached HEAD state at base.
// Agents create their own branches inside the worktree.
//
// Returns the absolute path to the created worktree, or an error if creation fails.
func createWorktree(ctx context.Context, parentRepo, worktreePath, base string) (string, error) {
	if err := validateGitRepo(parentRepo); err != nil {
		return "", fmt.Errorf("parent repo validation failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create arena root directory: %w", err)
	}

	if _, err := os.Stat(worktreePath); err == nil {
		return "", fmt.Errorf("worktree path already exists: %s", worktreePath)
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", worktreePath, base)
	cmd.Dir = parentRepo

	output, err := cmd.CombinedOutput()
	if err != nil {
		// Clean up if worktree creation failed but directory was created
		_ = os.RemoveAll(worktreePath)
		return "", fmt.Errorf("git worktree add failed: %w (output: %s)", err, string(output))
	}

	absPath, err := filepath.Abs(worktreePath)
	if err != nil {
		_ = removeWorktree(ctx, parentRepo, worktreePath)
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// removeWorktree removes a git worktree and prunes the worktree list.
// Removing a path that no longer exists is not an error.
func removeWorktree(ctx context.Context, parentRepo, worktreePath string) error {
	if _, err := os.Stat(worktreePath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = parentRepo
	if err := cmd.Run(); err != nil {
		// The worktree may already be broken; fall back to manual removal
		if err := os.RemoveAll(worktreePath); err != nil {
			return fmt.Errorf("failed to remove worktree directory: %w", err)
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = parentRepo
		_ = prune.Run()
	}
	return nil
}

// linkShared symlinks untracked, shared directories (such as node_modules)
// from the parent checkout into the worktree so builds can run there.
func linkShared(parentRepo, worktreePath string, names []string) error {
	for _, name := range names {
		src := filepath.Join(parentRepo, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(worktreePath, name)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("failed to link %s into worktree: %w", name, err)
		}
	}
	return nil
}

// validateGitRepo checks that path is a directory holding a .git entry.
// In a worktree .git is a file, so only existence is checked.
func validateGitRepo(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("path does not exist: %s", path)
	case err != nil:
		return fmt.Errorf("failed to stat path: %w", err)
	case !info.IsDir():
		return fmt.Errorf("path is not a directory: %s", path)
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return fmt.Errorf("not a git repository: %s: %w", path, err)
	}
	return nil
}
