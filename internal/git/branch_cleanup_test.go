package git

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrphanedFixBranches(t *testing.T) {
	ctx := context.Background()
	repo := initTestRepo(t)
	gitCmd(t, repo, "branch", "buildfix/foo-1234abcd")
	gitCmd(t, repo, "branch", "feature/test")

	gitOps, err := NewGit(ctx)
	require.NoError(t, err)

	orphaned, err := gitOps.FindOrphanedFixBranches(ctx, repo)
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, "buildfix/foo-1234abcd", orphaned[0].Name)
}

func TestFindOrphanedFixBranches_SkipsCheckedOutBranch(t *testing.T) {
	ctx := context.Background()
	repo := initTestRepo(t)
	gitCmd(t, repo, "checkout", "-b", "buildfix/active-00000000")

	gitOps, err := NewGit(ctx)
	require.NoError(t, err)

	orphaned, err := gitOps.FindOrphanedFixBranches(ctx, repo)
	require.NoError(t, err)
	assert.Empty(t, orphaned, "a branch checked out in a worktree is not orphaned")
}

func TestCleanupOrphanedBranches(t *testing.T) {
	ctx := context.Background()
	repo := initTestRepo(t)
	gitCmd(t, repo, "branch", "buildfix/bar-9876abcd")

	gitOps, err := NewGit(ctx)
	require.NoError(t, err)

	deleted, err := gitOps.CleanupOrphanedBranches(ctx, repo, 0, true)
	require.NoError(t, err)
	assert.Len(t, deleted, 1, "dry run reports the branch")

	deleted, err = gitOps.CleanupOrphanedBranches(ctx, repo, 100*24*time.Hour, true)
	require.NoError(t, err)
	assert.Empty(t, deleted, "branch is too recent")

	deleted, err = gitOps.CleanupOrphanedBranches(ctx, repo, 0, false)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	orphaned, err := gitOps.FindOrphanedFixBranches(ctx, repo)
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestGetOrphanedBranchSummary(t *testing.T) {
	ctx := context.Background()
	repo := initTestRepo(t)

	gitOps, err := NewGit(ctx)
	require.NoError(t, err)

	summary, err := gitOps.GetOrphanedBranchSummary(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "No orphaned fix branches found.", summary)

	gitCmd(t, repo, "branch", "buildfix/baz-aaaabbbb")
	summary, err = gitOps.GetOrphanedBranchSummary(ctx, repo)
	require.NoError(t, err)
	assert.Contains(t, summary, "Found 1 orphaned fix branch(es)")
	assert.Contains(t, summary, "Recent (< 7 days):\n  - buildfix/baz-aaaabbbb")
}

func TestListWorktrees(t *testing.T) {
	ctx := context.Background()
	repo := initTestRepo(t)

	gitOps, err := NewGit(ctx)
	require.NoError(t, err)

	worktrees, err := gitOps.ListWorktrees(ctx, repo)
	require.NoError(t, err)
	require.Len(t, worktrees, 1, "only the main worktree")
	for _, branch := range worktrees {
		assert.Equal(t, "main", branch)
	}
}

func TestGetBranchTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := initTestRepo(t)

	gitOps, err := NewGit(ctx)
	require.NoError(t, err)

	timestamp, err := gitOps.GetBranchTimestamp(ctx, repo, "HEAD")
	require.NoError(t, err)
	diff := time.Since(timestamp)
	assert.True(t, diff >= -time.Second && diff < time.Minute, "timestamp should be recent, got %v", timestamp)

	_, err = gitOps.GetBranchTimestamp(ctx, repo, "no-such-branch")
	assert.Error(t, err)
}
