package git

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BranchPrefix namespaces every branch the resolver creates
const BranchPrefix = "buildfix/"

// FindOrphanedFixBranches finds fix branches that have no associated worktree.
// These are leftovers from rejected merges, failed agents or interrupted arena runs.
// Only considers branches matching "buildfix/*".
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) FindOrphanedFixBranches(ctx context.Context, repoPath string) ([]OrphanedBranch, error) {
	branches, err := g.ListBranches(ctx, repoPath, BranchPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list fix branches: %w", err)
	}

	worktrees, err := g.ListWorktrees(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	activeBranches := make(map[string]bool)
	for _, branch := range worktrees {
		activeBranches[branch] = true
	}

	var orphaned []OrphanedBranch
	now := time.Now()

	for _, branch := range branches {
		if activeBranches[branch] {
			continue
		}
		timestamp, err := g.GetBranchTimestamp(ctx, repoPath, branch)
		if err != nil {
			// Skip branches we can't get timestamps for
			continue
		}
		orphaned = append(orphaned, OrphanedBranch{
			Name:      branch,
			Timestamp: timestamp,
			Age:       now.Sub(timestamp),
		})
	}

	return orphaned, nil
}

// CleanupOrphanedBranches deletes orphaned fix branches older than retention.
// Returns the branches that were deleted (or would be, when dryRun is set).
// A branch that fails to delete is skipped; the remaining ones are still processed.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) CleanupOrphanedBranches(ctx context.Context, repoPath string, retention time.Duration, dryRun bool) ([]OrphanedBranch, error) {
	orphaned, err := g.FindOrphanedFixBranches(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned branches: %w", err)
	}

	var deleted []OrphanedBranch
	var failures []string
	for _, branch := range orphaned {
		if branch.Age < retention {
			continue
		}
		if !dryRun {
			if err := g.DeleteBranch(ctx, repoPath, branch.Name); err != nil {
				failures = append(failures, branch.Name)
				continue
			}
		}
		deleted = append(deleted, branch)
	}

	if len(failures) > 0 {
		return deleted, fmt.Errorf("failed to delete %d branch(es): %s", len(failures), strings.Join(failures, ", "))
	}
	return deleted, nil
}

// GetOrphanedBranchSummary returns a summary of orphaned branches for display.
// Groups branches by age category for better visibility.
func (g *Git) GetOrphanedBranchSummary(ctx context.Context, repoPath string) (string, error) {
	orphaned, err := g.FindOrphanedFixBranches(ctx, repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to find orphaned branches: %w", err)
	}

	if len(orphaned) == 0 {
		return "No orphaned fix branches found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d orphaned fix branch(es):\n\n", len(orphaned))

	var recent, old, veryOld []OrphanedBranch
	for _, branch := range orphaned {
		days := branch.Age.Hours() / 24
		switch {
		case days < 7:
			recent = append(recent, branch)
		case days < 30:
			old = append(old, branch)
		default:
			veryOld = append(veryOld, branch)
		}
	}

	writeGroup := func(title string, group []OrphanedBranch) {
		if len(group) == 0 {
			return
		}
		sb.WriteString(title + ":\n")
		for _, b := range group {
			fmt.Fprintf(&sb, "  - %s (%.1f days old)\n", b.Name, b.Age.Hours()/24)
		}
		sb.WriteString("\n")
	}
	writeGroup("Recent (< 7 days)", recent)
	writeGroup("Old (7-30 days)", old)
	writeGroup("Very Old (> 30 days)", veryOld)

	return sb.String(), nil
}
