package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrCherryPickConflict is returned when a cherry-pick stops on conflicts.
var ErrCherryPickConflict = errors.New("cherry-pick conflict")

// Git implements Operations using the git CLI.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

var _ Operations = (*Git)(nil)

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// run executes git in repoPath and returns trimmed combined output.
func (g *Git) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, append([]string{"-C", repoPath}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		return output, fmt.Errorf("git %s failed in %s: %w (output: %s)", args[0], repoPath, err, output)
	}
	return output, nil
}

// HasUncommittedChanges checks if there are uncommitted changes.
// SECURITY: repoPath must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error) {
	status, err := g.GetStatus(ctx, repoPath)
	if err != nil {
		return false, fmt.Errorf("failed to check uncommitted changes in %s: %w", repoPath, err)
	}
	return status.HasChanges, nil
}

// GetStatus returns the git status of the repository.
// SECURITY: repoPath must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) GetStatus(ctx context.Context, repoPath string) (*Status, error) {
	// Use git status --porcelain for machine-readable output
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status failed in %s: %w", repoPath, err)
	}

	status := &Status{
		Modified:  []string{},
		Untracked: []string{},
		Deleted:   []string{},
		Added:     []string{},
		Renamed:   []string{},
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 3 {
			continue
		}

		statusCode := line[0:2]
		filePath := line[3:]

		// XY where X=index, Y=working tree
		// Reference: https://git-scm.com/docs/git-status#_short_format
		switch {
		case strings.HasPrefix(statusCode, "??"):
			status.Untracked = append(status.Untracked, filePath)
		case strings.HasPrefix(statusCode, "A "), strings.HasPrefix(statusCode, "AM"):
			status.Added = append(status.Added, filePath)
		case strings.HasPrefix(statusCode, "M "), strings.HasPrefix(statusCode, " M"), strings.HasPrefix(statusCode, "MM"):
			status.Modified = append(status.Modified, filePath)
		case strings.HasPrefix(statusCode, "D "), strings.HasPrefix(statusCode, " D"):
			status.Deleted = append(status.Deleted, filePath)
		case strings.HasPrefix(statusCode, "R "):
			status.Renamed = append(status.Renamed, filePath)
		default:
			status.Modified = append(status.Modified, filePath)
		}

		status.HasChanges = true
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse git status: %w", err)
	}

	return status, nil
}

// Checkout switches to branch, creating it when opts.Create is set and the
// branch does not exist. Checking out the current branch is a no-op.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) Checkout(ctx context.Context, repoPath, branch string, opts CheckoutOptions) error {
	if branch == "" {
		return fmt.Errorf("branch name is required")
	}

	current, err := g.CurrentBranch(ctx, repoPath)
	if err == nil && current == branch {
		return nil
	}

	_, checkoutErr := g.run(ctx, repoPath, "checkout", branch)
	if checkoutErr == nil {
		return nil
	}

	exists, err := g.branchExists(ctx, repoPath, branch)
	if err != nil {
		return fmt.Errorf("failed to check branch %s: %w", branch, err)
	}
	if exists || !opts.Create {
		return checkoutErr
	}

	args := []string{"checkout", "-b", branch}
	if opts.StartPoint != "" {
		args = append(args, opts.StartPoint)
	}
	if _, err := g.run(ctx, repoPath, args...); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return nil
}

func (g *Git) branchExists(ctx context.Context, repoPath, branch string) (bool, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CommitChanges creates a git commit and returns its hash.
// Without AllowEmpty, an empty index is not an error: "" is returned.
// SECURITY: repoPath must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) CommitChanges(ctx context.Context, repoPath string, opts CommitOptions) (string, error) {
	if opts.Message == "" {
		return "", fmt.Errorf("commit message is required")
	}

	// Stage changes if requested
	if opts.AddAll {
		if _, err := g.run(ctx, repoPath, "add", "-A"); err != nil {
			return "", err
		}
	} else if len(opts.Paths) > 0 {
		if _, err := g.run(ctx, repoPath, append([]string{"add", "--"}, opts.Paths...)...); err != nil {
			return "", err
		}
	}

	if !opts.AllowEmpty {
		// diff --cached --quiet exits 0 when nothing is staged
		cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--cached", "--quiet")
		if err := cmd.Run(); err == nil {
			return "", nil
		}
	}

	args := []string{"commit", "--no-verify", "-m", opts.Message}
	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}
	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}
	if _, err := g.run(ctx, repoPath, args...); err != nil {
		return "", err
	}

	return g.RevParse(ctx, repoPath, "HEAD")
}

// Reset moves HEAD to ref.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) Reset(ctx context.Context, repoPath string, mode ResetMode, ref string) error {
	switch mode {
	case ResetSoft, ResetMixed, ResetHard:
	default:
		return fmt.Errorf("invalid reset mode %q", mode)
	}
	if ref == "" {
		ref = "HEAD"
	}
	_, err := g.run(ctx, repoPath, "reset", "--"+string(mode), ref)
	return err
}

// Clean removes untracked files and directories. Ignored paths are kept.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) Clean(ctx context.Context, repoPath string) error {
	_, err := g.run(ctx, repoPath, "clean", "-f", "-d")
	return err
}

// RevParse resolves rev to a full commit hash.
func (g *Git) RevParse(ctx context.Context, repoPath, rev string) (string, error) {
	out, err := g.run(ctx, repoPath, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return out, nil
}

// CurrentBranch returns the checked out branch, or "HEAD" when detached.
func (g *Git) CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	return g.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
}

// CherryPick applies commit onto HEAD and returns the new HEAD.
// On conflicts the pick is aborted and ErrCherryPickConflict is returned.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) CherryPick(ctx context.Context, repoPath, commit string) (string, error) {
	if _, err := g.run(ctx, repoPath, "cherry-pick", "--allow-empty", commit); err != nil {
		conflicted := g.getConflictedFiles(ctx, repoPath)
		if _, abortErr := g.run(ctx, repoPath, "cherry-pick", "--abort"); abortErr != nil {
			return "", fmt.Errorf("cherry-pick of %s failed and abort failed: %w", commit, abortErr)
		}
		if len(conflicted) > 0 {
			return "", fmt.Errorf("%w: %s (%s)", ErrCherryPickConflict, commit, strings.Join(conflicted, ", "))
		}
		return "", err
	}
	return g.RevParse(ctx, repoPath, "HEAD")
}

// MergeFastForward fast-forwards the current branch to ref.
func (g *Git) MergeFastForward(ctx context.Context, repoPath, ref string) error {
	_, err := g.run(ctx, repoPath, "merge", "--ff-only", ref)
	return err
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	_, err := g.run(ctx, repoPath, "branch", "-D", branch)
	return err
}

// ListBranches returns local branches matching pattern (e.g. "buildfix/*").
func (g *Git) ListBranches(ctx context.Context, repoPath, pattern string) ([]string, error) {
	out, err := g.run(ctx, repoPath, "branch", "--list", "--format=%(refname:short)", pattern)
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// ListWorktrees returns worktree path -> checked out branch ("" when detached).
func (g *Git) ListWorktrees(ctx context.Context, repoPath string) (map[string]string, error) {
	out, err := g.run(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	worktrees := make(map[string]string)
	var current string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current = strings.TrimPrefix(line, "worktree ")
			worktrees[current] = ""
		case strings.HasPrefix(line, "branch ") && current != "":
			worktrees[current] = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	return worktrees, nil
}

// GetBranchTimestamp returns the committer time of the branch tip.
func (g *Git) GetBranchTimestamp(ctx context.Context, repoPath, branch string) (time.Time, error) {
	out, err := g.run(ctx, repoPath, "log", "-1", "--format=%ct", branch)
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", out, err)
	}
	return time.Unix(secs, 0), nil
}

// getConflictedFiles returns a list of files with merge conflicts.
func (g *Git) getConflictedFiles(ctx context.Context, repoPath string) []string {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--name-only", "--diff-filter=U")
	output, err := cmd.Output()
	if err != nil {
		return []string{}
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			files = append(files, line)
		}
	}
	return files
}
