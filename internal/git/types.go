package git

import (
	"context"
	"time"
)

// Operations provides the version-control operations the resolver needs.
// Every call is scoped to a single working-copy path. This interface is
// implementation-agnostic so tests can substitute fakes.
type Operations interface {
	// Checkout switches to branch. It is a no-op when already on the branch,
	// and creates the branch (at opts.StartPoint, or HEAD) when it does not exist.
	Checkout(ctx context.Context, repoPath, branch string, opts CheckoutOptions) error

	// CommitChanges creates a commit with the given message.
	// Returns the commit hash, or "" when there was nothing to commit.
	CommitChanges(ctx context.Context, repoPath string, opts CommitOptions) (string, error)

	// Reset moves HEAD to ref using the given mode.
	Reset(ctx context.Context, repoPath string, mode ResetMode, ref string) error

	// Clean removes untracked files and directories that are not ignored.
	Clean(ctx context.Context, repoPath string) error

	// RevParse resolves a revision to a full commit hash.
	RevParse(ctx context.Context, repoPath, rev string) (string, error)

	// CurrentBranch returns the checked out branch name ("HEAD" when detached).
	CurrentBranch(ctx context.Context, repoPath string) (string, error)

	// CherryPick applies commit onto HEAD. A conflicting pick is aborted and
	// reported as an error; the working copy is left as it was.
	CherryPick(ctx context.Context, repoPath, commit string) (string, error)

	// MergeFastForward fast-forwards the current branch to ref.
	MergeFastForward(ctx context.Context, repoPath, ref string) error

	// DeleteBranch force-deletes a local branch.
	DeleteBranch(ctx context.Context, repoPath, branch string) error

	// HasUncommittedChanges checks if there are staged, unstaged or untracked changes.
	HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error)

	// GetStatus returns detailed git status information.
	GetStatus(ctx context.Context, repoPath string) (*Status, error)
}

// CheckoutOptions configures a checkout.
type CheckoutOptions struct {
	// Create creates the branch when it does not exist yet
	Create bool

	// StartPoint is the commit a newly created branch starts from (defaults to HEAD)
	StartPoint string
}

// ResetMode selects how git reset treats the index and working tree.
type ResetMode string

const (
	ResetSoft  ResetMode = "soft"
	ResetMixed ResetMode = "mixed"
	ResetHard  ResetMode = "hard"
)

// Status represents the git status of a repository.
type Status struct {
	// Modified files (staged or unstaged)
	Modified []string

	// Untracked files
	Untracked []string

	// Deleted files
	Deleted []string

	// Added files (staged)
	Added []string

	// Renamed files
	Renamed []string

	// HasChanges is true if any changes exist
	HasChanges bool
}

// CommitOptions configures a git commit operation.
type CommitOptions struct {
	// Message is the commit message
	Message string

	// Author specifies the author (optional, uses git config if empty)
	Author string

	// AddAll stages all changes before committing (git add -A)
	AddAll bool

	// Paths stages only these paths before committing
	Paths []string

	// AllowEmpty allows creating an empty commit
	AllowEmpty bool
}

// OrphanedBranch represents a fix branch with no associated worktree
type OrphanedBranch struct {
	Name      string
	Timestamp time.Time
	Age       time.Duration
}
