package gates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/chzyer/readline"
)

// Prompter reads one line of user input after showing prompt
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// ReadlinePrompter reads answers from the terminal with line editing
type ReadlinePrompter struct{}

// Prompt shows prompt and reads one line
func (ReadlinePrompter) Prompt(prompt string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return "", fmt.Errorf("failed to open terminal: %w", err)
	}
	defer func() { _ = rl.Close() }()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return line, err
}

// ApprovalGate shows the fixes produced on a work branch to a human
// before they are merged into the base branch.
type ApprovalGate struct {
	repoPath    string
	baseRef     string
	headRef     string
	results     []*Result
	autoApprove bool
	prompter    Prompter
	out         io.Writer
}

// ApprovalConfig holds configuration for the approval gate
type ApprovalConfig struct {
	RepoPath    string
	BaseRef     string    // Base branch the fixes will be merged into
	HeadRef     string    // Branch or commit holding the fixes
	Results     []*Result // Gate results to display (e.g. the final build)
	AutoApprove bool      // Skip the prompt (--yes)
	Prompter    Prompter  // Defaults to ReadlinePrompter
	Out         io.Writer // Defaults to os.Stdout
}

// NewApprovalGate creates a new approval gate
func NewApprovalGate(cfg *ApprovalConfig) (*ApprovalGate, error) {
	if cfg.RepoPath == "" {
		return nil, fmt.Errorf("repository path is required")
	}
	if cfg.BaseRef == "" || cfg.HeadRef == "" {
		return nil, fmt.Errorf("base and head refs are required")
	}

	g := &ApprovalGate{
		repoPath:    cfg.RepoPath,
		baseRef:     cfg.BaseRef,
		headRef:     cfg.HeadRef,
		results:     cfg.Results,
		autoApprove: cfg.AutoApprove || os.Getenv("BUILDFIX_AUTO_APPROVE") == "true",
		prompter:    cfg.Prompter,
		out:         cfg.Out,
	}
	if g.prompter == nil {
		g.prompter = ReadlinePrompter{}
	}
	if g.out == nil {
		g.out = os.Stdout
	}
	return g, nil
}

// Run presents the approval prompt and returns the result
func (g *ApprovalGate) Run(ctx context.Context) *Result {
	result := &Result{Gate: GateApproval}

	if g.autoApprove {
		result.Passed = true
		result.Output = "Auto-approved (--yes or BUILDFIX_AUTO_APPROVE)"
		return result
	}

	summary, err := g.buildSummary(ctx)
	if err != nil {
		result.Error = fmt.Errorf("failed to build summary: %w", err)
		result.Output = "Error building summary for approval"
		return result
	}

	fmt.Fprintln(g.out, "\n"+strings.Repeat("=", 80))
	fmt.Fprint(g.out, summary)
	fmt.Fprintln(g.out, strings.Repeat("=", 80))

	for {
		decision, err := g.prompter.Prompt(fmt.Sprintf("Merge fixes into %s? [y/n/d=show diff]: ", g.baseRef))
		if err != nil {
			result.Error = fmt.Errorf("failed to get user input: %w", err)
			result.Output = "Error reading user input"
			return result
		}

		switch strings.TrimSpace(strings.ToLower(decision)) {
		case "y", "yes":
			result.Passed = true
			result.Output = "Approved by user"
			return result

		case "n", "no":
			result.Output = "Rejected by user"
			return result

		case "d", "diff":
			if err := g.showDiff(ctx); err != nil {
				fmt.Fprintf(g.out, "Error showing diff: %v\n", err)
			}

		default:
			fmt.Fprintf(g.out, "Invalid input '%s'. Please enter y, n, or d.\n", decision)
		}
	}
}

// buildSummary lists gate results, changed files and commits between base and head
func (g *ApprovalGate) buildSummary(ctx context.Context) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "=== Build fixes: %s -> %s ===\n\n", g.headRef, g.baseRef)

	if len(g.results) > 0 {
		sb.WriteString("Gates:\n")
		for _, r := range g.results {
			status := "✓ PASS"
			if !r.Passed {
				status = "✗ FAIL"
			}
			fmt.Fprintf(&sb, "  %s: %s\n", status, r.Gate)
		}
		sb.WriteString("\n")
	}

	rangeSpec := g.baseRef + ".." + g.headRef

	files, err := g.gitLines(ctx, "diff", "--name-only", rangeSpec)
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		fmt.Fprintf(&sb, "Changed Files (%d):\n", len(files))
		for _, f := range files {
			fmt.Fprintf(&sb, "  %s\n", f)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Changed Files: None\n\n")
	}

	stats, err := g.gitLines(ctx, "diff", "--stat", rangeSpec)
	if err != nil {
		return "", err
	}
	if len(stats) > 0 {
		fmt.Fprintf(&sb, "Diff Stats:\n%s\n\n", strings.Join(stats, "\n"))
	}

	commits, err := g.gitLines(ctx, "log", "--oneline", rangeSpec)
	if err != nil {
		return "", err
	}
	if len(commits) > 0 {
		fmt.Fprintf(&sb, "Commits (%d):\n", len(commits))
		for _, c := range commits {
			fmt.Fprintf(&sb, "  %s\n", c)
		}
	}

	return sb.String(), nil
}

func (g *ApprovalGate) gitLines(ctx context.Context, args ...string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}

	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimRight(line, " \r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// showDiff writes the full diff between base and head
func (g *ApprovalGate) showDiff(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "diff", g.baseRef+".."+g.headRef)
	cmd.Dir = g.repoPath
	cmd.Stdout = g.out
	cmd.Stderr = g.out
	return cmd.Run()
}
