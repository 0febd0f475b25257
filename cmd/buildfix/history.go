package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/buildfix/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past resolution runs",
	Long: `Show recent resolution runs, newest first.

With a run ID (or a unique prefix of one), list every patch attempt of that run.

Examples:
  buildfix history              # Last 20 runs
  buildfix history --limit 5    # Last 5 runs
  buildfix history 3f2a9c1e     # Attempts of one run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		repo, _ := cmd.Flags().GetString("repo")

		repoPath, err := resolveRepo(repo)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(repoPath)
		if err != nil {
			return err
		}
		if !cfg.History.Enabled {
			return fmt.Errorf("run history is disabled (history.enabled: false)")
		}

		ctx := context.Background()
		store, err := openHistory(ctx, cfg, repoPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(os.Stdout, runs)
			return nil
		}

		runs, err := store.ListRuns(ctx, 1000)
		if err != nil {
			return err
		}
		run, err := findRun(runs, args[0])
		if err != nil {
			return err
		}
		attempts, err := store.GetAttempts(ctx, run.ID)
		if err != nil {
			return err
		}
		printRuns(os.Stdout, []*types.ResolutionRun{run})
		fmt.Println()
		printAttempts(os.Stdout, attempts)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().String("repo", ".", "Repository whose history to show")
	rootCmd.AddCommand(historyCmd)
}

// findRun returns the run whose ID starts with prefix; the prefix must be unambiguous
func findRun(runs []*types.ResolutionRun, prefix string) (*types.ResolutionRun, error) {
	var match *types.ResolutionRun
	for _, run := range runs {
		if !strings.HasPrefix(run.ID, prefix) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run ID prefix %q is ambiguous", prefix)
		}
		match = run
	}
	if match == nil {
		return nil, fmt.Errorf("no run matches %q", prefix)
	}
	return match, nil
}

func printRuns(w io.Writer, runs []*types.ResolutionRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	for _, run := range runs {
		duration := "running"
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s  %s  %-10s  %d/%d resolved  %s  %s\n",
			shortRef(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			statusColor(run.Status).Sprint(run.Status),
			run.Resolved, run.AgentCount,
			duration,
			gray(run.Summary))
	}
}

func printAttempts(w io.Writer, attempts []*types.AttemptRecord) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No attempts recorded.")
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	for _, a := range attempts {
		mark := red("✗")
		if a.Success {
			mark = green("✓")
		}
		rating := "-"
		if a.Rating != nil {
			rating = fmt.Sprintf("%d/5", *a.Rating)
		}
		indent := strings.Repeat("  ", a.Depth)
		fmt.Fprintf(w, "%s%s %-8s %s  errors %d -> %d  rating %s",
			indent, mark, a.AgentID, a.FilePath, a.ErrorsBefore, a.ErrorsAfter, rating)
		if a.CommitRef != "" {
			fmt.Fprintf(w, "  %s", shortRef(a.CommitRef))
		}
		fmt.Fprintln(w)
	}
}

func statusColor(status types.RunStatus) *color.Color {
	switch status {
	case types.RunStatusResolved:
		return color.New(color.FgGreen)
	case types.RunStatusUnresolved:
		return color.New(color.FgYellow)
	case types.RunStatusFailed:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}
