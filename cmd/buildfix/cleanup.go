package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/buildfix/internal/git"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up orphaned fix branches",
	Long: `Delete orphaned fix branches that have no associated worktree.

Fix branches (buildfix/*) are created for every bug group and deleted when the
group fails, but a run that is interrupted can leave them behind. Branches kept
for inspection after a merge conflict are also removed once they pass the
retention period.

By default, only branches older than cleanup.retention_days (7) are deleted.

Examples:
  buildfix cleanup                       # Clean up branches older than 7 days
  buildfix cleanup --retention-days 14   # Clean up branches older than 14 days
  buildfix cleanup --dry-run             # Preview what would be deleted`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		repo, _ := cmd.Flags().GetString("repo")

		repoPath, err := resolveRepo(repo)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(repoPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("retention-days") {
			cfg.Cleanup.RetentionDays, _ = cmd.Flags().GetInt("retention-days")
			if err := cfg.Cleanup.Validate(); err != nil {
				return err
			}
		}

		ctx := context.Background()
		gitOps, err := git.NewGit(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize git: %w", err)
		}

		if dryRun {
			fmt.Printf("%s\n", color.YellowString("DRY RUN MODE - No branches will be deleted"))
		}
		fmt.Printf("Scanning for orphaned fix branches (retention: %d days)...\n\n", cfg.Cleanup.RetentionDays)

		summary, err := gitOps.GetOrphanedBranchSummary(ctx, repoPath)
		if err != nil {
			return err
		}
		fmt.Println(summary)

		deleted, err := gitOps.CleanupOrphanedBranches(ctx, repoPath, cfg.Cleanup.Retention(), dryRun)
		if err != nil {
			return fmt.Errorf("branch cleanup failed: %w", err)
		}

		fmt.Println()
		if dryRun {
			for _, b := range deleted {
				fmt.Printf("  would delete %s (%s old)\n", b.Name, formatAge(b.Age.Hours()))
			}
			fmt.Printf("Would delete %d orphaned branch(es)\n", len(deleted))
			fmt.Printf("Run without --dry-run to perform cleanup\n")
			return nil
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted %d orphaned branch(es)\n", green("✓"), len(deleted))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "Preview deletions without deleting")
	cleanupCmd.Flags().Int("retention-days", 7, "Delete branches older than N days")
	cleanupCmd.Flags().String("repo", ".", "Repository to clean up")
	rootCmd.AddCommand(cleanupCmd)
}

// formatAge renders an age given in hours as minutes, hours or days
func formatAge(hours float64) string {
	switch {
	case hours < 1:
		return fmt.Sprintf("%dm", int(hours*60))
	case hours < 48:
		return fmt.Sprintf("%.0fh", hours)
	default:
		return fmt.Sprintf("%.1fd", hours/24)
	}
}
