package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/buildfix/internal/ai"
	"github.com/steveyegge/buildfix/internal/config"
	"github.com/steveyegge/buildfix/internal/deps"
	"github.com/steveyegge/buildfix/internal/gates"
	"github.com/steveyegge/buildfix/internal/git"
	"github.com/steveyegge/buildfix/internal/resolver"
	"github.com/steveyegge/buildfix/internal/storage"
	"github.com/steveyegge/buildfix/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Fix the errors of a failing build",
	Long: `Resolve the errors of a failing build.

The command will:
1. Run the build (or read its output from --output-file)
2. Install missing packages when that alone fixes the build
3. Group the errors by file and generate candidate patches for each file
4. Apply, rebuild, and critique each candidate on its own branch
5. Show the combined fixes and merge them into the current branch once approved

The working tree must be clean before running.

Examples:
  buildfix resolve                          # Build, then fix
  npm run build 2>&1 | buildfix resolve -o -  # Fix captured output
  buildfix resolve --parallel 4 --yes       # Four agents at once, merge without asking`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output-file")
		repo, _ := cmd.Flags().GetString("repo")
		yes, _ := cmd.Flags().GetBool("yes")
		parallel, _ := cmd.Flags().GetInt("parallel")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")

		repoPath, err := resolveRepo(repo)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(repoPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("parallel") {
			cfg.Search.Parallelism = parallel
		}
		if cmd.Flags().Changed("max-depth") {
			cfg.Search.MaxDepth = maxDepth
		}
		if yes {
			cfg.AutoApprove = true
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger.Debug("configuration loaded", zap.Stringer("config", cfg))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runResolve(ctx, cmd, cfg, repoPath, outputFile)
	},
}

func init() {
	resolveCmd.Flags().StringP("output-file", "o", "", "Read build output from file (\"-\" for stdin) instead of running the build")
	resolveCmd.Flags().String("repo", ".", "Repository to fix")
	resolveCmd.Flags().BoolP("yes", "y", false, "Merge fixes without asking")
	resolveCmd.Flags().IntP("parallel", "p", 1, "Number of agents to run concurrently")
	resolveCmd.Flags().Int("max-depth", 3, "Recursion bound for promising partial fixes")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(ctx context.Context, cmd *cobra.Command, cfg *config.Config, repoPath, outputFile string) error {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	gitOps, err := git.NewGit(ctx)
	if err != nil {
		return err
	}
	dirty, err := gitOps.HasUncommittedChanges(ctx, repoPath)
	if err != nil {
		return fmt.Errorf("failed to check working tree: %w", err)
	}
	if dirty {
		return fmt.Errorf("working tree has uncommitted changes; commit or stash them first")
	}

	baseBranch, err := gitOps.CurrentBranch(ctx, repoPath)
	if err != nil {
		return err
	}
	if baseBranch == "HEAD" {
		return fmt.Errorf("HEAD is detached; check out a branch first")
	}

	research, err := cfg.Research(repoPath)
	if err != nil {
		return err
	}
	pctx := &types.ProjectContext{
		RepoPath:   repoPath,
		BaseBranch: baseBranch,
		Settings:   cfg.BuildSettings(),
		Research:   research,
	}

	builder := gates.NewCommandBuilder(logger)

	var buildOutput string
	if outputFile != "" {
		buildOutput, err = readBuildOutput(outputFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
	} else {
		fmt.Printf("Running build in %s...\n", cyan(repoPath))
		res := builder.Run(ctx, repoPath, pctx.Settings)
		if res.Error != nil {
			return res.Error
		}
		if res.Passed {
			fmt.Printf("%s Build already passes, nothing to fix\n", green("✓"))
			return nil
		}
		buildOutput = res.Output
	}

	history, err := openHistory(ctx, cfg, repoPath)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	r, err := newResolver(cfg, gitOps, builder, history)
	if err != nil {
		return err
	}

	result, runErr := r.ResolveRun(ctx, buildOutput, pctx)
	var unresolved *resolver.UnresolvedError
	if runErr != nil && !errors.As(runErr, &unresolved) {
		return runErr
	}

	fmt.Println()
	for _, desc := range result.Descriptions {
		fmt.Printf("  %s %s\n", green("✓"), desc)
	}
	if unresolved != nil {
		for _, file := range unresolved.Files {
			fmt.Printf("  %s %s\n", red("✗"), file)
		}
		if result.FinalRef != "" {
			fmt.Printf("\n%s Partial fixes are at %s; %s was not changed\n", yellow("!"), shortRef(result.FinalRef), pctx.BaseBranch)
		}
		return unresolved
	}

	if result.FinalRef == "" {
		switch {
		case len(result.Packages) > 0:
			fmt.Printf("\n%s Installed packages; review and commit the manifest changes\n", green("✓"))
		case len(result.Descriptions) == 0:
			fmt.Printf("%s No build errors could be parsed from the output\n", yellow("!"))
		}
		return nil
	}

	merged, err := mergeFixes(ctx, gitOps, builder, cfg, pctx, result)
	if err != nil {
		return err
	}
	if merged {
		fmt.Printf("\n%s Merged fixes into %s (%s)\n", green("✓"), cyan(pctx.BaseBranch), shortRef(result.FinalRef))
	} else {
		fmt.Printf("\n%s Fixes not merged; they remain at %s\n", yellow("!"), shortRef(result.FinalRef))
	}

	if cfg.Cleanup.AfterRun {
		removed, err := gitOps.CleanupOrphanedBranches(ctx, repoPath, cfg.Cleanup.Retention(), false)
		if err != nil {
			logger.Warn("branch cleanup failed", zap.Error(err))
		} else if len(removed) > 0 {
			fmt.Printf("Removed %d stale fix branch(es)\n", len(removed))
		}
	}
	return nil
}

// newResolver wires the oracles, build gate, dependency assessor and history into a Resolver
func newResolver(cfg *config.Config, gitOps git.Operations, builder gates.BuildOracle, history storage.HistoryStore) (*resolver.Resolver, error) {
	supervisor, err := ai.NewSupervisor(&ai.Config{
		APIKey:            cfg.APIKey,
		Model:             cfg.AI.Model,
		Retry:             cfg.AI.Retry,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI supervisor: %w", err)
	}

	oracle := ai.NewSelfConsistency(supervisor, ai.ConsistencyConfig{
		JudgeModel:      cfg.AI.CriticModel,
		RefineThreshold: cfg.AI.RefineThreshold,
		MaxRefinements:  cfg.AI.MaxRefinements,
		Logger:          logger,
	})
	ensemble := cfg.AI.Ensemble
	if len(ensemble) == 0 {
		ensemble = ai.DefaultEnsemble()
	}
	generator, err := resolver.NewFixGenerator(resolver.GeneratorConfig{
		Oracle:   oracle,
		Ensemble: ensemble,
		MaxFixes: cfg.Search.MaxFixesPerBug,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	installer, err := deps.NewCommandInstaller(cfg.Build.PackageManager, cfg.Build.Env, logger)
	if err != nil {
		return nil, err
	}
	assessor, err := deps.NewAssessor(deps.AssessorConfig{
		Caller:    supervisor,
		Installer: installer,
		Builder:   builder,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return resolver.New(resolver.Config{
		Git:              gitOps,
		Builder:          builder,
		Generator:        generator,
		Critic:           ai.NewCritic(supervisor, cfg.AI.CriticModel),
		Assessor:         assessor,
		History:          history,
		MaxDepth:         cfg.Search.MaxDepth,
		Parallelism:      cfg.Search.Parallelism,
		ArenaRoot:        cfg.Search.ArenaRoot,
		EscalateUnparsed: cfg.Search.EscalateUnparsed,
		ScopedSuccess:    cfg.Search.ScopedSuccess,
		Logger:           logger,
	})
}

// mergeFixes rebuilds at the final ref, asks for approval, and fast-forwards
// the base branch. It reports whether the fixes were merged; a final ref that
// does not build is never merged.
func mergeFixes(ctx context.Context, gitOps *git.Git, builder gates.BuildOracle, cfg *config.Config, pctx *types.ProjectContext, result *resolver.RunResult) (bool, error) {
	repo := pctx.RepoPath

	if err := gitOps.Checkout(ctx, repo, result.FinalRef, git.CheckoutOptions{}); err != nil {
		return false, fmt.Errorf("failed to check out fixes: %w", err)
	}
	build := builder.Run(ctx, repo, pctx.Settings)
	if err := gitOps.Checkout(context.WithoutCancel(ctx), repo, pctx.BaseBranch, git.CheckoutOptions{}); err != nil {
		return false, fmt.Errorf("failed to return to %s: %w", pctx.BaseBranch, err)
	}
	if build.Error != nil {
		return false, build.Error
	}
	if !build.Passed {
		return false, fmt.Errorf("build still fails at %s; %s was not changed", shortRef(result.FinalRef), pctx.BaseBranch)
	}

	gate, err := gates.NewApprovalGate(&gates.ApprovalConfig{
		RepoPath:    repo,
		BaseRef:     pctx.BaseBranch,
		HeadRef:     result.FinalRef,
		Results:     []*gates.Result{build},
		AutoApprove: cfg.AutoApprove,
	})
	if err != nil {
		return false, err
	}
	approval := gate.Run(ctx)
	if approval.Error != nil {
		return false, approval.Error
	}
	if !approval.Passed {
		return false, nil
	}

	if err := gitOps.MergeFastForward(ctx, repo, result.FinalRef); err != nil {
		return false, fmt.Errorf("failed to merge fixes: %w", err)
	}
	return true, nil
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
