package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/buildfix/internal/ai"
	"github.com/steveyegge/buildfix/internal/diagnostics"
	"github.com/steveyegge/buildfix/internal/gates"
	"github.com/steveyegge/buildfix/internal/git"
	"github.com/steveyegge/buildfix/internal/patch"
	"github.com/steveyegge/buildfix/internal/types"
)

const checkpointMessage = "buildfix: checkpoint"

// Evaluator rates an applied patch. *ai.Critic is the production implementation.
type Evaluator interface {
	Evaluate(ctx context.Context, req ai.CritiqueRequest) (*types.CriticEvaluation, error)
}

// AttemptRequest describes one candidate patch to try
type AttemptRequest struct {
	Agent    *types.BugAgent
	WorkDir  string // Checkout the attempt runs in
	Base     string // Commit the agent's branch must start from
	Patch    string
	Settings types.BuildSettings

	// Scoped lets a build that still fails count as success for this agent when
	// none of the remaining diagnostics are in its file and the total did not grow
	// past BaselineTotal, the number of diagnostics at Base. Off, only a passing
	// build commits.
	Scoped        bool
	BaselineTotal int

	Cache *EvaluationCache
}

// Applicator applies a candidate patch, validates it with the build oracle and
// the critic, and either commits it or restores the checkout exactly.
type Applicator struct {
	git     git.Operations
	builder gates.BuildOracle
	critic  Evaluator
	parser  diagnostics.Parser
	logger  *zap.Logger
}

// NewApplicator creates an applicator. critic may be nil, in which case every
// evaluation is unavailable.
func NewApplicator(gitOps git.Operations, builder gates.BuildOracle, critic Evaluator, parser diagnostics.Parser, logger *zap.Logger) *Applicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applicator{
		git:     gitOps,
		builder: builder,
		critic:  critic,
		parser:  parser,
		logger:  logger.Named("applicator"),
	}
}

// Attempt runs one apply/validate/commit-or-rollback cycle. Faults never escape:
// they are reported in AttemptOutcome.Fault after the checkout has been restored.
func (a *Applicator) Attempt(ctx context.Context, req AttemptRequest) *types.AttemptOutcome {
	start := time.Now()
	agent := req.Agent
	file := agent.FilePath()
	out := &types.AttemptOutcome{AgentID: agent.ID, Patch: req.Patch}
	defer func() { out.Duration = time.Since(start) }()

	log := a.logger.With(zap.String("agent", agent.ID), zap.String("file", file))

	if err := a.position(ctx, req.WorkDir, agent.BranchName, req.Base); err != nil {
		a.fault(ctx, req.WorkDir, "", "", out, err)
		return out
	}

	anchor, err := a.git.RevParse(ctx, req.WorkDir, "HEAD")
	if err != nil {
		a.fault(ctx, req.WorkDir, "", "", out, err)
		return out
	}
	checkpoint, err := a.git.CommitChanges(ctx, req.WorkDir, git.CommitOptions{
		Message:    checkpointMessage,
		AddAll:     true,
		AllowEmpty: true,
	})
	if err != nil {
		a.fault(ctx, req.WorkDir, "", "", out, fmt.Errorf("checkpoint failed: %w", err))
		return out
	}

	if err := patch.ApplyToFile(req.WorkDir, file, req.Patch); err != nil {
		a.fault(ctx, req.WorkDir, anchor, checkpoint, out, fmt.Errorf("patch apply failed: %w", err))
		return out
	}

	build := a.builder.Run(ctx, req.WorkDir, req.Settings)
	out.BuildPassed = build.Passed
	out.BuildOutput = build.Output
	if !build.Passed {
		all := a.parser.Parse(build.Output)
		out.TotalErrors = len(all)
		out.Remaining = diagnostics.FilterFile(all, file)
	}

	if err := ctx.Err(); err != nil {
		a.fault(ctx, req.WorkDir, anchor, checkpoint, out, err)
		return out
	}

	out.Evaluation = a.evaluate(ctx, req, build, log)

	out.Success = build.Passed ||
		(req.Scoped && len(out.Remaining) == 0 && out.TotalErrors > 0 && out.TotalErrors <= req.BaselineTotal)

	if !out.Success {
		if err := a.rollback(ctx, req.WorkDir, anchor, checkpoint); err != nil {
			out.Fault = err
		}
		log.Debug("attempt failed",
			zap.Int("remaining", len(out.Remaining)),
			zap.Int("total_errors", out.TotalErrors),
			zap.Int("rating", rating(out.Evaluation)))
		return out
	}

	// Drop build artifacts, then fold the checkpoint away so the branch only
	// gains the fix commit
	if err := a.git.Clean(ctx, req.WorkDir); err != nil {
		a.fault(ctx, req.WorkDir, anchor, checkpoint, out, err)
		return out
	}
	if err := a.git.Reset(ctx, req.WorkDir, git.ResetMixed, anchor); err != nil {
		a.fault(ctx, req.WorkDir, anchor, checkpoint, out, err)
		return out
	}
	ref, err := a.git.CommitChanges(ctx, req.WorkDir, git.CommitOptions{
		Message: CommitMessage(file, out.Evaluation, agent),
		Paths:   []string{file},
	})
	if err == nil && ref == "" {
		err = fmt.Errorf("nothing to commit for %s", file)
	}
	if err != nil {
		a.fault(ctx, req.WorkDir, anchor, checkpoint, out, fmt.Errorf("commit failed: %w", err))
		return out
	}

	out.CommitRef = ref
	log.Info("fix committed",
		zap.String("commit", shortRef(ref)),
		zap.Bool("build_passed", out.BuildPassed),
		zap.Int("rating", rating(out.Evaluation)))
	return out
}

// Stage re-applies patch at base on the agent's branch as a provisional commit
// and returns its ref. On failure the branch is returned to base.
func (a *Applicator) Stage(ctx context.Context, agent *types.BugAgent, workDir, base, patchText string) (string, error) {
	if err := a.position(ctx, workDir, agent.BranchName, base); err != nil {
		return "", err
	}
	file := agent.FilePath()
	if err := patch.ApplyToFile(workDir, file, patchText); err != nil {
		_ = a.git.Reset(ctx, workDir, git.ResetHard, base)
		return "", fmt.Errorf("failed to stage patch: %w", err)
	}
	ref, err := a.git.CommitChanges(ctx, workDir, git.CommitOptions{
		Message: fmt.Sprintf("buildfix: provisional fix for %s", file),
		Paths:   []string{file},
	})
	if err == nil && ref == "" {
		err = fmt.Errorf("nothing to commit for %s", file)
	}
	if err != nil {
		_ = a.git.Reset(ctx, workDir, git.ResetHard, base)
		return "", fmt.Errorf("failed to stage patch: %w", err)
	}
	return ref, nil
}

// Verify builds ref in workDir with the same checkpoint and rollback as an
// attempt, so the checkout is left on ref exactly as it was found.
func (a *Applicator) Verify(ctx context.Context, workDir, ref string, settings types.BuildSettings) (*gates.Result, error) {
	head, err := a.git.RevParse(ctx, workDir, "HEAD")
	if err != nil {
		return nil, err
	}
	if head != ref {
		if err := a.git.Checkout(ctx, workDir, ref, git.CheckoutOptions{}); err != nil {
			return nil, fmt.Errorf("failed to check out %s: %w", shortRef(ref), err)
		}
	}
	checkpoint, err := a.git.CommitChanges(ctx, workDir, git.CommitOptions{
		Message:    checkpointMessage,
		AddAll:     true,
		AllowEmpty: true,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("checkpoint failed: %w", err), a.rollback(ctx, workDir, ref, ""))
	}
	build := a.builder.Run(ctx, workDir, settings)
	if err := a.rollback(ctx, workDir, ref, checkpoint); err != nil {
		return build, err
	}
	return build, build.Error
}

// position checks out the agent's branch and moves it to base
func (a *Applicator) position(ctx context.Context, workDir, branch, base string) error {
	if err := a.git.Checkout(ctx, workDir, branch, git.CheckoutOptions{Create: true, StartPoint: base}); err != nil {
		return err
	}
	if base == "" {
		return nil
	}
	head, err := a.git.RevParse(ctx, workDir, "HEAD")
	if err != nil {
		return err
	}
	want, err := a.git.RevParse(ctx, workDir, base)
	if err != nil {
		return err
	}
	if head != want {
		return a.git.Reset(ctx, workDir, git.ResetHard, want)
	}
	return nil
}

// evaluate scores the patch through the cache; any critic failure yields nil
func (a *Applicator) evaluate(ctx context.Context, req AttemptRequest, build *gates.Result, log *zap.Logger) *types.CriticEvaluation {
	if a.critic == nil {
		return nil
	}
	file := req.Agent.FilePath()
	critique := func(ctx context.Context) (*types.CriticEvaluation, error) {
		return a.critic.Evaluate(ctx, ai.CritiqueRequest{
			FilePath:    file,
			Patch:       req.Patch,
			Errors:      req.Agent.Errors,
			BuildPassed: build.Passed,
			BuildOutput: build.Output,
		})
	}

	var eval *types.CriticEvaluation
	var err error
	if req.Cache != nil {
		eval, err = req.Cache.Evaluate(ctx, file, req.Patch, critique)
	} else {
		eval, err = critique(ctx)
	}
	if err != nil {
		log.Warn("critic unavailable", zap.Error(err))
		return nil
	}
	return eval
}

// rollback restores the checkout to the state captured by the checkpoint and
// removes the checkpoint commit, leaving its changes in the working tree.
// Untracked files that appeared after the checkpoint are deleted; ignored
// files are left alone.
func (a *Applicator) rollback(ctx context.Context, workDir, anchor, checkpoint string) error {
	if checkpoint == "" {
		// Nothing was applied; only a half-made checkpoint may have touched the index
		return a.git.Reset(context.WithoutCancel(ctx), workDir, git.ResetMixed, "HEAD")
	}
	// Use a fresh context so cancellation cannot leave the checkout half restored
	rctx := context.WithoutCancel(ctx)
	var errs []error
	if err := a.git.Reset(rctx, workDir, git.ResetHard, checkpoint); err != nil {
		errs = append(errs, err)
	}
	// Everything untracked at checkpoint time is in the checkpoint commit now
	if err := a.git.Clean(rctx, workDir); err != nil {
		errs = append(errs, err)
	}
	if err := a.git.Reset(rctx, workDir, git.ResetMixed, anchor); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("rollback failed: %w", errors.Join(errs...))
	}
	return nil
}

func (a *Applicator) fault(ctx context.Context, workDir, anchor, checkpoint string, out *types.AttemptOutcome, err error) {
	out.Success = false
	out.Evaluation = nil
	out.CommitRef = ""
	if rbErr := a.rollback(ctx, workDir, anchor, checkpoint); rbErr != nil {
		err = errors.Join(err, rbErr)
	}
	out.Fault = err
	a.logger.Warn("attempt faulted", zap.String("agent", out.AgentID), zap.Error(err))
}

// CommitMessage formats the permanent commit message for a fix
func CommitMessage(file string, eval *types.CriticEvaluation, agent *types.BugAgent) string {
	return fmt.Sprintf("fix(%s): %s", file, summarize(eval, agent))
}

func summarize(eval *types.CriticEvaluation, agent *types.BugAgent) string {
	if eval != nil && eval.Summary != "" {
		return eval.Summary
	}
	return fmt.Sprintf("resolve %d build error(s)", len(agent.Errors))
}

func rating(eval *types.CriticEvaluation) int {
	if eval == nil {
		return 0
	}
	return eval.Rating
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
