// Package resolver implements the build-error resolution search.
//
// A run parses the failing build output into per-file bug agents and resolves
// each agent with a bounded tree search: candidate patches are generated,
// applied and validated one at a time; a patch that makes the build pass is
// committed, a patch the critic likes that fixes some of the file's errors is
// staged and searched further by a sub-agent, and everything else is rolled
// back so the checkout is left exactly as it was.
//
// Agents run sequentially over one checkout by default, each starting from the
// commit the previous successful agent produced. With Parallelism > 1 every
// agent gets its own worktree and the successful fixes are cherry-picked back
// in agent order.
//
// A fix is committed only when the build passes, unless ScopedSuccess is set.
// Whenever the final commit has not itself been built (scoped fixes or a
// parallel merge), the run rebuilds it and demotes the fixes that do not hold.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/buildfix/internal/deps"
	"github.com/steveyegge/buildfix/internal/diagnostics"
	"github.com/steveyegge/buildfix/internal/gates"
	"github.com/steveyegge/buildfix/internal/git"
	"github.com/steveyegge/buildfix/internal/sandbox"
	"github.com/steveyegge/buildfix/internal/storage"
	"github.com/steveyegge/buildfix/internal/types"
)

// DefaultMaxDepth bounds the recursion of promising partial fixes
const DefaultMaxDepth = 3

// promisingRating is the critic rating a failed attempt must exceed to be searched further
const promisingRating = 3

const outputSampleLimit = 2000

// DependencyAssessor is the dependency fast path. *deps.Assessor implements it.
type DependencyAssessor interface {
	Assess(ctx context.Context, buildOutput string, pctx *types.ProjectContext) (*deps.Assessment, error)
}

// Config configures a Resolver
type Config struct {
	Git       git.Operations    // Required
	Builder   gates.BuildOracle // Required
	Generator CandidateGenerator
	Critic    Evaluator          // Optional; nil makes every evaluation unavailable
	Parser    diagnostics.Parser // Optional; defaults to the parser for the project's toolchain
	Assessor  DependencyAssessor // Optional dependency fast path
	History   storage.HistoryStore

	MaxDepth int // Defaults to DefaultMaxDepth

	// Parallelism > 1 resolves agents concurrently in separate worktrees
	Parallelism int
	// ArenaRoot is where worktrees are created; defaults to a temporary directory
	ArenaRoot string

	// EscalateUnparsed makes a failing build with no parsable diagnostics an error
	// (ErrUnparsedOutput) instead of a vacuous success
	EscalateUnparsed bool

	// ScopedSuccess commits a fix that clears its own file while other files
	// still fail, so per-file agents can make progress on a multi-file failure
	ScopedSuccess bool

	Logger *zap.Logger
}

// Resolver runs resolution searches. It is safe for concurrent use; runs
// against the same checkout are serialized.
type Resolver struct {
	git              git.Operations
	builder          gates.BuildOracle
	generator        CandidateGenerator
	critic           Evaluator
	parser           diagnostics.Parser
	assessor         DependencyAssessor
	history          storage.HistoryStore
	maxDepth         int
	parallelism      int
	arenaRoot        string
	escalateUnparsed bool
	scopedSuccess    bool
	logger           *zap.Logger
}

// RunResult is the outcome of one resolution run
type RunResult struct {
	RunID string
	// Descriptions has one entry per resolved agent, in agent order
	Descriptions []string
	// FinalRef is the commit holding every committed fix ("" when nothing was committed)
	FinalRef string
	// BaseRef is the commit the run started from
	BaseRef string
	Agents  []*types.BugAgent
	// Packages lists dependencies installed by the fast path
	Packages []string
}

// agentResult is the outcome of resolving one agent (and its sub-agents)
type agentResult struct {
	success     bool
	description string
	commitRef   string
	buildOutput string
	buildPassed bool
	totalErrors int
}

// runState is threaded through one run
type runState struct {
	id       string
	pctx     *types.ProjectContext
	cache    *EvaluationCache
	parser   diagnostics.Parser
	applier  *Applicator
	attempts int
	mu       sync.Mutex
}

var checkoutLocks sync.Map // absolute repo path -> *sync.Mutex

func lockCheckout(repoPath string) func() {
	key := repoPath
	if abs, err := filepath.Abs(repoPath); err == nil {
		key = abs
	}
	v, _ := checkoutLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// New creates a Resolver
func New(cfg Config) (*Resolver, error) {
	if cfg.Git == nil {
		return nil, fmt.Errorf("git operations are required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("build oracle is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("candidate generator is required")
	}
	r := &Resolver{
		git:              cfg.Git,
		builder:          cfg.Builder,
		generator:        cfg.Generator,
		critic:           cfg.Critic,
		parser:           cfg.Parser,
		assessor:         cfg.Assessor,
		history:          cfg.History,
		maxDepth:         cfg.MaxDepth,
		parallelism:      cfg.Parallelism,
		arenaRoot:        cfg.ArenaRoot,
		escalateUnparsed: cfg.EscalateUnparsed,
		scopedSuccess:    cfg.ScopedSuccess,
		logger:           cfg.Logger,
	}
	if r.maxDepth <= 0 {
		r.maxDepth = DefaultMaxDepth
	}
	if r.parallelism <= 0 {
		r.parallelism = 1
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("resolver")
	return r, nil
}

// Resolve repairs the build described by buildOutput and returns one description
// per applied fix. When some bug groups stay broken it returns *UnresolvedError.
func (r *Resolver) Resolve(ctx context.Context, buildOutput string, pctx *types.ProjectContext) ([]string, error) {
	result, err := r.ResolveRun(ctx, buildOutput, pctx)
	if err != nil {
		return nil, err
	}
	return result.Descriptions, nil
}

// ResolveRun is Resolve with the full run result. On *UnresolvedError the
// result still describes the agents that were resolved.
func (r *Resolver) ResolveRun(ctx context.Context, buildOutput string, pctx *types.ProjectContext) (*RunResult, error) {
	if pctx == nil || pctx.RepoPath == "" {
		return nil, fmt.Errorf("project context with a repository path is required")
	}

	parser := r.parser
	if parser == nil {
		p, err := diagnostics.ForToolchain(pctx.Settings.Toolchain)
		if err != nil {
			return nil, err
		}
		parser = p
	}

	unlock := lockCheckout(pctx.RepoPath)
	defer unlock()

	st := &runState{
		id:      uuid.NewString(),
		pctx:    pctx,
		cache:   NewEvaluationCache(),
		parser:  parser,
		applier: NewApplicator(r.git, r.builder, r.critic, parser, r.logger),
	}
	result := &RunResult{RunID: st.id, Descriptions: []string{}}
	run := &types.ResolutionRun{
		ID:         st.id,
		RepoPath:   pctx.RepoPath,
		BaseBranch: pctx.BaseBranch,
		Status:     types.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	r.recordRun(ctx, run)

	log := r.logger.With(zap.String("run", st.id))

	err := r.resolve(ctx, st, buildOutput, result, log)

	run.AgentCount = len(result.Agents)
	run.Resolved = len(result.Descriptions)
	var unresolved *UnresolvedError
	switch {
	case err == nil:
		run.Status = types.RunStatusResolved
		run.Summary = fmt.Sprintf("%d fix(es) applied", len(result.Descriptions))
	case errors.As(err, &unresolved):
		run.Status = types.RunStatusUnresolved
		run.Summary = err.Error()
	default:
		run.Status = types.RunStatusFailed
		run.Summary = err.Error()
	}
	r.finishRun(ctx, run)

	stats := st.cache.Stats()
	log.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("agents", run.AgentCount),
		zap.Int("resolved", run.Resolved),
		zap.Int("attempts", st.attempts),
		zap.Int64("cache_hits", stats.Hits))
	return result, err
}

func (r *Resolver) resolve(ctx context.Context, st *runState, buildOutput string, result *RunResult, log *zap.Logger) error {
	output := buildOutput
	if r.assessor != nil {
		assessment, err := r.assessor.Assess(ctx, output, st.pctx)
		if err != nil {
			return err
		}
		result.Packages = assessment.Packages
		if assessment.Resolved {
			log.Info("build fixed by installing packages", zap.Strings("packages", assessment.Packages))
			result.Descriptions = []string{assessment.Description()}
			return nil
		}
		output = assessment.Output
	}

	records := st.parser.Parse(output)
	agents := BuildAgents(records)
	result.Agents = agents
	if len(agents) == 0 {
		if r.escalateUnparsed && strings.TrimSpace(output) != "" {
			return ErrUnparsedOutput
		}
		log.Info("no diagnostics parsed, nothing to resolve")
		return nil
	}
	for _, agent := range agents {
		if err := agent.Validate(); err != nil {
			return err
		}
	}

	repo := st.pctx.RepoPath
	startBranch, err := r.git.CurrentBranch(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to read current branch: %w", err)
	}
	baseRef, err := r.git.RevParse(ctx, repo, "HEAD")
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if startBranch == "HEAD" {
		startBranch = baseRef
	}
	result.BaseRef = baseRef

	log.Info("resolving build errors",
		zap.Int("errors", len(records)),
		zap.Int("agents", len(agents)),
		zap.Int("parallelism", r.parallelism))

	var results []agentResult
	built := false
	if r.parallelism > 1 && len(agents) > 1 {
		results, result.FinalRef, err = r.resolveParallel(ctx, st, agents, baseRef, len(records))
	} else {
		results, result.FinalRef, built = r.resolveSequential(ctx, st, agents, baseRef, len(records))
	}
	if err == nil && result.FinalRef != "" && !built {
		err = r.verifyFinal(ctx, st, agents, results, result.FinalRef, log)
	}

	// Leave the checkout where the caller had it
	rctx := context.WithoutCancel(ctx)
	if coErr := r.git.Checkout(rctx, repo, startBranch, git.CheckoutOptions{}); coErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to restore %s: %w", startBranch, coErr))
	}
	if err != nil {
		return err
	}

	var failed []string
	for i, res := range results {
		if res.success {
			result.Descriptions = append(result.Descriptions, res.description)
			continue
		}
		failed = append(failed, agents[i].FilePath())
		if agents[i].CommitRef != "" {
			// Fixed in isolation but conflicted on merge; keep it for inspection
			continue
		}
		if delErr := r.git.DeleteBranch(rctx, repo, agents[i].BranchName); delErr != nil {
			log.Debug("failed to delete branch", zap.String("branch", agents[i].BranchName), zap.Error(delErr))
		}
	}
	if len(failed) > 0 {
		return &UnresolvedError{Unresolved: len(failed), Total: len(agents), Files: failed}
	}
	return nil
}

// resolveSequential resolves agents one after another in the main checkout.
// Each agent starts where the previous successful agent left off. It reports
// whether the build passed at the returned ref.
func (r *Resolver) resolveSequential(ctx context.Context, st *runState, agents []*types.BugAgent, baseRef string, baseline int) ([]agentResult, string, bool) {
	repo := st.pctx.RepoPath
	results := make([]agentResult, len(agents))
	position := baseRef
	finalRef := ""

	var latest *agentResult
	for i, agent := range agents {
		if err := ctx.Err(); err != nil {
			break
		}
		if latest != nil {
			if latest.buildPassed {
				results[i] = agentResult{
					success:     true,
					description: fmt.Sprintf("%s: no errors remain after earlier fixes", agent.FilePath()),
					buildPassed: true,
				}
				continue
			}
			// Line numbers may have moved; use the freshest diagnostics for this file
			if fresh := diagnostics.FilterFile(st.parser.Parse(latest.buildOutput), agent.FilePath()); len(fresh) > 0 {
				agent.Errors = fresh
			}
		}

		results[i] = r.resolveAgent(ctx, st, agent, repo, position, 0, baseline)
		if results[i].success {
			position = results[i].commitRef
			finalRef = position
			baseline = results[i].totalErrors
			latest = &results[i]
		}
	}
	return results, finalRef, latest != nil && latest.buildPassed
}

// resolveParallel resolves every agent concurrently in its own worktree at
// baseRef, then cherry-picks the successful fixes onto a run branch in agent order.
func (r *Resolver) resolveParallel(ctx context.Context, st *runState, agents []*types.BugAgent, baseRef string, baseline int) ([]agentResult, string, error) {
	repo := st.pctx.RepoPath
	arena, err := sandbox.NewArena(sandbox.Config{
		ParentRepo: repo,
		Root:       r.arenaRoot,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := arena.Close(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to close arena", zap.Error(err))
		}
	}()

	results := make([]agentResult, len(agents))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, agent := range agents {
		g.Go(func() error {
			ws, err := arena.Acquire(ctx, agent.ID, baseRef)
			if err != nil {
				r.logger.Warn("failed to acquire workspace", zap.String("agent", agent.ID), zap.Error(err))
				return nil
			}
			defer func() { _ = arena.Release(context.WithoutCancel(ctx), agent.ID) }()
			results[i] = r.resolveAgent(ctx, st, agent, ws.Path, baseRef, 0, baseline)
			return nil
		})
	}
	_ = g.Wait()

	anySuccess := false
	for _, res := range results {
		anySuccess = anySuccess || res.success
	}
	if !anySuccess {
		return results, "", nil
	}

	runBranch := fmt.Sprintf("%srun-%s", git.BranchPrefix, st.id[:8])
	if err := r.git.Checkout(ctx, repo, runBranch, git.CheckoutOptions{Create: true, StartPoint: baseRef}); err != nil {
		return results, "", fmt.Errorf("failed to create run branch: %w", err)
	}
	finalRef := ""
	for i := range results {
		if !results[i].success {
			continue
		}
		ref, err := r.git.CherryPick(ctx, repo, results[i].commitRef)
		if err != nil {
			r.logger.Warn("fix does not combine with earlier fixes",
				zap.String("agent", agents[i].ID), zap.Error(err))
			results[i].success = false
			continue
		}
		agents[i].CommitRef = ref
		finalRef = ref
	}
	return results, finalRef, nil
}

// verifyFinal builds finalRef and, when the build fails, takes success away from
// the agents whose file still has diagnostics. A failure that is not explained
// by unresolved agents alone means the fixes only break together, so every
// fixed agent is demoted.
func (r *Resolver) verifyFinal(ctx context.Context, st *runState, agents []*types.BugAgent, results []agentResult, finalRef string, log *zap.Logger) error {
	build, err := st.applier.Verify(ctx, st.pctx.RepoPath, finalRef, st.pctx.Settings)
	if err != nil {
		return fmt.Errorf("failed to build combined fixes: %w", err)
	}
	if build.Passed {
		log.Info("combined fixes build", zap.String("ref", shortRef(finalRef)))
		return nil
	}

	broken := map[string]bool{}
	for _, rec := range st.parser.Parse(build.Output) {
		broken[rec.FilePath] = true
	}
	unresolved := map[string]bool{}
	for i := range results {
		file := agents[i].FilePath()
		if results[i].success && broken[file] {
			results[i].success = false
		}
		if !results[i].success {
			unresolved[file] = true
		}
	}
	explained := len(broken) > 0
	for file := range broken {
		explained = explained && unresolved[file]
	}
	if !explained {
		for i := range results {
			results[i].success = false
		}
	}
	log.Warn("combined fixes do not build",
		zap.String("ref", shortRef(finalRef)),
		zap.Int("files_with_errors", len(broken)))
	return nil
}

// resolveAgent runs the bounded search for one agent starting at base
func (r *Resolver) resolveAgent(ctx context.Context, st *runState, agent *types.BugAgent, workDir, base string, depth, baseline int) agentResult {
	log := r.logger.With(zap.String("agent", agent.ID), zap.String("file", agent.FilePath()), zap.Int("depth", depth))
	if depth >= r.maxDepth {
		log.Info("maximum depth reached")
		return agentResult{}
	}

	if len(agent.CandidateFixes) == 0 {
		// Generation reads the file at base, so move there first
		if err := st.applier.position(ctx, workDir, agent.BranchName, base); err != nil {
			log.Warn("failed to position agent", zap.Error(err))
			return agentResult{}
		}
		fixes, err := r.generator.Generate(ctx, agent, workDir, st.pctx)
		if err != nil {
			log.Warn("candidate generation failed", zap.Error(err))
		}
		agent.CandidateFixes = fixes
	}
	if len(agent.CandidateFixes) == 0 {
		log.Info("no candidate fixes")
		return agentResult{}
	}

	for i, candidate := range agent.CandidateFixes {
		if ctx.Err() != nil {
			return agentResult{}
		}
		out := st.applier.Attempt(ctx, AttemptRequest{
			Agent:         agent,
			WorkDir:       workDir,
			Base:          base,
			Patch:         candidate,
			Settings:      st.pctx.Settings,
			Scoped:        r.scopedSuccess,
			BaselineTotal: baseline,
			Cache:         st.cache,
		})
		r.recordAttempt(ctx, st, agent, out)
		agent.BuildOutput = out.BuildOutput

		if out.Success {
			agent.AppliedFix = candidate
			agent.CommitRef = out.CommitRef
			return agentResult{
				success:     true,
				description: CommitMessage(agent.FilePath(), out.Evaluation, agent),
				commitRef:   out.CommitRef,
				buildOutput: out.BuildOutput,
				buildPassed: out.BuildPassed,
				totalErrors: out.TotalErrors,
			}
		}

		if !promising(out, agent) {
			continue
		}
		log.Info("partial fix looks promising, searching deeper",
			zap.Int("candidate", i+1),
			zap.Int("rating", out.Evaluation.Rating),
			zap.Int("remaining", len(out.Remaining)))

		if res, ok := r.descend(ctx, st, agent, workDir, base, candidate, out, i+1, depth); ok {
			return res
		}
	}
	return agentResult{}
}

// promising reports whether a failed attempt is worth a recursive search
func promising(out *types.AttemptOutcome, agent *types.BugAgent) bool {
	if out.Fault != nil || out.Evaluation == nil {
		return false
	}
	return out.Evaluation.Rating > promisingRating &&
		len(out.Remaining) > 0 && len(out.Remaining) < len(agent.Errors)
}

// descend stages a promising candidate and searches the remaining errors from
// there. On success the provisional commit and the sub-fix are squashed into one
// commit on the agent's branch; otherwise the branch is reset to base.
func (r *Resolver) descend(ctx context.Context, st *runState, agent *types.BugAgent, workDir, base, candidate string, out *types.AttemptOutcome, seq, depth int) (agentResult, bool) {
	log := r.logger.With(zap.String("agent", agent.ID))

	staged, err := st.applier.Stage(ctx, agent, workDir, base, candidate)
	if err != nil {
		log.Warn("failed to stage partial fix", zap.Error(err))
		return agentResult{}, false
	}

	sub := subAgent(agent, out.Remaining, seq)
	res := r.resolveAgent(ctx, st, sub, workDir, staged, depth+1, out.TotalErrors)
	if !res.success {
		if err := st.applier.position(context.WithoutCancel(ctx), workDir, agent.BranchName, base); err != nil {
			log.Warn("failed to reset after unsuccessful sub-search", zap.Error(err))
		}
		return agentResult{}, false
	}

	if err := r.git.Reset(ctx, workDir, git.ResetSoft, base); err != nil {
		log.Warn("failed to squash fix", zap.Error(err))
		_ = st.applier.position(context.WithoutCancel(ctx), workDir, agent.BranchName, base)
		return agentResult{}, false
	}
	message := CommitMessage(agent.FilePath(), out.Evaluation, agent)
	ref, err := r.git.CommitChanges(ctx, workDir, git.CommitOptions{
		Message: message + "\n\n" + res.description,
	})
	if err == nil && ref == "" {
		err = fmt.Errorf("nothing to commit for %s", agent.FilePath())
	}
	if err != nil {
		log.Warn("failed to commit squashed fix", zap.Error(err))
		_ = st.applier.position(context.WithoutCancel(ctx), workDir, agent.BranchName, base)
		return agentResult{}, false
	}

	agent.AppliedFix = candidate
	agent.CommitRef = ref
	res.success = true
	res.commitRef = ref
	res.description = message
	return res, true
}

func (r *Resolver) recordRun(ctx context.Context, run *types.ResolutionRun) {
	if r.history == nil {
		return
	}
	if err := r.history.RecordRun(ctx, run); err != nil {
		r.logger.Warn("failed to record run", zap.Error(err))
	}
}

func (r *Resolver) finishRun(ctx context.Context, run *types.ResolutionRun) {
	if r.history == nil {
		return
	}
	if err := r.history.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to finish run", zap.Error(err))
	}
}

func (r *Resolver) recordAttempt(ctx context.Context, st *runState, agent *types.BugAgent, out *types.AttemptOutcome) {
	st.mu.Lock()
	st.attempts++
	st.mu.Unlock()

	if r.history == nil {
		return
	}
	rec := &types.AttemptRecord{
		RunID:        st.id,
		AgentID:      agent.ID,
		FilePath:     agent.FilePath(),
		Depth:        agent.Depth,
		Success:      out.Success,
		CommitRef:    out.CommitRef,
		ErrorsBefore: len(agent.Errors),
		ErrorsAfter:  len(out.Remaining),
		OutputSample: sample(out.BuildOutput),
	}
	if out.Evaluation != nil {
		rating := out.Evaluation.Rating
		rec.Rating = &rating
	}
	if err := r.history.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("failed to record attempt", zap.Error(err))
	}
}

// sample keeps the tail of build output, where the failure summary usually is
func sample(output string) string {
	if len(output) <= outputSampleLimit {
		return output
	}
	return "..." + output[len(output)-outputSampleLimit:]
}
