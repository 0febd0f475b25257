// Package deps detects build failures caused by missing third-party packages
// and installs them before the resolver starts searching for source fixes.
package deps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/buildfix/internal/ai"
	"github.com/steveyegge/buildfix/internal/gates"
	"github.com/steveyegge/buildfix/internal/types"
)

// Assessment is the outcome of the dependency fast path
type Assessment struct {
	// Resolved is true when installing packages made the build pass
	Resolved bool
	// Packages lists the packages that were installed
	Packages []string
	// Output is the build output the rest of the pipeline should work from.
	// It is the rebuild output when packages were installed, otherwise the input.
	Output string
}

// Description is the human-readable fix entry for a resolved assessment
func (a *Assessment) Description() string {
	return "installed required package(s): " + strings.Join(a.Packages, ", ")
}

// AssessorConfig configures an Assessor
type AssessorConfig struct {
	Caller    ai.Caller
	Model     string // Defaults to the simple-task model
	Installer Installer
	Builder   gates.BuildOracle
	Logger    *zap.Logger
}

// Assessor asks the oracle about missing packages and installs them
type Assessor struct {
	caller    ai.Caller
	model     string
	installer Installer
	builder   gates.BuildOracle
	logger    *zap.Logger
}

// NewAssessor creates a dependency assessor
func NewAssessor(cfg AssessorConfig) (*Assessor, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("caller is required")
	}
	if cfg.Installer == nil {
		return nil, fmt.Errorf("installer is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("build oracle is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{
		caller:    cfg.Caller,
		model:     cfg.Model,
		installer: cfg.Installer,
		builder:   cfg.Builder,
		logger:    logger.Named("deps"),
	}, nil
}

// Assess classifies the failure and, if packages are missing, installs them and
// rebuilds once. An oracle failure is treated as "no missing packages".
// The only returned error is context cancellation.
func (a *Assessor) Assess(ctx context.Context, buildOutput string, pctx *types.ProjectContext) (*Assessment, error) {
	result := &Assessment{Output: buildOutput}

	verdict, err := ai.AssessMissingPackages(ctx, a.caller, a.model, buildOutput, pctx.Settings.PackageManager)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("dependency assessment unavailable, assuming no missing packages", zap.Error(err))
		return result, nil
	}
	if !verdict.Missing || len(verdict.Packages) == 0 {
		a.logger.Debug("no missing packages", zap.String("reasoning", verdict.Reasoning))
		return result, nil
	}

	for _, pkg := range verdict.Packages {
		if err := a.installer.Install(ctx, pctx.RepoPath, pkg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("package install failed", zap.String("package", pkg), zap.Error(err))
			continue
		}
		result.Packages = append(result.Packages, pkg)
	}
	if len(result.Packages) == 0 {
		return result, nil
	}

	rebuild := a.builder.Run(ctx, pctx.RepoPath, pctx.Settings)
	result.Output = rebuild.Output
	result.Resolved = rebuild.Passed
	a.logger.Info("rebuilt after installing packages",
		zap.Strings("packages", result.Packages),
		zap.Bool("passed", rebuild.Passed))
	return result, nil
}
