package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/buildfix/internal/ai"
	"github.com/steveyegge/buildfix/internal/types"
)

// DefaultMaxFixesPerBug is how many candidate patches are requested per agent
const DefaultMaxFixesPerBug = 3

// CandidateGenerator proposes candidate patches for an agent
type CandidateGenerator interface {
	Generate(ctx context.Context, agent *types.BugAgent, workDir string, pctx *types.ProjectContext) ([]string, error)
}

// TextOracle returns one free-text answer for a prompt.
// *ai.SelfConsistency is the production implementation.
type TextOracle interface {
	Complete(ctx context.Context, prompt, systemPrompt string, ensemble []ai.Sample) (string, error)
}

// FileReader reads project files for prompts
type FileReader interface {
	// Read returns the contents of filePaths (relative to projectPath).
	// Multiple files are concatenated with a header line per file.
	Read(projectPath string, filePaths []string) (string, error)
}

// OSFileReader reads files from the local filesystem
type OSFileReader struct{}

// Read implements FileReader. Paths that escape projectPath are rejected.
func (OSFileReader) Read(projectPath string, filePaths []string) (string, error) {
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project path: %w", err)
	}

	var b strings.Builder
	for _, p := range filePaths {
		full := filepath.Join(root, filepath.FromSlash(p))
		rel, err := filepath.Rel(root, full)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside the project", p)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", p, err)
		}
		if len(filePaths) > 1 {
			fmt.Fprintf(&b, "=== %s ===\n", p)
		}
		b.Write(data)
	}
	return b.String(), nil
}

// FixGenerator asks the free-text oracle for candidate patches
type FixGenerator struct {
	oracle   TextOracle
	reader   FileReader
	ensemble []ai.Sample
	maxFixes int
	logger   *zap.Logger
}

// GeneratorConfig configures a FixGenerator
type GeneratorConfig struct {
	Oracle   TextOracle
	Reader   FileReader  // Defaults to OSFileReader
	Ensemble []ai.Sample // Defaults to ai.DefaultEnsemble()
	MaxFixes int         // Defaults to DefaultMaxFixesPerBug
	Logger   *zap.Logger
}

// NewFixGenerator creates a candidate generator
func NewFixGenerator(cfg GeneratorConfig) (*FixGenerator, error) {
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	g := &FixGenerator{
		oracle:   cfg.Oracle,
		reader:   cfg.Reader,
		ensemble: cfg.Ensemble,
		maxFixes: cfg.MaxFixes,
		logger:   cfg.Logger,
	}
	if g.reader == nil {
		g.reader = OSFileReader{}
	}
	if g.maxFixes <= 0 {
		g.maxFixes = DefaultMaxFixesPerBug
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	g.logger = g.logger.Named("generator")
	return g, nil
}

// Generate reads the agent's file from workDir and returns up to MaxFixes patches.
// An answer without well-formed fix blocks yields zero candidates and no error.
func (g *FixGenerator) Generate(ctx context.Context, agent *types.BugAgent, workDir string, pctx *types.ProjectContext) ([]string, error) {
	file := agent.FilePath()
	content, err := g.reader.Read(workDir, []string{file})
	if err != nil {
		return nil, err
	}

	research := ""
	if pctx != nil {
		research = pctx.Research
	}
	prompt := ai.BuildFixPrompt(ai.FixPromptInput{
		FilePath: file,
		Content:  content,
		Errors:   agent.Errors,
		Research: research,
		MaxFixes: g.maxFixes,
	})

	answer, err := g.oracle.Complete(ctx, prompt, ai.FixSystemPrompt, g.ensemble)
	if err != nil {
		return nil, fmt.Errorf("fix generation for %s failed: %w", file, err)
	}

	fixes := ai.ExtractFixes(answer, g.maxFixes)
	g.logger.Debug("candidates generated",
		zap.String("agent", agent.ID),
		zap.String("file", file),
		zap.Int("count", len(fixes)))
	return fixes, nil
}
