package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/buildfix/internal/types"
)

// CritiqueRequest describes one applied patch for the critic
type CritiqueRequest struct {
	FilePath    string
	Patch       string
	Errors      []types.ErrorRecord // Diagnostics the patch was meant to fix
	BuildPassed bool
	BuildOutput string
}

// Critic rates candidate patches independently of the build result
type Critic struct {
	caller Caller
	model  string
}

// NewCritic creates a critic; an empty model uses GetSimpleTaskModel()
func NewCritic(caller Caller, model string) *Critic {
	if model == "" {
		model = GetSimpleTaskModel()
	}
	return &Critic{caller: caller, model: model}
}

// Evaluate asks the critic to rate a patch from 1 to 5
func (c *Critic) Evaluate(ctx context.Context, req CritiqueRequest) (*types.CriticEvaluation, error) {
	eval, err := CompleteStructured(ctx, c.caller, Request{
		Operation: "critic",
		Model:     c.model,
		Prompt:    buildCriticPrompt(req),
		MaxTokens: 2048,
	}, (*types.CriticEvaluation).Validate, DefaultStructuredAttempts)
	if err != nil {
		return nil, fmt.Errorf("critic evaluation of %s failed: %w", req.FilePath, err)
	}
	return eval, nil
}

func buildCriticPrompt(req CritiqueRequest) string {
	var errs strings.Builder
	for _, rec := range req.Errors {
		errs.WriteString("- ")
		errs.WriteString(rec.String())
		errs.WriteString("\n")
	}

	outcome := "The build still FAILS after this patch. Build output (truncated):\n" + truncateString(req.BuildOutput, 3000)
	if req.BuildPassed {
		outcome = "The build PASSES after this patch."
	}

	return fmt.Sprintf(`You are reviewing a patch proposed to fix build errors in %s.

ERRORS THE PATCH TARGETS:
%s
PATCH:
%s

%s

Evaluate the patch:
- narrative: what the patch does and whether it addresses the root cause
- unrelated_changes: any changes not needed to fix the listed errors (empty string if none)
- summary: a one-line description of the fix, suitable as a commit message subject
- rating: 1 = harmful or wrong, 2 = unlikely to help, 3 = partial, 4 = mostly right, 5 = correct and minimal

Respond with ONLY a JSON object:
{"narrative": "...", "unrelated_changes": "...", "summary": "...", "rating": <1-5>}`,
		req.FilePath, errs.String(), req.Patch, outcome)
}
