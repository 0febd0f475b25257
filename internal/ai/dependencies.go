package ai

import (
	"context"
	"fmt"
	"strings"
)

// PackageAssessment is the oracle's answer to "did the build fail because of missing packages?"
type PackageAssessment struct {
	Missing   bool     `json:"missing"`
	Packages  []string `json:"packages"`
	Reasoning string   `json:"reasoning"`
}

func (a *PackageAssessment) validate() error {
	if a.Missing && len(a.Packages) == 0 {
		return fmt.Errorf("missing=true requires at least one package")
	}
	for _, p := range a.Packages {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t\n") {
			return fmt.Errorf("invalid package name %q", p)
		}
	}
	return nil
}

// AssessMissingPackages asks the structured oracle whether build output points at
// third-party packages that are not installed. packageManager names the ecosystem
// (npm, yarn, pnpm, go) so the answer uses installable names.
func AssessMissingPackages(ctx context.Context, c Caller, model, buildOutput, packageManager string) (*PackageAssessment, error) {
	if model == "" {
		model = GetSimpleTaskModel()
	}
	prompt := fmt.Sprintf(`A build failed. Decide whether any failure is caused by a third-party package that is
not installed (as opposed to a typo, a wrong import path inside the project, or a type error).

Package manager: %s

BUILD OUTPUT:
%s

Rules:
- Only report packages that are published third-party packages and clearly missing.
- Use the exact installable name (for example "lodash", "@types/node", "github.com/google/uuid").
- Never report relative imports or modules that belong to this project.

Respond with ONLY a JSON object:
{"missing": <true|false>, "packages": ["..."], "reasoning": "<one sentence>"}`,
		packageManager, truncateString(buildOutput, 8000))

	return CompleteStructured(ctx, c, Request{
		Operation: "dependency-assessment",
		Model:     model,
		Prompt:    prompt,
		MaxTokens: 1024,
	}, (*PackageAssessment).validate, DefaultStructuredAttempts)
}
