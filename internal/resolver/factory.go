package resolver

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/steveyegge/buildfix/internal/git"
	"github.com/steveyegge/buildfix/internal/types"
)

// BuildAgents groups records by file path into one agent per file.
// Agents are returned in the order each file first appears in records, and
// each agent's errors keep their original relative order.
func BuildAgents(records []types.ErrorRecord) []*types.BugAgent {
	var agents []*types.BugAgent
	byFile := make(map[string]*types.BugAgent)

	for _, rec := range records {
		agent, ok := byFile[rec.FilePath]
		if !ok {
			agent = &types.BugAgent{
				ID:         fmt.Sprintf("agent-%d", len(agents)+1),
				BranchName: BranchName(rec.FilePath),
			}
			byFile[rec.FilePath] = agent
			agents = append(agents, agent)
		}
		agent.Errors = append(agent.Errors, rec)
	}
	return agents
}

// BranchName derives a fix branch name from a file path:
// buildfix/<base name without extension>-<8 random hex chars>
func BranchName(filePath string) string {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	return fmt.Sprintf("%s%s-%s", git.BranchPrefix, sanitizeRefComponent(base), uuid.NewString()[:8])
}

// sanitizeRefComponent keeps [a-z0-9_-] and collapses everything else to '-'
func sanitizeRefComponent(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "file"
	}
	return out
}

// subAgent creates the recursive agent spawned by a promising attempt.
// It inherits the parent's branch so the combined fix lands on one branch.
func subAgent(parent *types.BugAgent, remaining []types.ErrorRecord, seq int) *types.BugAgent {
	errs := make([]types.ErrorRecord, len(remaining))
	copy(errs, remaining)
	return &types.BugAgent{
		ID:         fmt.Sprintf("%s.%d", parent.ID, seq),
		Errors:     errs,
		BranchName: parent.BranchName,
		Depth:      parent.Depth + 1,
		ParentID:   parent.ID,
	}
}
