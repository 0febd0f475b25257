package resolver

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/buildfix/internal/diagnostics"
	"github.com/steveyegge/buildfix/internal/types"
)

func TestBuildAgents_GroupsByFileInFirstSeenOrder(t *testing.T) {
	records := []types.ErrorRecord{
		{FilePath: "src/b.ts", LineNumber: 4, DiagnosticCode: "TS2304", Message: "one"},
		{FilePath: "src/a.ts", LineNumber: 1, DiagnosticCode: "TS2322", Message: "two"},
		{FilePath: "src/b.ts", LineNumber: 2, DiagnosticCode: "TS2304", Message: "three"},
		{FilePath: "src/c.ts", LineNumber: 9, DiagnosticCode: "TS7006", Message: "four"},
		{FilePath: "src/a.ts", LineNumber: 7, DiagnosticCode: "TS2322", Message: "five"},
	}

	agents := BuildAgents(records)
	require.Len(t, agents, 3)

	assert.Equal(t, []string{"src/b.ts", "src/a.ts", "src/c.ts"},
		[]string{agents[0].FilePath(), agents[1].FilePath(), agents[2].FilePath()})
	assert.Equal(t, []string{"agent-1", "agent-2", "agent-3"},
		[]string{agents[0].ID, agents[1].ID, agents[2].ID})

	// Relative order within a file is preserved, not sorted by line
	assert.Equal(t, "one", agents[0].Errors[0].Message)
	assert.Equal(t, "three", agents[0].Errors[1].Message)

	total := 0
	for _, agent := range agents {
		require.NoError(t, agent.Validate())
		assert.Empty(t, agent.CandidateFixes)
		assert.Empty(t, agent.CommitRef)
		assert.Zero(t, agent.Depth)
		total += len(agent.Errors)
	}
	assert.Equal(t, len(records), total)
}

func TestBuildAgents_Deterministic(t *testing.T) {
	output := `./src/pages/foo.tsx
12:5 error TS2304: Cannot find name 'Bar'.
src/lib/util.ts(3,1): error TS2322: Type 'string' is not assignable to type 'number'.
./src/pages/foo.tsx
20:3 error TS2339: Property 'x' does not exist on type '{}'.
`
	parser := &diagnostics.TypeScriptParser{}
	first := BuildAgents(parser.Parse(output))
	second := BuildAgents(parser.Parse(output))

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Errors, second[i].Errors)
	}
	assert.Len(t, first[0].Errors, 2)
}

func TestBuildAgents_Empty(t *testing.T) {
	assert.Empty(t, BuildAgents(nil))
}

func TestBranchName(t *testing.T) {
	pattern := regexp.MustCompile(`^buildfix/[a-z0-9_-]+-[0-9a-f]{8}$`)
	tests := []struct {
		path   string
		prefix string
	}{
		{"src/pages/foo.tsx", "buildfix/foo-"},
		{"./src/My Component.tsx", "buildfix/my-component-"},
		{"pkg/server/handler_test.go", "buildfix/handler_test-"},
		{`src\win\Path.ts`, "buildfix/path-"},
		{"src/.env.ts", "buildfix/env-"},
		{"src/@@@.ts", "buildfix/file-"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			name := BranchName(tt.path)
			assert.Regexp(t, pattern, name)
			assert.Contains(t, name, tt.prefix)
		})
	}

	assert.NotEqual(t, BranchName("a.ts"), BranchName("a.ts"), "suffix is random")
}

func TestSubAgent(t *testing.T) {
	parent := &types.BugAgent{ID: "agent-2", BranchName: "buildfix/foo-1234abcd", Depth: 1}
	remaining := []types.ErrorRecord{{FilePath: "src/foo.ts", LineNumber: 3}}

	sub := subAgent(parent, remaining, 2)
	assert.Equal(t, "agent-2.2", sub.ID)
	assert.Equal(t, parent.BranchName, sub.BranchName)
	assert.Equal(t, 2, sub.Depth)
	assert.Equal(t, "agent-2", sub.ParentID)

	remaining[0].LineNumber = 99
	assert.Equal(t, 3, sub.Errors[0].LineNumber, "sub-agent owns a copy of its errors")
}
