package gates

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/buildfix/internal/types"
)

func TestCommandBuilder_Passes(t *testing.T) {
	b := NewCommandBuilder(nil)
	res := b.Run(context.Background(), t.TempDir(), types.BuildSettings{
		BuildCommand: []string{"sh", "-c", "echo compiled"},
	})

	require.NotNil(t, res)
	assert.True(t, res.Passed)
	assert.NoError(t, res.Error)
	assert.Equal(t, GateBuild, res.Gate)
	assert.Equal(t, "compiled\n", res.Output)
}

func TestCommandBuilder_FailureCapturesCombinedOutput(t *testing.T) {
	dir := t.TempDir()
	b := NewCommandBuilder(nil)
	res := b.Run(context.Background(), dir, types.BuildSettings{
		BuildCommand: []string{"sh", "-c", "echo ./src/pages/foo.tsx; echo \"12:5 error TS2304: Cannot find name 'Bar'.\" >&2; exit 2"},
	})

	assert.False(t, res.Passed)
	assert.Error(t, res.Error)
	assert.Contains(t, res.Output, "./src/pages/foo.tsx")
	assert.Contains(t, res.Output, "TS2304")
}

func TestCommandBuilder_RunsInProjectDirWithEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0644))

	res := NewCommandBuilder(nil).Run(context.Background(), dir, types.BuildSettings{
		BuildCommand: []string{"sh", "-c", "test -f marker && echo $BUILDFIX_TEST_VAR"},
		Env:          []string{"BUILDFIX_TEST_VAR=from-settings"},
	})
	require.True(t, res.Passed, res.Output)
	assert.Equal(t, "from-settings\n", res.Output)
}

func TestCommandBuilder_Timeout(t *testing.T) {
	res := NewCommandBuilder(nil).Run(context.Background(), t.TempDir(), types.BuildSettings{
		BuildCommand: []string{"sleep", "5"},
		Timeout:      100 * time.Millisecond,
	})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Output, "build timed out")
}

func TestCommandBuilder_MissingBinary(t *testing.T) {
	res := NewCommandBuilder(nil).Run(context.Background(), t.TempDir(), types.BuildSettings{
		BuildCommand: []string{"buildfix-no-such-binary"},
	})
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Output)
}

func TestDefaultBuildCommand(t *testing.T) {
	assert.Equal(t, []string{"go", "build", "./..."}, DefaultBuildCommand("go", ""))
	assert.Equal(t, []string{"npm", "run", "build"}, DefaultBuildCommand("typescript", "npm"))
	assert.Equal(t, []string{"yarn", "build"}, DefaultBuildCommand("", "yarn"))
	assert.Equal(t, []string{"pnpm", "run", "build"}, DefaultBuildCommand("tsc", "pnpm"))
	assert.Nil(t, DefaultBuildCommand("cobol", ""))
}

type scriptedPrompter struct {
	answers []string
	prompts []string
}

func (p *scriptedPrompter) Prompt(prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.answers) == 0 {
		return "", io.EOF
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// setupFixRepo creates a repo with main and a fix branch one commit ahead
func setupFixRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tsx"), []byte("export const a = 1;\n"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial")
	gitRun(t, dir, "checkout", "-b", "buildfix/foo-1234abcd")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tsx"), []byte("export const a: number = 1;\n"), 0644))
	gitRun(t, dir, "commit", "-am", "fix(foo.tsx): annotate a")
	return dir
}

func TestApprovalGate_ApproveAfterDiff(t *testing.T) {
	dir := setupFixRepo(t)
	var out bytes.Buffer
	prompter := &scriptedPrompter{answers: []string{"maybe", "d", "y"}}

	gate, err := NewApprovalGate(&ApprovalConfig{
		RepoPath: dir, BaseRef: "main", HeadRef: "buildfix/foo-1234abcd",
		Results:  []*Result{{Gate: GateBuild, Passed: true}},
		Prompter: prompter, Out: &out,
	})
	require.NoError(t, err)

	res := gate.Run(context.Background())
	assert.True(t, res.Passed)
	assert.Equal(t, "Approved by user", res.Output)
	assert.Len(t, prompter.prompts, 3)

	shown := out.String()
	assert.Contains(t, shown, "✓ PASS: build")
	assert.Contains(t, shown, "Changed Files (1):\n  foo.tsx")
	assert.Contains(t, shown, "fix(foo.tsx): annotate a")
	assert.Contains(t, shown, "Invalid input 'maybe'")
	assert.Contains(t, shown, "+export const a: number = 1;")
}

func TestApprovalGate_Reject(t *testing.T) {
	dir := setupFixRepo(t)
	gate, err := NewApprovalGate(&ApprovalConfig{
		RepoPath: dir, BaseRef: "main", HeadRef: "buildfix/foo-1234abcd",
		Prompter: &scriptedPrompter{answers: []string{"n"}}, Out: io.Discard,
	})
	require.NoError(t, err)

	res := gate.Run(context.Background())
	assert.False(t, res.Passed)
	assert.NoError(t, res.Error)
	assert.Equal(t, "Rejected by user", res.Output)
}

func TestApprovalGate_InputError(t *testing.T) {
	dir := setupFixRepo(t)
	gate, err := NewApprovalGate(&ApprovalConfig{
		RepoPath: dir, BaseRef: "main", HeadRef: "buildfix/foo-1234abcd",
		Prompter: &scriptedPrompter{}, Out: io.Discard,
	})
	require.NoError(t, err)

	res := gate.Run(context.Background())
	assert.False(t, res.Passed)
	assert.True(t, errors.Is(res.Error, io.EOF))
}

func TestApprovalGate_AutoApprove(t *testing.T) {
	prompter := &scriptedPrompter{}
	gate, err := NewApprovalGate(&ApprovalConfig{
		RepoPath: t.TempDir(), BaseRef: "main", HeadRef: "fix",
		AutoApprove: true, Prompter: prompter,
	})
	require.NoError(t, err)

	res := gate.Run(context.Background())
	assert.True(t, res.Passed)
	assert.Empty(t, prompter.prompts)

	t.Setenv("BUILDFIX_AUTO_APPROVE", "true")
	gate, err = NewApprovalGate(&ApprovalConfig{RepoPath: t.TempDir(), BaseRef: "main", HeadRef: "fix", Prompter: prompter})
	require.NoError(t, err)
	assert.True(t, gate.Run(context.Background()).Passed)
}

func TestNewApprovalGate_Validation(t *testing.T) {
	_, err := NewApprovalGate(&ApprovalConfig{BaseRef: "main", HeadRef: "fix"})
	assert.Error(t, err)
	_, err = NewApprovalGate(&ApprovalConfig{RepoPath: "/tmp", BaseRef: "main"})
	assert.Error(t, err)
}
