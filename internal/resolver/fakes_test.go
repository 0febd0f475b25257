package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/buildfix/internal/ai"
	"github.com/steveyegge/buildfix/internal/deps"
	"github.com/steveyegge/buildfix/internal/gates"
	"github.com/steveyegge/buildfix/internal/types"
)

// brokenMarker makes a line fail the fake build
const brokenMarker = "BROKEN"

// clashMarker is harmless in one file and an error once two files contain it
const clashMarker = "CLASH"

var (
	exportRe = regexp.MustCompile(`export const (\w+)`)
	usesRe   = regexp.MustCompile(`uses\((\w+)\)`)
)

// markerBuilder is a fake compiler: every line containing brokenMarker in a
// tracked-looking file is reported as a TS2304 error in grouped tsc layout.
// Lines containing clashMarker are reported as TS2451 when more than one file
// has one, and a "uses(name)" line is reported as TS2305 when no file has an
// "export const name".
type markerBuilder struct {
	runs atomic.Int32

	// artifact, when set, is written relative to the project on every run
	artifact string
}

func (b *markerBuilder) Run(ctx context.Context, projectPath string, settings types.BuildSettings) *gates.Result {
	b.runs.Add(1)
	result := &gates.Result{Gate: gates.GateBuild}

	if b.artifact != "" {
		path := filepath.Join(projectPath, filepath.FromSlash(b.artifact))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			result.Error = err
			return result
		}
		if err := os.WriteFile(path, []byte("compiled\n"), 0644); err != nil {
			result.Error = err
			return result
		}
	}

	type fileLines struct {
		rel    string
		broken []int
		clash  []int
		uses   map[int]string
	}
	var files []fileLines
	exported := map[string]bool{}
	clashing := 0
	err := filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(projectPath, path)
		fl := fileLines{rel: filepath.ToSlash(rel), uses: map[int]string{}}
		for i, line := range strings.Split(string(data), "\n") {
			if m := exportRe.FindStringSubmatch(line); m != nil {
				exported[m[1]] = true
			}
			if m := usesRe.FindStringSubmatch(line); m != nil {
				fl.uses[i+1] = m[1]
			}
			if strings.Contains(line, brokenMarker) {
				fl.broken = append(fl.broken, i+1)
			}
			if strings.Contains(line, clashMarker) {
				fl.clash = append(fl.clash, i+1)
			}
		}
		if len(fl.clash) > 0 {
			clashing++
		}
		files = append(files, fl)
		return nil
	})
	if err != nil {
		result.Error = err
		result.Output = err.Error()
		return result
	}

	var out strings.Builder
	for _, fl := range files {
		var lines []string
		for _, n := range fl.broken {
			lines = append(lines, fmt.Sprintf("%d:5 error TS2304: Cannot find name 'Bar'.", n))
		}
		for n, name := range fl.uses {
			if !exported[name] {
				lines = append(lines, fmt.Sprintf("%d:10 error TS2305: Module has no exported member '%s'.", n, name))
			}
		}
		if clashing > 1 {
			for _, n := range fl.clash {
				lines = append(lines, fmt.Sprintf("%d:14 error TS2451: Cannot redeclare block-scoped variable 'clash'.", n))
			}
		}
		if len(lines) > 0 {
			fmt.Fprintf(&out, "./%s\n%s\n\n", fl.rel, strings.Join(lines, "\n"))
		}
	}
	result.Output = out.String()
	result.Passed = result.Output == ""
	return result
}

// scriptedGenerator proposes patches computed from the agent's current file content
type scriptedGenerator struct {
	mu      sync.Mutex
	calls   int
	propose func(agent *types.BugAgent, content string) []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, agent *types.BugAgent, workDir string, pctx *types.ProjectContext) ([]string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	content, err := OSFileReader{}.Read(workDir, []string{agent.FilePath()})
	if err != nil {
		return nil, err
	}
	return g.propose(agent, content), nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fixFirstBroken proposes a single patch replacing the first broken line
func fixFirstBroken(agent *types.BugAgent, content string) []string {
	for i, line := range splitLines(content) {
		if strings.Contains(line, brokenMarker) {
			return []string{replaceLinePatch(agent.FilePath(), content, i+1, strings.ReplaceAll(line, brokenMarker, "fixed"))}
		}
	}
	return nil
}

// fakeCritic returns a fixed evaluation and counts calls
type fakeCritic struct {
	mu     sync.Mutex
	calls  int
	rating int
	err    error
}

func (c *fakeCritic) Evaluate(ctx context.Context, req ai.CritiqueRequest) (*types.CriticEvaluation, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &types.CriticEvaluation{
		Narrative: "patch reviewed",
		Summary:   "replace broken reference",
		Rating:    c.rating,
	}, nil
}

func (c *fakeCritic) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubAssessor struct {
	assessment *deps.Assessment
}

func (s *stubAssessor) Assess(ctx context.Context, buildOutput string, pctx *types.ProjectContext) (*deps.Assessment, error) {
	if s.assessment.Output == "" {
		s.assessment.Output = buildOutput
	}
	return s.assessment, nil
}

func splitLines(content string) []string {
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// replaceLinePatch builds a unified diff replacing line lineNo (1-based) of content
func replaceLinePatch(file, content string, lineNo int, replacement string) string {
	lines := splitLines(content)
	i := lineNo - 1
	lo := max(0, i-3)
	hi := min(len(lines), i+4)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", file, file)
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", lo+1, hi-lo, lo+1, hi-lo)
	for j := lo; j < hi; j++ {
		if j == i {
			b.WriteString("-" + lines[j] + "\n")
			b.WriteString("+" + replacement + "\n")
			continue
		}
		b.WriteString(" " + lines[j] + "\n")
	}
	return b.String()
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// initRepo creates a repository on main whose first commit contains files
func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-b", "main")
	gitCmd(t, dir, "config", "user.name", "Test User")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	files["README.md"] = "# Test Repo\n"
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "Initial commit")
	return dir
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

// brokenFile returns a small source file with n broken lines
func brokenFile(n int) string {
	var b strings.Builder
	b.WriteString("import { helper } from './helper';\n\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "export const v%d = %s(%d);\n", i, brokenMarker, i)
	}
	b.WriteString("\nexport default helper;\n")
	return b.String()
}
