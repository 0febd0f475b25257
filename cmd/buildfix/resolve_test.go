package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/buildfix/internal/config"
	"github.com/steveyegge/buildfix/internal/gates"
	"github.com/steveyegge/buildfix/internal/git"
	"github.com/steveyegge/buildfix/internal/resolver"
	"github.com/steveyegge/buildfix/internal/types"
)

type staticBuilder struct {
	passed bool
	runs   int
}

func (b *staticBuilder) Run(ctx context.Context, projectPath string, settings types.BuildSettings) *gates.Result {
	b.runs++
	res := &gates.Result{Gate: gates.GateBuild, Passed: b.passed}
	if !b.passed {
		res.Output = "src/app.ts(3,1): error TS2304: Cannot find name 'Bar'.\n"
	}
	return res
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// fixRepo creates a repository on main plus one fix commit on a side branch
func fixRepo(t *testing.T) (repo, base, fix string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	repo = t.TempDir()
	gitCmd(t, repo, "init", "-b", "main")
	gitCmd(t, repo, "config", "user.name", "Test User")
	gitCmd(t, repo, "config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "app.ts"), []byte("export const v = Bar;\n"), 0644))
	gitCmd(t, repo, "add", "-A")
	gitCmd(t, repo, "commit", "-m", "Initial commit")
	base = gitCmd(t, repo, "rev-parse", "HEAD")

	gitCmd(t, repo, "checkout", "-b", "buildfix/app-1234")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "app.ts"), []byte("export const v = 1;\n"), 0644))
	gitCmd(t, repo, "commit", "-am", "fix(app.ts): define v")
	fix = gitCmd(t, repo, "rev-parse", "HEAD")
	gitCmd(t, repo, "checkout", "main")
	return repo, base, fix
}

func TestMergeFixes(t *testing.T) {
	tests := []struct {
		name       string
		passed     bool
		wantMerged bool
		wantErr    string
	}{
		{name: "passing build is merged", passed: true, wantMerged: true},
		{name: "failing build is never merged", passed: false, wantErr: "build still fails"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo, base, fix := fixRepo(t)
			g, err := git.NewGit(ctx)
			require.NoError(t, err)

			builder := &staticBuilder{passed: tt.passed}
			cfg := config.DefaultConfig()
			cfg.AutoApprove = true
			pctx := &types.ProjectContext{RepoPath: repo, BaseBranch: "main"}

			merged, err := mergeFixes(ctx, g, builder, cfg, pctx, &resolver.RunResult{FinalRef: fix, BaseRef: base})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantMerged, merged)
			assert.Equal(t, 1, builder.runs)

			want := base
			if tt.wantMerged {
				want = fix
			}
			assert.Equal(t, want, gitCmd(t, repo, "rev-parse", "main"))
			assert.Equal(t, "main", gitCmd(t, repo, "rev-parse", "--abbrev-ref", "HEAD"))
		})
	}
}
