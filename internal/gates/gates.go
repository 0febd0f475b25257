// Package gates runs the target project's build as the ground-truth oracle and
// asks a human to approve merging the resolved fixes.
package gates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/buildfix/internal/types"
)

// GateType identifies different gates
type GateType string

const (
	GateBuild    GateType = "build"
	GateApproval GateType = "approval"
)

// Result represents the outcome of a gate check
type Result struct {
	Gate     GateType
	Passed   bool
	Output   string
	Error    error
	Duration time.Duration
}

// BuildOracle runs the project build. A failing build is a normal result with
// Passed=false and the combined output; Run never panics or returns nil.
type BuildOracle interface {
	Run(ctx context.Context, projectPath string, settings types.BuildSettings) *Result
}

// DefaultBuildTimeout applies when BuildSettings.Timeout is zero
const DefaultBuildTimeout = 10 * time.Minute

// CommandBuilder executes settings.BuildCommand in the project directory
type CommandBuilder struct {
	logger *zap.Logger
}

var _ BuildOracle = (*CommandBuilder)(nil)

// NewCommandBuilder creates a build oracle that shells out to the build command
func NewCommandBuilder(logger *zap.Logger) *CommandBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandBuilder{logger: logger.Named("build")}
}

// Run executes the build command and captures combined output
func (b *CommandBuilder) Run(ctx context.Context, projectPath string, settings types.BuildSettings) *Result {
	result := &Result{Gate: GateBuild}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	command := settings.BuildCommand
	if len(command) == 0 {
		command = DefaultBuildCommand(settings.Toolchain, settings.PackageManager)
	}
	if len(command) == 0 {
		result.Error = fmt.Errorf("no build command configured for toolchain %q", settings.Toolchain)
		result.Output = result.Error.Error()
		return result
	}

	timeout := settings.Timeout
	if timeout == 0 {
		timeout = DefaultBuildTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = projectPath
	cmd.Env = append(os.Environ(), settings.Env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result.Output = out.String()

	if err != nil {
		result.Passed = false
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.Error = fmt.Errorf("build timed out after %v", timeout)
			result.Output += "\n" + result.Error.Error()
		case errors.As(err, &exitErr):
			result.Error = fmt.Errorf("%s failed: %w", strings.Join(command, " "), err)
		default:
			result.Error = fmt.Errorf("failed to run %s: %w", command[0], err)
			if result.Output == "" {
				result.Output = result.Error.Error()
			}
		}
		b.logger.Debug("build failed",
			zap.String("dir", projectPath),
			zap.Strings("command", command),
			zap.Int("output_bytes", len(result.Output)),
			zap.Error(err))
		return result
	}

	result.Passed = true
	b.logger.Debug("build passed", zap.String("dir", projectPath), zap.Strings("command", command))
	return result
}

// DefaultBuildCommand returns the conventional build command for a toolchain
func DefaultBuildCommand(toolchain, packageManager string) []string {
	switch strings.ToLower(toolchain) {
	case "go":
		return []string{"go", "build", "./..."}
	case "typescript", "tsc", "":
		switch packageManager {
		case "yarn":
			return []string{"yarn", "build"}
		case "pnpm":
			return []string{"pnpm", "run", "build"}
		default:
			return []string{"npm", "run", "build"}
		}
	}
	return nil
}
