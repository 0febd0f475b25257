package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

// ErrInvalidPackage is returned for names that are not valid for the package manager.
// Names come from an oracle, so they are validated before any command runs.
var ErrInvalidPackage = errors.New("invalid package name")

// Installer installs a single third-party package into the project
type Installer interface {
	Install(ctx context.Context, projectPath, pkg string) error
}

// DefaultInstallTimeout bounds a single install command
const DefaultInstallTimeout = 5 * time.Minute

var npmNameRe = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._~-]*/)?[a-z0-9][a-z0-9._~-]*(@[A-Za-z0-9.^~<>=*|_-]+)?$`)

// CommandInstaller shells out to the project's package manager
type CommandInstaller struct {
	Manager string        // npm, yarn, pnpm or go
	Binary  string        // Executable to run; defaults to Manager
	Env     []string      // Extra KEY=VALUE entries
	Timeout time.Duration // Defaults to DefaultInstallTimeout

	logger *zap.Logger
}

var _ Installer = (*CommandInstaller)(nil)

// NewCommandInstaller creates an installer for the given package manager
func NewCommandInstaller(manager string, env []string, logger *zap.Logger) (*CommandInstaller, error) {
	if manager == "" {
		manager = "npm"
	}
	switch manager {
	case "npm", "yarn", "pnpm", "go":
	default:
		return nil, fmt.Errorf("unsupported package manager %q", manager)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandInstaller{Manager: manager, Env: env, logger: logger.Named("installer")}, nil
}

// Install validates pkg and runs the manager's install command in projectPath
func (i *CommandInstaller) Install(ctx context.Context, projectPath, pkg string) error {
	args, err := InstallArgs(i.Manager, pkg)
	if err != nil {
		return err
	}

	binary := i.Binary
	if binary == "" {
		binary = i.Manager
	}
	timeout := i.Timeout
	if timeout == 0 {
		timeout = DefaultInstallTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = projectPath
	cmd.Env = append(os.Environ(), i.Env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	i.logger.Info("installing package", zap.String("manager", i.Manager), zap.String("package", pkg))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s failed: %w\nOutput: %s", binary, strings.Join(args, " "), err, out.String())
	}
	return nil
}

// InstallArgs returns the arguments that install pkg with manager
func InstallArgs(manager, pkg string) ([]string, error) {
	if err := ValidatePackage(manager, pkg); err != nil {
		return nil, err
	}
	switch manager {
	case "npm":
		return []string{"install", pkg}, nil
	case "yarn", "pnpm":
		return []string{"add", pkg}, nil
	case "go":
		return []string{"get", pkg}, nil
	}
	return nil, fmt.Errorf("unsupported package manager %q", manager)
}

// ValidatePackage checks that pkg is a well-formed name for manager.
// Go names are module paths with an optional @version (semver or "latest").
func ValidatePackage(manager, pkg string) error {
	if pkg == "" || strings.HasPrefix(pkg, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, pkg)
	}

	if manager == "go" {
		path, version, hasVersion := strings.Cut(pkg, "@")
		if err := module.CheckPath(path); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPackage, err)
		}
		if hasVersion && version != "latest" && !semver.IsValid(version) {
			return fmt.Errorf("%w: %q is not a semantic version", ErrInvalidPackage, version)
		}
		return nil
	}

	if len(pkg) > 214 || !npmNameRe.MatchString(pkg) {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, pkg)
	}
	return nil
}
