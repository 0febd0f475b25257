package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides cfg from environment variables.
//
// Environment variables:
//   - BUILDFIX_TOOLCHAIN: Diagnostic parser and default build command
//   - BUILDFIX_BUILD_COMMAND: Build command, split on whitespace
//   - BUILDFIX_MODEL: Fix generation model
//   - BUILDFIX_CRITIC_MODEL: Critic model
//   - BUILDFIX_MAX_DEPTH: Recursion bound (default: 3)
//   - BUILDFIX_MAX_FIXES: Candidate patches per bug group (default: 3)
//   - BUILDFIX_PARALLELISM: Concurrent agents (default: 1)
//   - BUILDFIX_ESCALATE_UNPARSED: Fail on unparsable build output (default: false)
//   - BUILDFIX_SCOPED_SUCCESS: Commit per-file fixes while other files still fail (default: false)
//   - BUILDFIX_AUTO_APPROVE: Merge without asking (default: false)
//   - BUILDFIX_DB: History database path
//   - BUILDFIX_REQUESTS_PER_MINUTE: API rate limit (default: unlimited)
//   - ANTHROPIC_API_KEY: API key
//
// Returns an error if any environment variable has an invalid value.
func ApplyEnv(cfg *Config) error {
	if err := parseEnvString("BUILDFIX_TOOLCHAIN", &cfg.Build.Toolchain); err != nil {
		return err
	}
	if cmd := strings.Fields(os.Getenv("BUILDFIX_BUILD_COMMAND")); len(cmd) > 0 {
		cfg.Build.Command = cmd
	}
	if err := parseEnvString("BUILDFIX_MODEL", &cfg.AI.Model); err != nil {
		return err
	}
	if err := parseEnvString("BUILDFIX_CRITIC_MODEL", &cfg.AI.CriticModel); err != nil {
		return err
	}
	if err := parseEnvInt("BUILDFIX_MAX_DEPTH", &cfg.Search.MaxDepth); err != nil {
		return err
	}
	if err := parseEnvInt("BUILDFIX_MAX_FIXES", &cfg.Search.MaxFixesPerBug); err != nil {
		return err
	}
	if err := parseEnvInt("BUILDFIX_PARALLELISM", &cfg.Search.Parallelism); err != nil {
		return err
	}
	if err := parseEnvBool("BUILDFIX_ESCALATE_UNPARSED", &cfg.Search.EscalateUnparsed); err != nil {
		return err
	}
	if err := parseEnvBool("BUILDFIX_SCOPED_SUCCESS", &cfg.Search.ScopedSuccess); err != nil {
		return err
	}
	if err := parseEnvBool("BUILDFIX_AUTO_APPROVE", &cfg.AutoApprove); err != nil {
		return err
	}
	if err := parseEnvString("BUILDFIX_DB", &cfg.History.Path); err != nil {
		return err
	}
	if err := parseEnvInt("BUILDFIX_REQUESTS_PER_MINUTE", &cfg.AI.RequestsPerMinute); err != nil {
		return err
	}
	return parseEnvString("ANTHROPIC_API_KEY", &cfg.APIKey)
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
