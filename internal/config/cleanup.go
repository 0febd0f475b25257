package config

import (
	"fmt"
	"time"
)

// CleanupConfig controls removal of leftover buildfix/* branches
type CleanupConfig struct {
	// RetentionDays is how old an orphaned fix branch must be before deletion
	// Default: 7, Range: 0-365
	// 0 = delete every orphaned branch
	RetentionDays int `yaml:"retention_days"`

	// AfterRun removes orphaned branches older than the retention period at the end of each resolve
	// Default: false
	AfterRun bool `yaml:"after_run"`
}

// DefaultCleanupConfig returns the default branch cleanup configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		RetentionDays: 7,
	}
}

// Validate checks if the configuration has valid values
func (c CleanupConfig) Validate() error {
	if c.RetentionDays < 0 || c.RetentionDays > 365 {
		return fmt.Errorf("cleanup.retention_days must be between 0 and 365 (got %d)", c.RetentionDays)
	}
	return nil
}

// Retention returns the age threshold as a time.Duration
func (c CleanupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
