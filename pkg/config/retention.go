package config

import "time"

// RetentionConfig controls data retention and cleanup behavior for audit
// rows, filing events, and database write failure records.
type RetentionConfig struct {
	// AuditRetentionDays is how many days to keep entity_audit rows.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// FilingEventRetentionDays is how many days to keep filing_events rows
	// past their lookback-window relevance.
	FilingEventRetentionDays int `yaml:"filing_event_retention_days"`

	// WriteFailureRetentionDays is how many days to keep resolved
	// database_write_failures rows.
	WriteFailureRetentionDays int `yaml:"write_failure_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		AuditRetentionDays:        365,
		FilingEventRetentionDays:  180,
		WriteFailureRetentionDays: 90,
		CleanupInterval:           12 * time.Hour,
	}
}
