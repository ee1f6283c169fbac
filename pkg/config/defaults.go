package config

import "time"

// Defaults is the single typed configuration struct for every hard-coded
// threshold the system uses: lookback window, poll intervals, rate limits,
// tolerance bands, extension counts, dedup cooldown, and the
// recurring-pattern threshold. None of these are scattered constants.
type Defaults struct {
	// LookbackWindow is how far back a newly-observed filing is still
	// considered "new" for emission purposes — deliberately wider than
	// the poll interval so a transiently elevated last_check never
	// silently drops late-published filings.
	LookbackWindow time.Duration `yaml:"lookback_window,omitempty"`

	// Scheduler cadences.
	SchedulerTickInterval         time.Duration `yaml:"scheduler_tick_interval,omitempty"`
	FilingPollInterval            time.Duration `yaml:"filing_poll_interval,omitempty"`
	FilingPollIntervalAccelerated time.Duration `yaml:"filing_poll_interval_accelerated,omitempty"`
	PriceUpdateInterval           time.Duration `yaml:"price_update_interval,omitempty"`

	// FeedRequestInterval is the per-request sleep the filing poller
	// uses while iterating entities sequentially, to honor the feed
	// host's rate cap without routing through the worker pool.
	FeedRequestInterval time.Duration `yaml:"feed_request_interval,omitempty"`

	// Accelerated polling durations stamped by external event triggers.
	NewsAcceleratedDuration       time.Duration `yaml:"news_accelerated_duration,omitempty"`
	PriceSpikeAcceleratedDuration time.Duration `yaml:"price_spike_accelerated_duration,omitempty"`

	// Validation tolerance bands.
	TrustPerShareTolerance  float64 `yaml:"trust_per_share_tolerance,omitempty"`
	PriceComponentTolerance float64 `yaml:"price_component_tolerance,omitempty"`

	// StaleAnnouncedDealDays is the threshold, in days since announcement,
	// beyond which a deal with no scheduled vote and no extension evidence
	// is flagged stale.
	StaleAnnouncedDealDays int `yaml:"stale_announced_deal_days,omitempty"`

	// RecurringPatternThreshold is the occurrence count within a single
	// sweep that promotes a rule identifier to recurring-pattern status.
	RecurringPatternThreshold int `yaml:"recurring_pattern_threshold,omitempty"`

	// CodeImprovementThreshold/Window gate the self-improvement proposal:
	// a pattern key at or above the threshold within the window triggers
	// an advisory code-improvement proposal.
	CodeImprovementThreshold  int `yaml:"code_improvement_threshold,omitempty"`
	CodeImprovementWindowDays int `yaml:"code_improvement_window_days,omitempty"`

	// AlertDedupCooldown is the window during which a repeat alert with
	// the same (alert_type, ticker, optional_key) is suppressed.
	AlertDedupCooldown time.Duration `yaml:"alert_dedup_cooldown,omitempty"`

	// LLM call behavior: hard timeout and a single retry per §5.
	LLMTimeout    time.Duration `yaml:"llm_timeout,omitempty"`
	LLMMaxRetries int           `yaml:"llm_max_retries,omitempty"`

	// Database write failure alerting.
	DatabaseWriteFailureThreshold int           `yaml:"database_write_failure_threshold,omitempty"`
	DatabaseWriteFailureWindow    time.Duration `yaml:"database_write_failure_window,omitempty"`
}

// DefaultDefaults returns the built-in threshold values cited in §4-§5.
func DefaultDefaults() *Defaults {
	return &Defaults{
		LookbackWindow:                48 * time.Hour,
		SchedulerTickInterval:         60 * time.Second,
		FilingPollInterval:            15 * time.Minute,
		FilingPollIntervalAccelerated: 5 * time.Minute,
		PriceUpdateInterval:           5 * time.Minute,
		FeedRequestInterval:           150 * time.Millisecond,
		NewsAcceleratedDuration:       24 * time.Hour,
		PriceSpikeAcceleratedDuration: 48 * time.Hour,
		TrustPerShareTolerance:        0.05,
		PriceComponentTolerance:       0.01,
		StaleAnnouncedDealDays:        45,
		RecurringPatternThreshold:     5,
		CodeImprovementThreshold:      3,
		CodeImprovementWindowDays:     30,
		AlertDedupCooldown:            24 * time.Hour,
		LLMTimeout:                    30 * time.Second,
		LLMMaxRetries:                 1,
		DatabaseWriteFailureThreshold: 3,
		DatabaseWriteFailureWindow:    1 * time.Hour,
	}
}
