package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at the first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	if err := v.validateWorkerPool(); err != nil {
		return fmt.Errorf("worker pool validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateHTTPClient(); err != nil {
		return fmt.Errorf("HTTP client validation failed: %w", err)
	}
	if err := v.validateMarketHours(); err != nil {
		return fmt.Errorf("market hours validation failed: %w", err)
	}
	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateChat(); err != nil {
		return fmt.Errorf("chat validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d == nil {
		return fmt.Errorf("defaults configuration is nil")
	}
	if d.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_window must be positive, got %v", d.LookbackWindow)
	}
	if d.FilingPollInterval <= 0 {
		return fmt.Errorf("filing_poll_interval must be positive, got %v", d.FilingPollInterval)
	}
	if d.FilingPollIntervalAccelerated <= 0 || d.FilingPollIntervalAccelerated > d.FilingPollInterval {
		return fmt.Errorf("filing_poll_interval_accelerated must be positive and no greater than filing_poll_interval")
	}
	if d.PriceUpdateInterval <= 0 {
		return fmt.Errorf("price_update_interval must be positive, got %v", d.PriceUpdateInterval)
	}
	if d.SchedulerTickInterval <= 0 {
		return fmt.Errorf("scheduler_tick_interval must be positive, got %v", d.SchedulerTickInterval)
	}
	if d.FeedRequestInterval <= 0 {
		return fmt.Errorf("feed_request_interval must be positive, got %v", d.FeedRequestInterval)
	}
	if d.TrustPerShareTolerance <= 0 || d.TrustPerShareTolerance >= 1 {
		return fmt.Errorf("trust_per_share_tolerance must be between 0 and 1, got %v", d.TrustPerShareTolerance)
	}
	if d.PriceComponentTolerance <= 0 || d.PriceComponentTolerance >= 1 {
		return fmt.Errorf("price_component_tolerance must be between 0 and 1, got %v", d.PriceComponentTolerance)
	}
	if d.StaleAnnouncedDealDays < 1 {
		return fmt.Errorf("stale_announced_deal_days must be at least 1, got %d", d.StaleAnnouncedDealDays)
	}
	if d.RecurringPatternThreshold < 1 {
		return fmt.Errorf("recurring_pattern_threshold must be at least 1, got %d", d.RecurringPatternThreshold)
	}
	if d.CodeImprovementThreshold < 1 {
		return fmt.Errorf("code_improvement_threshold must be at least 1, got %d", d.CodeImprovementThreshold)
	}
	if d.CodeImprovementWindowDays < 1 {
		return fmt.Errorf("code_improvement_window_days must be at least 1, got %d", d.CodeImprovementWindowDays)
	}
	if d.AlertDedupCooldown <= 0 {
		return fmt.Errorf("alert_dedup_cooldown must be positive, got %v", d.AlertDedupCooldown)
	}
	if d.LLMTimeout <= 0 {
		return fmt.Errorf("llm_timeout must be positive, got %v", d.LLMTimeout)
	}
	if d.LLMMaxRetries < 0 {
		return fmt.Errorf("llm_max_retries must be non-negative, got %d", d.LLMMaxRetries)
	}
	if d.DatabaseWriteFailureThreshold < 1 {
		return fmt.Errorf("database_write_failure_threshold must be at least 1, got %d", d.DatabaseWriteFailureThreshold)
	}
	if d.DatabaseWriteFailureWindow <= 0 {
		return fmt.Errorf("database_write_failure_window must be positive, got %v", d.DatabaseWriteFailureWindow)
	}
	return nil
}

func (v *Validator) validateWorkerPool() error {
	q := v.cfg.WorkerPool
	if q == nil {
		return fmt.Errorf("worker pool configuration is nil")
	}
	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %v", q.TaskTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return fmt.Errorf("retention configuration is nil")
	}
	if r.AuditRetentionDays < 1 {
		return fmt.Errorf("audit_retention_days must be at least 1, got %d", r.AuditRetentionDays)
	}
	if r.FilingEventRetentionDays < 1 {
		return fmt.Errorf("filing_event_retention_days must be at least 1, got %d", r.FilingEventRetentionDays)
	}
	if r.WriteFailureRetentionDays < 1 {
		return fmt.Errorf("write_failure_retention_days must be at least 1, got %d", r.WriteFailureRetentionDays)
	}
	if r.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %v", r.CleanupInterval)
	}
	return nil
}

func (v *Validator) validateHTTPClient() error {
	h := v.cfg.HTTPClient
	if h == nil {
		return fmt.Errorf("http client configuration is nil")
	}
	if h.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	if h.DefaultRatePerSecond <= 0 {
		return fmt.Errorf("default_rate_per_second must be positive, got %v", h.DefaultRatePerSecond)
	}
	for host, rate := range h.HostRates {
		if rate <= 0 {
			return fmt.Errorf("host_rates[%s] must be positive, got %v", host, rate)
		}
	}
	if h.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be non-negative, got %d", h.RetryAttempts)
	}
	if h.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", h.Timeout)
	}
	return nil
}

func (v *Validator) validateMarketHours() error {
	m := v.cfg.MarketHours
	if m == nil {
		return fmt.Errorf("market hours configuration is nil")
	}
	if m.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if m.Open == "" || m.Close == "" {
		return fmt.Errorf("open and close are required")
	}
	return nil
}

func (v *Validator) validateAgents() error {
	for name, agent := range v.cfg.AgentRegistry.GetAll() {
		if !agent.Kind.IsValid() {
			return NewValidationError("agent", name, "kind", fmt.Errorf("invalid agent kind: %s", agent.Kind))
		}
		if agent.Kind == AgentKindScheduled && agent.IntervalSeconds <= 0 &&
			agent.OncePerDayAfter == "" && agent.OnceWeeklyAfter == "" {
			return NewValidationError("agent", name, "interval_seconds",
				fmt.Errorf("scheduled agent must set interval_seconds, once_per_day_after, or once_weekly_after"))
		}
		if agent.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(agent.LLMProvider) {
			return NewValidationError("agent", name, "llm_provider", fmt.Errorf("LLM provider '%s' not found", agent.LLMProvider))
		}
	}
	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}
		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}
		if provider.MaxRetries < 0 {
			return NewValidationError("llm_provider", name, "max_retries", fmt.Errorf("must be non-negative"))
		}
	}
	return nil
}

func (v *Validator) validateChat() error {
	c := v.cfg.Chat
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Channel == "" {
		return fmt.Errorf("chat.channel is required when chat is enabled")
	}
	if c.TokenEnv == "" {
		return fmt.Errorf("chat.token_env is required when chat is enabled")
	}
	if token := os.Getenv(c.TokenEnv); token == "" {
		return fmt.Errorf("chat.token_env: environment variable %s is not set", c.TokenEnv)
	}
	if c.MessageChunkSize < 1 {
		return fmt.Errorf("chat.message_chunk_size must be at least 1, got %d", c.MessageChunkSize)
	}
	return nil
}
