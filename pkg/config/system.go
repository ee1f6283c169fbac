package config

import "time"

// MarketHoursConfig gates market-hours-dependent scheduled agents (e.g. the
// price updater) to exchange trading hours in exchange-local time.
type MarketHoursConfig struct {
	Timezone string `yaml:"timezone"` // IANA zone, e.g. "America/New_York"
	Open     string `yaml:"open"`     // "HH:MM", exchange-local
	Close    string `yaml:"close"`    // "HH:MM", exchange-local
}

// DefaultMarketHoursConfig returns Mon-Fri 09:00-16:00 America/New_York.
func DefaultMarketHoursConfig() *MarketHoursConfig {
	return &MarketHoursConfig{
		Timezone: "America/New_York",
		Open:     "09:00",
		Close:    "16:00",
	}
}

// HTTPClientConfig configures the rate-limited outbound HTTP client shared
// by the filing poller and the price/news collaborators.
type HTTPClientConfig struct {
	UserAgent string `yaml:"user_agent"`

	// DefaultRatePerSecond applies to any host not listed in HostRates.
	DefaultRatePerSecond float64 `yaml:"default_rate_per_second"`

	// HostRates overrides the per-second token-bucket rate for specific
	// hosts (e.g. the regulator feed host defaults to 10 rps).
	HostRates map[string]float64 `yaml:"host_rates,omitempty"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DefaultHTTPClientConfig returns the built-in HTTP client defaults.
func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		UserAgent:            "spacmon/1.0 (+https://github.com/medxprts/spacmon)",
		DefaultRatePerSecond: 5,
		HostRates:            map[string]float64{},
		RetryAttempts:        3,
		RetryBaseDelay:       500 * time.Millisecond,
		Timeout:              10 * time.Second,
	}
}

// ChatConfig configures the outbound operator chat transport. The concrete
// backend is Slack; Enabled gates whether notifications and the review
// queue's approval commands are wired up at all.
type ChatConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TokenEnv         string `yaml:"token_env"`
	Channel          string `yaml:"channel"`
	MessageChunkSize int    `yaml:"message_chunk_size"`
}

// DefaultChatConfig returns the built-in chat defaults (disabled until a
// channel and token are configured).
func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		Enabled:          false,
		TokenEnv:         "SLACK_BOT_TOKEN",
		Channel:          "",
		MessageChunkSize: 3800,
	}
}
