package config

import "time"

// builtinConfig holds the shipped defaults for agents and LLM providers.
// User YAML merges on top of these (mergeAgents, mergeLLMProviders).
type builtinConfig struct {
	Agents       map[string]AgentConfig
	LLMProviders map[string]LLMProviderConfig
}

// GetBuiltinConfig returns the built-in agent and LLM provider definitions.
func GetBuiltinConfig() *builtinConfig {
	return &builtinConfig{
		Agents: map[string]AgentConfig{
			"filing_poller": {
				Kind:            AgentKindScheduled,
				Description:     "Polls the regulator feed for new filings per tracked entity.",
				IntervalSeconds: 900,
			},
			"price_updater": {
				Kind:            AgentKindScheduled,
				Description:     "Refreshes last price and premium for tracked entities.",
				IntervalSeconds: 300,
				MarketHoursGate: true,
			},
			"daily_digest": {
				Kind:            AgentKindScheduled,
				Description:     "Summarizes the day's filings and alerts into a single chat message.",
				OncePerDayAfter: "23:55",
			},
			"deal_signal_aggregator": {
				Kind:            AgentKindScheduled,
				Description:     "Aggregates weekly deal-rumor signals into accelerated-polling triggers.",
				OnceWeeklyAfter: "Mon 06:00",
			},
			"deal_terms": {
				Kind:        AgentKindFiling,
				Description: "Extracts merger agreement terms from 8-K item 1.01 filings.",
				Timeout:     30 * time.Second,
			},
			"trust_account": {
				Kind:        AgentKindFiling,
				Description: "Extracts trust account balance and per-share figures.",
				Timeout:     30 * time.Second,
			},
			"redemption": {
				Kind:        AgentKindFiling,
				Description: "Extracts shareholder redemption results from vote/tender filings.",
				Timeout:     30 * time.Second,
			},
			"extension": {
				Kind:        AgentKindFiling,
				Description: "Extracts deadline extension votes and amended trust terms.",
				Timeout:     30 * time.Second,
			},
			"liquidation": {
				Kind:        AgentKindFiling,
				Description: "Detects and records liquidation / dissolution filings.",
				Timeout:     30 * time.Second,
			},
			"vote_results": {
				Kind:        AgentKindFiling,
				Description: "Extracts shareholder vote outcomes (8-K item 5.07).",
				Timeout:     30 * time.Second,
			},
			"warrant_exercise": {
				Kind:        AgentKindFiling,
				Description: "Tracks warrant exercise and redemption activity.",
				Timeout:     30 * time.Second,
			},
			"general_8k": {
				Kind:        AgentKindFiling,
				Description: "Catch-all low-priority summary for unclassified 8-K items.",
				Timeout:     30 * time.Second,
			},
		},
		LLMProviders: map[string]LLMProviderConfig{
			"default": {
				Model:      "gpt-4o-mini",
				APIKeyEnv:  "OPENAI_API_KEY",
				Timeout:    30 * time.Second,
				MaxRetries: 1,
			},
		},
	}
}
