package config

import (
	"fmt"
	"sync"
	"time"
)

// AgentConfig defines a single agent: either a scheduled task the control
// loop ticks directly, or a filing-triggered handler the dispatcher fans
// classified filings out to.
type AgentConfig struct {
	Name        string    `yaml:"name"`
	Kind        AgentKind `yaml:"kind" validate:"required"`
	Description string    `yaml:"description,omitempty"`

	// Scheduled-kind fields. IntervalSeconds is the base tick period;
	// MarketHoursGate restricts eligibility to exchange trading hours;
	// OncePerDayAfter/OnceWeeklyAfter gate to at most once per day/week
	// after the given HH:MM (day-of-week prefix allowed for weekly, e.g. "Mon 06:00").
	IntervalSeconds int    `yaml:"interval_seconds,omitempty"`
	MarketHoursGate bool   `yaml:"market_hours_gate,omitempty"`
	OncePerDayAfter string `yaml:"once_per_day_after,omitempty"`
	OnceWeeklyAfter string `yaml:"once_weekly_after,omitempty"`

	LLMProvider string        `yaml:"llm_provider,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// AgentRegistry stores agent configurations in memory with thread-safe access.
type AgentRegistry struct {
	agents map[string]*AgentConfig
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry from a defensive copy of the input map.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	copied := make(map[string]*AgentConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{agents: copied}
}

// Get retrieves an agent configuration by name (thread-safe).
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// GetAll returns all agent configurations (thread-safe, returns a copy).
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists in the registry (thread-safe).
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[name]
	return exists
}

// Len returns the number of agents in the registry (thread-safe).
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ScheduledNames returns the names of every scheduled-kind agent, for the
// control loop to tick on each pass.
func (r *AgentRegistry) ScheduledNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, agent := range r.agents {
		if agent.Kind == AgentKindScheduled {
			names = append(names, name)
		}
	}
	return names
}

// FilingNames returns the names of every filing-kind agent, for validating
// that a classifier's agents_needed list only references real handlers.
func (r *AgentRegistry) FilingNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, agent := range r.agents {
		if agent.Kind == AgentKindFiling {
			names = append(names, name)
		}
	}
	return names
}
