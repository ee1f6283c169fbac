package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SpacmonYAMLConfig represents the complete spacmon.yaml file structure.
type SpacmonYAMLConfig struct {
	Agents      map[string]AgentConfig `yaml:"agents"`
	Defaults    *Defaults              `yaml:"defaults"`
	MarketHours *MarketHoursConfig     `yaml:"market_hours"`
	HTTPClient  *HTTPClientConfig      `yaml:"http_client"`
	WorkerPool  *WorkerPoolConfig      `yaml:"worker_pool"`
	Retention   *RetentionConfig       `yaml:"retention"`
	Chat        *ChatConfig            `yaml:"chat"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined agents and LLM providers
//  5. Merge user-provided thresholds/settings over built-in defaults
//  6. Build in-memory registries
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	spacmonConfig, err := loader.loadSpacmonYAML()
	if err != nil {
		return nil, NewLoadError("spacmon.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	builtin := GetBuiltinConfig()

	agents := mergeAgents(builtin.Agents, spacmonConfig.Agents)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	agentRegistry := NewAgentRegistry(agents)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	defaults := DefaultDefaults()
	if spacmonConfig.Defaults != nil {
		if err := mergo.Merge(defaults, spacmonConfig.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}

	marketHours := DefaultMarketHoursConfig()
	if spacmonConfig.MarketHours != nil {
		if err := mergo.Merge(marketHours, spacmonConfig.MarketHours, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge market hours config: %w", err)
		}
	}

	httpClient := DefaultHTTPClientConfig()
	if spacmonConfig.HTTPClient != nil {
		if err := mergo.Merge(httpClient, spacmonConfig.HTTPClient, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge HTTP client config: %w", err)
		}
		for host, rate := range spacmonConfig.HTTPClient.HostRates {
			httpClient.HostRates[host] = rate
		}
	}
	if _, ok := httpClient.HostRates["www.sec.gov"]; !ok {
		httpClient.HostRates["www.sec.gov"] = 10
	}

	workerPool := DefaultWorkerPoolConfig()
	if spacmonConfig.WorkerPool != nil {
		if err := mergo.Merge(workerPool, spacmonConfig.WorkerPool, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge worker pool config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if spacmonConfig.Retention != nil {
		if err := mergo.Merge(retention, spacmonConfig.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	chat := DefaultChatConfig()
	if spacmonConfig.Chat != nil {
		if err := mergo.Merge(chat, spacmonConfig.Chat, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge chat config: %w", err)
		}
	}

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		MarketHours:         marketHours,
		HTTPClient:          httpClient,
		WorkerPool:          workerPool,
		Retention:           retention,
		Chat:                chat,
		AgentRegistry:       agentRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using ${VAR} syntax before the YAML
	// parser sees the content; unset variables expand to empty strings.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadSpacmonYAML() (*SpacmonYAMLConfig, error) {
	var config SpacmonYAMLConfig
	config.Agents = make(map[string]AgentConfig)

	path := filepath.Join(l.configDir, "spacmon.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &config, nil
	}

	if err := l.loadYAML("spacmon.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig
	config.LLMProviders = make(map[string]LLMProviderConfig)

	path := filepath.Join(l.configDir, "llm-providers.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LLMProviders, nil
	}

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}
	return config.LLMProviders, nil
}
