package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/chatui/runtime/chatui/toolmsg"
)

type (
	// config is the chatui server configuration file.
	config struct {
		// Addr is the HTTP listen address.
		Addr string `yaml:"addr"`
		// Model selects and configures the model provider.
		Model modelConfig `yaml:"model"`
		// History selects the chat history backend.
		History historyConfig `yaml:"history"`
		// Pulse, when enabled, mirrors every streamed part to Redis.
		Pulse pulseConfig `yaml:"pulse"`
		// ToolMessages overrides the tool status titles.
		ToolMessages toolmsg.Messages `yaml:"tool_messages"`
		// Artifacts enables the code artifact output tool.
		Artifacts bool `yaml:"artifacts"`
	}

	modelConfig struct {
		Provider    string  `yaml:"provider"`
		ID          string  `yaml:"id"`
		APIKeyEnv   string  `yaml:"api_key_env"`
		System      string  `yaml:"system"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		MaxSteps    int     `yaml:"max_steps"`
		// TokensPerMinute enables adaptive rate limiting when positive.
		TokensPerMinute float64 `yaml:"tokens_per_minute"`
	}

	historyConfig struct {
		Backend    string        `yaml:"backend"`
		URI        string        `yaml:"uri"`
		Database   string        `yaml:"database"`
		Collection string        `yaml:"collection"`
		Timeout    time.Duration `yaml:"timeout"`
	}

	pulseConfig struct {
		RedisAddr    string `yaml:"redis_addr"`
		StreamMaxLen int    `yaml:"stream_max_len"`
	}
)

// Supported providers and history backends.
const (
	providerAnthropic = "anthropic"
	providerOpenAI    = "openai"
	backendMemory     = "memory"
	backendMongo      = "mongo"
)

func defaultConfig() config {
	return config{
		Addr: "localhost:8080",
		Model: modelConfig{
			Provider:  providerAnthropic,
			ID:        "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		History: historyConfig{
			Backend:  backendMemory,
			Database: "chatui",
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path
// yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = defaultAPIKeyEnv(cfg.Model.Provider)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Model.Provider {
	case providerAnthropic, providerOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unsupported model provider %q", c.Model.Provider))
	}
	if c.Model.ID == "" {
		errs = append(errs, errors.New("model id is required"))
	}
	switch c.History.Backend {
	case backendMemory:
	case backendMongo:
		if c.History.URI == "" {
			errs = append(errs, errors.New("history uri is required for the mongo backend"))
		}
		if c.History.Database == "" {
			errs = append(errs, errors.New("history database is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported history backend %q", c.History.Backend))
	}
	if err := c.ToolMessages.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func defaultAPIKeyEnv(provider string) string {
	if provider == providerOpenAI {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}
