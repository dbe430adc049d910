// Package llmfactory loads the application configuration and constructs the
// configured language model providers.
package llmfactory

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Config is the top level application configuration, loaded from YAML or
// JSON with environment variable expansion.
type Config struct {
	Providers []*ProviderConfig `json:"providers" yaml:"providers" validate:"required,min=1,dive"`

	// Assistant holds the chat loop defaults.
	Assistant AssistantConfig `json:"assistant" yaml:"assistant"`

	// MCPServers lists the tool servers to launch, in connection order.
	MCPServers []ServerConfig `json:"mcp_servers" yaml:"mcp_servers" validate:"dive"`

	// Storage configures conversation history persistence. When empty the
	// history lives in process memory.
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig selects the conversation history backend.
type StorageConfig struct {
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig points at a Redis instance for conversation history.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// ProviderConfig describes one LLM provider.
type ProviderConfig struct {
	Name         string          `json:"name" yaml:"name" validate:"required"`
	Token        string          `json:"token,omitempty" yaml:"token,omitempty"`
	DefaultModel string          `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	Anthropic    AnthropicConfig `json:"anthropic" yaml:"anthropic"`
}

// AnthropicConfig specifies options for the Anthropic provider.
type AnthropicConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// AssistantConfig holds the chat loop defaults.
type AssistantConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	MaxRounds    int    `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty" validate:"gte=0"`
}

// ServerConfig describes how to launch one tool server.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name" validate:"required"`
	Command string            `json:"command" yaml:"command" validate:"required"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	err = validator.New().Struct(cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration: %s", file)
	}
	return cfg, nil
}
