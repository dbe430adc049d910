package llmfactory_test

import (
	"testing"

	"github.com/nimbus-ai/nimbus/llmfactory"
	"github.com/nimbus-ai/nimbus/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoadConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "ANTHROPIC", cfg.Providers[0].Name)
	assert.Equal(t, "fakekey", cfg.Providers[0].Token, "token must be expanded from the environment")
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Providers[0].DefaultModel)
	assert.Equal(t, "https://llm-proxy.internal.example.com", cfg.Providers[1].Anthropic.BaseURL)

	assert.Equal(t, "You are a helpful weather assistant.", cfg.Assistant.SystemPrompt)
	assert.Equal(t, 2048, cfg.Assistant.MaxTokens)
	assert.Equal(t, 6, cfg.Assistant.MaxRounds)

	require.Len(t, cfg.MCPServers, 1)
	assert.Equal(t, "weather", cfg.MCPServers[0].Name)
	assert.Equal(t, "bin/nimbus-weather", cfg.MCPServers[0].Command)
	assert.Equal(t, "debug", cfg.MCPServers[0].Env["LOG_LEVEL"])

	assert.Equal(t, "127.0.0.1:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "nimbus", cfg.Storage.Redis.Prefix)

	// Empty location yields an empty config.
	cfg, err = llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)

	_, err = llmfactory.LoadConfig("testdata/non-existent.yaml")
	require.Error(t, err)

	// Missing provider name and server command fail validation.
	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func Test_Factory(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")

	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)

	model, err := f.DefaultModel()
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, "claude-sonnet-4-20250514", model.GetName())
	assert.Equal(t, llms.ProviderAnthropic, model.GetProviderType())

	// The factory caches per provider name.
	again, err := f.ModelByName("ANTHROPIC")
	require.NoError(t, err)
	assert.Same(t, model, again)

	proxy, err := f.ModelByName("ANTHROPIC_PROXY")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", proxy.GetName())

	_, err = f.ModelByName("OPEN_AI")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not found for name: OPEN_AI")

	empty := llmfactory.New(&llmfactory.Config{})
	_, err = empty.DefaultModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers configured")
}

func Test_Load(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")

	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)
}
