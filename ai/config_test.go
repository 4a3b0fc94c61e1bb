package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
)

func TestNewConfigFromProfile(t *testing.T) {
	prof := &profile.Profile{
		EmbeddingProvider:   "ollama",
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingBaseURL:    "http://localhost:11434/v1",
		EmbeddingDimensions: 768,
		LocalProvider:       "ollama",
		LocalModel:          "llama3.1",
		LocalBaseURL:        "http://localhost:11434/v1",
		LocalTimeout:        30,
		LocalMaxConcurrency: 2,
		RemoteProvider:      "anthropic",
		RemoteModel:         "claude-sonnet-4-5",
		RemoteAPIKey:        "sk-test",
		RemoteTimeout:       45,
		RemoteRPS:           2,
		RemoteBurst:         4,
	}

	cfg := NewConfigFromProfile(prof)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, "llama3.1", cfg.Local.Model)
	assert.Equal(t, 2, cfg.Local.MaxConcurrency)
	assert.Equal(t, 30, cfg.Local.TimeoutSeconds)
	assert.Equal(t, "anthropic", cfg.Remote.Provider)
	assert.Equal(t, 45, cfg.Remote.TimeoutSeconds)
	assert.InDelta(t, 2.0, cfg.Remote.RPS, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Embedding: EmbeddingConfig{Model: "m", Dimensions: 8},
			Local:     LLMConfig{Provider: "ollama", Model: "llama", BaseURL: "http://localhost:11434/v1"},
			Remote:    LLMConfig{Provider: "openai", Model: "gpt", APIKey: "k"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing embedding model", func(c *Config) { c.Embedding.Model = "" }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"missing local base url", func(c *Config) { c.Local.BaseURL = "" }},
		{"missing remote key", func(c *Config) { c.Remote.APIKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Remote = LLMConfig{Provider: "ollama", Model: "llama"}
	assert.NoError(t, c.Validate(), "a local-network remote needs no key")
}
