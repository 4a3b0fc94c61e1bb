package ai

import (
	"errors"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	Local     LLMConfig
	Remote    LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// LLMConfig represents one inference backend.
type LLMConfig struct {
	Provider       string // ollama, llamacpp, openai, deepseek, anthropic
	Model          string
	APIKey         string
	BaseURL        string
	MaxTokens      int     // default: 2048
	Temperature    float32 // default: 0.7
	TimeoutSeconds int
	MaxConcurrency int     // local only
	RPS            float64 // remote only
	Burst          int     // remote only
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   p.EmbeddingProvider,
			Model:      p.EmbeddingModel,
			APIKey:     p.EmbeddingAPIKey,
			BaseURL:    p.EmbeddingBaseURL,
			Dimensions: p.EmbeddingDimensions,
		},
		Local: LLMConfig{
			Provider:       p.LocalProvider,
			Model:          p.LocalModel,
			APIKey:         p.LocalAPIKey,
			BaseURL:        p.LocalBaseURL,
			MaxTokens:      2048,
			Temperature:    0.7,
			TimeoutSeconds: p.LocalTimeout,
			MaxConcurrency: p.LocalMaxConcurrency,
		},
		Remote: LLMConfig{
			Provider:       p.RemoteProvider,
			Model:          p.RemoteModel,
			APIKey:         p.RemoteAPIKey,
			BaseURL:        p.RemoteBaseURL,
			MaxTokens:      2048,
			Temperature:    0.7,
			TimeoutSeconds: p.RemoteTimeout,
			RPS:            p.RemoteRPS,
			Burst:          p.RemoteBurst,
		},
	}
}

// Validate checks the AI configuration.
func (c *Config) Validate() error {
	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if c.Local.Model == "" || c.Local.BaseURL == "" {
		return errors.New("local backend requires a model and base url")
	}
	if c.Remote.Model == "" {
		return errors.New("remote backend requires a model")
	}
	if c.Remote.Provider != "ollama" && c.Remote.Provider != "llamacpp" && c.Remote.APIKey == "" {
		return errors.New("remote backend requires an api key")
	}
	return nil
}
