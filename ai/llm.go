package ai

import (
	"fmt"
	"time"

	"github.com/MasterofNull/hybrid-coordinator/ai/backend"
	"github.com/MasterofNull/hybrid-coordinator/ai/core/llm"
)

// NewLLMService creates the chat service behind one backend.
func NewLLMService(cfg *LLMConfig) (llm.Service, error) {
	return llm.NewService(&llm.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.TimeoutSeconds,
	})
}

func (c *LLMConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NewBackends creates the local backend, bounded by MaxConcurrency, and the
// remote backend, rate limited by RPS and Burst.
func (c *Config) NewBackends() (local, remote *backend.LLMBackend, err error) {
	localSvc, err := NewLLMService(&c.Local)
	if err != nil {
		return nil, nil, fmt.Errorf("local backend: %w", err)
	}
	remoteSvc, err := NewLLMService(&c.Remote)
	if err != nil {
		return nil, nil, fmt.Errorf("remote backend: %w", err)
	}
	local = backend.NewLocal(localSvc, c.Local.MaxConcurrency, c.Local.timeout())
	remote = backend.NewRemote(remoteSvc, c.Remote.RPS, c.Remote.Burst, c.Remote.timeout())
	return local, remote, nil
}
