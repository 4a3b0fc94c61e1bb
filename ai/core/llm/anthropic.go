package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicService struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

func newAnthropicService(cfg *Config) *anthropicService {
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Fallback to the other backend is the retry policy.
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &anthropicService{
		client:    anthropic.NewClient(options...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		timeout:   cfg.timeout(),
	}
}

func (s *anthropicService) Model() string {
	return s.model
}

func (s *anthropicService) Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
	}
	var system []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	startTime := time.Now()
	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", nil, fmt.Errorf("anthropic chat failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", nil, fmt.Errorf("empty response from anthropic")
	}

	stats := &LLMCallStats{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		TotalDurationMs:  time.Since(startTime).Milliseconds(),
	}
	slog.Debug("LLM: anthropic response received",
		"model", s.model,
		"total_tokens", stats.TotalTokens,
		"duration_ms", stats.TotalDurationMs,
	)
	return text.String(), stats, nil
}

func (s *anthropicService) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.Messages.New(warmupCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("Hi"))},
	})
	if err != nil {
		slog.Warn("LLM: anthropic warmup failed", "model", s.model, "error", err)
		return
	}
	slog.Info("LLM: anthropic connection warmed up", "model", s.model)
}
