// Package backend adapts LLM services to the coordinator's backend capability:
// generate(prompt, context) -> {text, token_cost}, failing with
// ErrBackendUnavailable or ErrBackendTimeout.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/MasterofNull/hybrid-coordinator/ai/core/llm"
)

var (
	// ErrBackendUnavailable means the backend could not produce an answer.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendTimeout means the backend did not answer within its budget.
	ErrBackendTimeout = errors.New("backend timeout")
)

// Names of the two backends.
const (
	Local  = "local"
	Remote = "remote"
)

// Error is a failed generate call. It matches ErrBackendUnavailable or
// ErrBackendTimeout with errors.Is, and also unwraps to the cause.
type Error struct {
	Backend string
	Kind    error
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend: %v: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Result is a generated answer.
type Result struct {
	Text      string
	TokenCost int64
	ModelID   string
}

// Backend generates answers.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, snippets []string) (*Result, error)
}

// LLMBackend is a Backend over an llm.Service with optional admission control.
type LLMBackend struct {
	name    string
	svc     llm.Service
	timeout time.Duration
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewLocal bounds concurrent calls to the local engine, which serves one
// GPU and degrades badly when oversubscribed.
func NewLocal(svc llm.Service, maxConcurrency int, timeout time.Duration) *LLMBackend {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &LLMBackend{
		name:    Local,
		svc:     svc,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// NewRemote limits the request rate to the costed remote provider.
// rps <= 0 disables the limiter.
func NewRemote(svc llm.Service, rps float64, burst int, timeout time.Duration) *LLMBackend {
	b := &LLMBackend{
		name:    Remote,
		svc:     svc,
		timeout: timeout,
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return b
}

func (b *LLMBackend) Name() string {
	return b.name
}

func (b *LLMBackend) Generate(ctx context.Context, prompt string, snippets []string) (*Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return nil, b.classify(err)
		}
		defer b.sem.Release(1)
	}
	if b.limiter != nil {
		// Wait fails early when the reservation would outlive the deadline.
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, &Error{Backend: b.name, Kind: ErrBackendTimeout, Err: err}
		}
	}

	text, stats, err := b.svc.Chat(ctx, BuildMessages(prompt, snippets))
	if err != nil {
		return nil, b.classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Backend: b.name, Kind: ErrBackendUnavailable, Err: errors.New("empty answer")}
	}

	cost := int64(0)
	if stats != nil {
		cost = int64(stats.TotalTokens)
	}
	if cost == 0 {
		cost = EstimateTokens(prompt) + EstimateTokens(strings.Join(snippets, "\n")) + EstimateTokens(text)
	}
	return &Result{Text: text, TokenCost: cost, ModelID: b.svc.Model()}, nil
}

func (b *LLMBackend) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Backend: b.name, Kind: ErrBackendTimeout, Err: err}
	}
	return &Error{Backend: b.name, Kind: ErrBackendUnavailable, Err: err}
}

// EstimateTokens approximates a token count at four bytes per token.
func EstimateTokens(s string) int64 {
	if s == "" {
		return 0
	}
	return int64(len(s)+3) / 4
}

const systemPrompt = `You answer questions from developer tools and agents. Be precise and concise.
Prefer declarative configuration and complete, runnable examples.`

// BuildMessages renders the prompt with its context snippets.
func BuildMessages(prompt string, snippets []string) []llm.Message {
	sys := systemPrompt
	if len(snippets) > 0 {
		var b strings.Builder
		b.WriteString(systemPrompt)
		b.WriteString("\n\nRelevant context:\n")
		for i, s := range snippets {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(s))
		}
		sys = b.String()
	}
	return llm.FormatMessages(sys, prompt, nil)
}
