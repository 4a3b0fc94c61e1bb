package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/ai/core/llm"
)

type mockLLM struct {
	text     string
	stats    *llm.LLMCallStats
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	messages []llm.Message
	mu       sync.Mutex
}

func (m *mockLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	m.mu.Lock()
	m.messages = messages
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	return m.text, m.stats, m.err
}

func (m *mockLLM) Warmup(context.Context) {}
func (m *mockLLM) Model() string          { return "mock-model" }

func TestGenerate_Success(t *testing.T) {
	svc := &mockLLM{text: "answer", stats: &llm.LLMCallStats{TotalTokens: 42}}
	b := NewRemote(svc, 0, 0, time.Second)

	res, err := b.Generate(context.Background(), "question", []string{"snippet one"})
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Text)
	assert.Equal(t, int64(42), res.TokenCost)
	assert.Equal(t, "mock-model", res.ModelID)
	assert.Equal(t, Remote, b.Name())

	require.Len(t, svc.messages, 2)
	assert.Contains(t, svc.messages[0].Content, "[1] snippet one")
	assert.Equal(t, "question", svc.messages[1].Content)
}

func TestGenerate_EstimatesCostWithoutUsage(t *testing.T) {
	b := NewLocal(&mockLLM{text: "12345678"}, 1, time.Second)
	res, err := b.Generate(context.Background(), "abcd", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TokenCost)
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		svc     *mockLLM
		timeout time.Duration
		want    error
	}{
		{"provider error", &mockLLM{err: errors.New("connection refused")}, time.Second, ErrBackendUnavailable},
		{"empty answer", &mockLLM{text: "  "}, time.Second, ErrBackendUnavailable},
		{"deadline", &mockLLM{text: "late", delay: time.Second}, 20 * time.Millisecond, ErrBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewLocal(tt.svc, 1, tt.timeout)
			_, err := b.Generate(context.Background(), "q", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var be *Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, Local, be.Backend)
		})
	}
}

func TestLocal_BoundsConcurrency(t *testing.T) {
	svc := &mockLLM{text: "ok", delay: 20 * time.Millisecond}
	b := NewLocal(svc, 2, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Generate(context.Background(), "q", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, svc.peak.Load(), int32(2))
}

func TestRemote_RateLimitPastDeadlineIsTimeout(t *testing.T) {
	svc := &mockLLM{text: "ok"}
	b := NewRemote(svc, 0.01, 1, 50*time.Millisecond)

	_, err := b.Generate(context.Background(), "first", nil)
	require.NoError(t, err)

	_, err = b.Generate(context.Background(), "second", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendTimeout)
}

func TestBuildMessages_NoContext(t *testing.T) {
	msgs := BuildMessages("q", nil)
	require.Len(t, msgs, 2)
	assert.NotContains(t, msgs[0].Content, "Relevant context")
}
