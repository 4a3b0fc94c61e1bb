package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_RequiresModel(t *testing.T) {
	_, err := NewService(&Config{Provider: "ollama"})
	assert.Error(t, err)
}

func TestNewService_ProviderSelection(t *testing.T) {
	svc, err := NewService(&Config{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k"})
	require.NoError(t, err)
	_, ok := svc.(*anthropicService)
	assert.True(t, ok)
	assert.Equal(t, "claude-sonnet-4-5", svc.Model())

	svc, err = NewService(&Config{Provider: "ollama", Model: "llama3.1", BaseURL: "http://localhost:11434/v1"})
	require.NoError(t, err)
	_, ok = svc.(*service)
	assert.True(t, ok)
}

func TestService_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3.1", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "use systemd.services"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer server.Close()

	svc, err := NewService(&Config{Provider: "ollama", Model: "llama3.1", BaseURL: server.URL + "/v1", Timeout: 5})
	require.NoError(t, err)

	text, stats, err := svc.Chat(context.Background(), FormatMessages("be brief", "enable a service", nil))
	require.NoError(t, err)
	assert.Equal(t, "use systemd.services", text)
	assert.Equal(t, 16, stats.TotalTokens)
}

func TestService_Chat_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	svc, err := NewService(&Config{Provider: "ollama", Model: "llama3.1", BaseURL: server.URL + "/v1", Timeout: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = svc.Chat(ctx, []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAnthropicService_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-5", body["model"])
		assert.NotNil(t, body["system"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "Set services.nginx.enable = true;"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	svc, err := NewService(&Config{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k", BaseURL: server.URL, Timeout: 5})
	require.NoError(t, err)

	text, stats, err := svc.Chat(context.Background(), FormatMessages("context here", "enable nginx", nil))
	require.NoError(t, err)
	assert.Equal(t, "Set services.nginx.enable = true;", text)
	assert.Equal(t, 28, stats.TotalTokens)
	assert.Equal(t, 20, stats.PromptTokens)
}

func TestFormatMessages(t *testing.T) {
	msgs := FormatMessages("sys", "user", []Message{{Role: "assistant", Content: "prev"}})
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "user", msgs[2].Role)

	msgs = FormatMessages("", "only", nil)
	require.Len(t, msgs, 1)
}
