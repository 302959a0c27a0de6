package perception

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletion_Fallback(t *testing.T) {
	c := NewCompletion(ProviderGemini, "m", "  \n ")
	assert.True(t, c.Empty)
	assert.Equal(t, NoOutputText, c.Text)

	c = NewCompletion(ProviderGemini, "m", " {\"a\":1}\n")
	assert.False(t, c.Empty)
	assert.Equal(t, `{"a":1}`, c.Text)
}

func TestContextLabels(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, StepFromContext(ctx))
	assert.Empty(t, RunIDFromContext(ctx))

	ctx = WithRunID(WithStep(ctx, "decomposition"), "run-1")
	assert.Equal(t, "decomposition", StepFromContext(ctx))
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
}

func TestAnthropicClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var req AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)
		assert.NotEmpty(t, req.System)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\": true}"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":3}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL, Model: "claude-test"})
	comp, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, comp.Text)
	assert.Equal(t, ProviderAnthropic, comp.Provider)
	assert.Equal(t, "end_turn", comp.FinishReason)
	assert.Equal(t, 5, comp.InputTokens)
	assert.Equal(t, 3, comp.OutputTokens)
}

func TestAnthropicClient_EmptyResponseFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	comp, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, comp.Empty)
	assert.Equal(t, NoOutputText, comp.Text)
}

func TestAnthropicClient_RetriesTransientStatus(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"done"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	client.retryBase = time.Millisecond

	comp, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "done", comp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestAnthropicClient_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	client.retryBase = time.Millisecond

	_, err := client.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestAnthropicClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	client.retryBase = time.Millisecond

	_, err := client.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestAnthropicClient_MissingKey(t *testing.T) {
	client := NewAnthropicClientWithConfig(AnthropicConfig{})
	_, err := client.Complete(context.Background(), "hello")
	require.Error(t, err)
}

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req OpenAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Write([]byte(`{"choices":[{"message":{"content":"{\"a\":1}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2}}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, JSONMode: true})
	comp, err := client.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, comp.Text)
	assert.Equal(t, "stop", comp.FinishReason)
	assert.Equal(t, 7, comp.InputTokens)
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	comp, err := client.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, comp.Empty)
}

func TestOpenAIClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	client.retryBase = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiConfig{})
	require.Error(t, err)
}
