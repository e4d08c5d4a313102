package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/types"
)

func newChatServer(t *testing.T, handler func(req chatRequest) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		text, status := handler(req)
		if status >= 400 {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"backend error"}`))
			return
		}

		resp := chatResponse{Model: req.Model}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: text}})
		resp.Usage.TotalTokens = 10

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIProvider_Complete(t *testing.T) {
	server := newChatServer(t, func(req chatRequest) (string, int) {
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		return "generated answer", http.StatusOK
	})
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL})

	text, err := p.Complete(context.Background(), "tell me about Go")
	require.NoError(t, err)
	assert.Equal(t, "generated answer", text)
}

func TestOpenAIProvider_SystemPrompt(t *testing.T) {
	server := newChatServer(t, func(req chatRequest) (string, int) {
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be terse", req.Messages[0].Content)
		return "ok", http.StatusOK
	})
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL})

	_, err := p.CompleteWithRequest(context.Background(), &CompletionRequest{
		Prompt:       "q",
		SystemPrompt: "be terse",
	})
	require.NoError(t, err)
}

func TestOpenAIProvider_RetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(req chatRequest) (string, int) {
		if calls.Add(1) == 1 {
			return "", http.StatusTooManyRequests
		}
		return "recovered", http.StatusOK
	})
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 1})

	text, err := p.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_NoRetryOnValidation(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(req chatRequest) (string, int) {
		calls.Add(1)
		return "", http.StatusBadRequest
	})
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 2})

	_, err := p.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
	// 校验类错误不应重试
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIProvider_BoundedRetries(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(req chatRequest) (string, int) {
		calls.Add(1)
		return "", http.StatusServiceUnavailable
	})
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 1})

	_, err := p.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrDependencyUnavailable, types.CodeOf(err))
	assert.Equal(t, int32(2), calls.Load())
}
