package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

type stubRecorder struct {
	calls int
	errs  int
}

func (r *stubRecorder) RecordLLMRequest(model string, err error, d time.Duration) {
	r.calls++
	if err != nil {
		r.errs++
	}
}

func TestCompleteSendsRequest(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	rec := &stubRecorder{}
	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"}, logging.NewDiscard(), rec)

	reply, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply.Content)
	assert.Equal(t, RoleAssistant, reply.Role)
	assert.Equal(t, 7, reply.TotalTokens)

	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.InDelta(t, 0.7, got["temperature"], 0.0001)
	assert.Equal(t, float64(800), got["max_tokens"])
	assert.Len(t, got["messages"], 2)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 0, rec.errs)
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	}))
	defer srv.Close()

	rec := &stubRecorder{}
	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, logging.NewDiscard(), rec)

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limit reached")
	assert.Equal(t, 1, rec.errs)
}

func TestCompleteWithoutKey(t *testing.T) {
	c := NewClient(Config{}, logging.NewDiscard(), nil)
	_, err := c.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{"system", "user", "assistant"} {
		assert.True(t, ValidRole(role), role)
	}
	assert.False(t, ValidRole("tool"))
}
