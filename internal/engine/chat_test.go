package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *Chat {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewChat(Config{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestChat_Invoke(t *testing.T) {
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  the answer  "}},
			},
		})
	})

	out, err := c.Invoke(context.Background(), Request{System: "be terse", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out, "response is trimmed")
}

func TestChat_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "recovered"}},
			},
		})
	})

	out, err := c.Invoke(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChat_NonRetryableStatus(t *testing.T) {
	var calls int32
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	})

	_, err := c.Invoke(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures are not retried")
}

func TestChat_EmptyChoices(t *testing.T) {
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})
	_, err := c.Invoke(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
}

func TestNewChat_RequiresAPIKey(t *testing.T) {
	_, err := NewChat(Config{Provider: "openai"})
	require.Error(t, err)
}

func TestNew_SelectsProvider(t *testing.T) {
	eng, err := New(Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Chat{}, eng)

	_, err = New(Config{Provider: "nonsense"})
	require.Error(t, err)
}
