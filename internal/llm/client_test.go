package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientComplete(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string

	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "test-model",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": `{"action":"hold"}`}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	})

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, APIKey: "sk-test"}, zerolog.Nop())
	out, err := c.Complete(context.Background(), CompletionRequest{
		System:      "you are a trader",
		User:        "decide",
		Model:       "test-model",
		Temperature: 0.2,
		MaxTokens:   512,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"action":"hold"}`, out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "test-model", gotReq.Model)
}

func TestHTTPClientBadRequestIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model not found", "type": "invalid_request"},
		})
	})

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, InitialBackoff: time.Millisecond}, zerolog.Nop())
	_, err := c.Complete(context.Background(), CompletionRequest{User: "decide"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load(), "client errors must not be retried")
}

func TestHTTPClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "rate limit exceeded", "type": "rate_limit"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": `{"action":"hold"}`}},
			},
		})
	})

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, InitialBackoff: time.Millisecond}, zerolog.Nop())
	out, err := c.Complete(context.Background(), CompletionRequest{User: "decide"})

	require.NoError(t, err)
	assert.Equal(t, `{"action":"hold"}`, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientRetriesGatewayErrorUntilExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c := NewHTTPClient(HTTPClientConfig{
		Endpoint:       srv.URL,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}, zerolog.Nop())
	_, err := c.Complete(context.Background(), CompletionRequest{User: "decide"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClientEmptyChoices(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	})

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL}, zerolog.Nop())
	_, err := c.Complete(context.Background(), CompletionRequest{User: "decide"})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestHTTPClientContextCancellation(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL}, zerolog.Nop())
	_, err := c.Complete(ctx, CompletionRequest{User: "decide"})
	require.Error(t, err)
}
