// Package llm provides the text-completion client the decision engine
// calls, plus the global request budget shared across agents.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoChoices indicates the gateway returned an empty completion
var ErrNoChoices = errors.New("llm: no choices in response")

// CompletionRequest is one prompt for the gateway
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client is the text-in/text-out completion interface the engine
// consumes. Implementations enforce their own transport behavior; the
// engine layers semantic retries (repair, fallback) on top.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
// Each call gets a per-request deadline and bounded jittered-backoff
// retries for rate limits, gateway errors and transport failures.
type HTTPClient struct {
	endpoint       string
	apiKey         string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	httpClient     *http.Client
	log            zerolog.Logger
}

// HTTPClientConfig configures the HTTP completion client
type HTTPClientConfig struct {
	Endpoint       string
	APIKey         string
	Timeout        time.Duration // per-attempt deadline
	MaxRetries     int           // retry attempts after the first try; negative disables
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// backoffFactor is the exponential multiplier between retries
const backoffFactor = 2.0

// NewHTTPClient creates a completion client for an OpenAI-compatible API
func NewHTTPClient(config HTTPClientConfig, log zerolog.Logger) *HTTPClient {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}

	return &HTTPClient{
		endpoint:       config.Endpoint,
		apiKey:         config.APIKey,
		maxRetries:     config.MaxRetries,
		initialBackoff: config.InitialBackoff,
		maxBackoff:     config.MaxBackoff,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log: log.With().Str("component", "llm_client").Logger(),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// apiError is a non-200 gateway reply with the status kept
// machine-readable for retry classification.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("llm API error (status %d): %s", e.status, e.message)
}

// Complete sends one chat completion request, retrying transient
// failures with exponential backoff before giving up.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("completion cancelled: %w", err)
		}

		out, err := c.send(ctx, body)
		if err == nil {
			if attempt > 0 {
				c.log.Info().
					Int("attempt", attempt+1).
					Str("model", req.Model).
					Msg("LLM request succeeded after retry")
			}
			return out, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		if attempt == c.maxRetries {
			break
		}

		// Full jitter keeps N agents from hammering the gateway in
		// lockstep after an outage
		sleep := time.Duration(rand.Int63n(int64(backoff) + 1))
		c.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Msg("LLM request failed, retrying")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("completion cancelled during backoff: %w", ctx.Err())
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	return "", fmt.Errorf("llm request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// send performs a single request/response round trip
func (c *HTTPClient) send(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", &apiError{status: resp.StatusCode, message: errResp.Error.Message}
		}
		return "", &apiError{status: resp.StatusCode, message: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrNoChoices
	}

	c.log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("LLM request completed")

	return chatResp.Choices[0].Message.Content, nil
}

// isRetryable classifies completion errors. Rate limits, gateway
// errors and transport failures (per-attempt timeouts included) retry;
// other API statuses, malformed replies and caller cancellation are
// terminal.
func isRetryable(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status == http.StatusTooManyRequests || apiErr.status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
