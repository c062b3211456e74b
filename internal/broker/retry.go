package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RetryConfig configures submission retry behavior
type RetryConfig struct {
	MaxRetries     int           // retry attempts after the first try
	InitialBackoff time.Duration // first backoff duration
	MaxBackoff     time.Duration // backoff ceiling
	BackoffFactor  float64       // exponential multiplier
}

// DefaultRetryConfig returns the retry settings used in production
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Submitter wraps a Broker with bounded-backoff retries and a circuit
// breaker, so a flapping gateway does not stall every agent's tick.
// Rejections are terminal and never retried.
type Submitter struct {
	broker  Broker
	config  RetryConfig
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewSubmitter creates a submission wrapper around a broker
func NewSubmitter(b Broker, config RetryConfig, log zerolog.Logger) *Submitter {
	settings := gobreaker.Settings{
		Name:    "broker-submit",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Broker circuit breaker state changed")
		},
	}

	return &Submitter{
		broker:  b,
		config:  config,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log.With().Str("component", "broker_submitter").Logger(),
	}
}

// Submit sends an intent through the breaker with exponential backoff.
// Returns the broker order id on success.
func (s *Submitter) Submit(ctx context.Context, intent OrderIntent) (string, error) {
	var lastErr error
	backoff := s.config.InitialBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("submit cancelled: %w", err)
		}

		result, err := s.breaker.Execute(func() (interface{}, error) {
			return s.broker.Submit(ctx, intent)
		})
		if err == nil {
			if attempt > 0 {
				s.log.Info().
					Int("attempt", attempt+1).
					Str("decision_id", intent.DecisionID).
					Msg("Order submission succeeded after retry")
			}
			return result.(string), nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		if attempt == s.config.MaxRetries {
			break
		}

		// Full jitter keeps N agents from hammering the gateway in
		// lockstep after an outage
		sleep := time.Duration(rand.Int63n(int64(backoff) + 1))
		s.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Str("decision_id", intent.DecisionID).
			Msg("Order submission failed, retrying")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("submit cancelled during backoff: %w", ctx.Err())
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * s.config.BackoffFactor)
		if backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}

	return "", fmt.Errorf("order submission failed after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

// isRetryable classifies submission errors. Outright rejections and
// open circuits are terminal; transient gateway failures retry.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRejected):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case errors.Is(err, ErrUnavailable):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
