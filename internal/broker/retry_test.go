package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestSubmitterRetriesTransientFailures(t *testing.T) {
	b := NewPaperBroker(zerolog.Nop())
	defer b.Close()
	b.FailSubmits(2)

	s := NewSubmitter(b, fastRetryConfig(), zerolog.Nop())
	orderID, err := s.Submit(context.Background(), intentFor("s1", "rb2501", 1, 3500))

	require.NoError(t, err)
	assert.NotEmpty(t, orderID)
}

func TestSubmitterGivesUpAfterMaxRetries(t *testing.T) {
	b := NewPaperBroker(zerolog.Nop())
	defer b.Close()
	b.FailSubmits(10)

	s := NewSubmitter(b, fastRetryConfig(), zerolog.Nop())
	_, err := s.Submit(context.Background(), intentFor("s1", "rb2501", 1, 3500))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSubmitterDoesNotRetryRejections(t *testing.T) {
	b := NewPaperBroker(zerolog.Nop())
	defer b.Close()

	s := NewSubmitter(b, fastRetryConfig(), zerolog.Nop())
	_, err := s.Submit(context.Background(), intentFor("s1", "rb2501", -1, 3500))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSubmitterHonorsContextCancellation(t *testing.T) {
	b := NewPaperBroker(zerolog.Nop())
	defer b.Close()
	b.FailSubmits(10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSubmitter(b, fastRetryConfig(), zerolog.Nop())
	_, err := s.Submit(ctx, intentFor("s1", "rb2501", 1, 3500))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, isRetryable(ErrUnavailable))
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(ErrRejected))
	assert.False(t, isRetryable(nil))
}
