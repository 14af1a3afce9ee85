package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
		Timeout:          time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	e := NewExecutor("test", fastConfig(), nil)

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetriableError(t *testing.T) {
	e := NewExecutor("test", fastConfig(), nil)

	permanent := errors.New("invalid request")
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	e := NewExecutor("test", fastConfig(), nil)

	transient := errors.New("gateway timeout")
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	e := NewExecutor("test", fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Do(ctx, func(ctx context.Context) error {
		cancel()
		return errors.New("connection refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	e := NewExecutor("test", cfg, nil)

	fail := func(ctx context.Context) error { return errors.New("service unavailable") }
	for i := 0; i < 3; i++ {
		require.Error(t, e.Do(context.Background(), fail))
	}

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "open breaker must fail fast without invoking the call")
}

func TestDoValueReturnsResult(t *testing.T) {
	e := NewExecutor("test", fastConfig(), nil)

	calls := 0
	got, err := DoValue(context.Background(), e, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("rate limit exceeded")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(context.DeadlineExceeded))
	assert.True(t, IsRetriable(errors.New("429 Too Many Requests")))
	assert.True(t, IsRetriable(errors.New("502 Bad Gateway")))
	assert.False(t, IsRetriable(errors.New("invalid api key")))
	assert.False(t, IsRetriable(nil))
}
