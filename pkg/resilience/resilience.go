/*
Package resilience provides a single reusable wrapper for calls to external
collaborators (LLM, embedder, reranker): bounded retries with exponential
backoff and jitter, per-call timeouts, and a circuit breaker that fails fast
for a cooldown window after a run of consecutive failures.

The same Executor is applied uniformly to extraction calls on the ingestion
path and to embedding/reranking calls on the query path.
*/
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Config parameterizes an Executor.
type Config struct {
	// MaxAttempts bounds total tries including the first (default 3).
	MaxAttempts int
	// InitialBackoff is the delay before the first retry (default 500ms).
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff growth (default 30s).
	MaxBackoff time.Duration
	// Timeout bounds each individual attempt (default 60s).
	Timeout time.Duration
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit (default 5).
	BreakerThreshold uint32
	// BreakerCooldown is how long the circuit stays open (default 30s).
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// ErrCircuitOpen is returned without invoking the call while the breaker is
// open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Executor wraps collaborator calls with retry, timeout and circuit breaking.
type Executor struct {
	name    string
	config  Config
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewExecutor creates a named executor. The name identifies the collaborator
// in logs and breaker state transitions.
func NewExecutor(name string, config Config, logger *slog.Logger) *Executor {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"collaborator", name, "from", from.String(), "to", to.String())
		},
	}

	return &Executor{
		name:    name,
		config:  config,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Do runs fn through the breaker with retries. Non-retriable errors and
// context cancellation abort immediately; transient errors back off
// exponentially with ±20% jitter up to MaxAttempts.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := e.backoff(attempt)
			e.logger.Debug("retrying collaborator call",
				"collaborator", e.name, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		_, err := e.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return nil, fn(attemptCtx)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetriable(err) {
			return err
		}
	}
	return lastErr
}

// DoValue runs fn through the breaker with retries and returns its value.
func DoValue[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

func (e *Executor) backoff(attempt int) time.Duration {
	backoff := e.config.InitialBackoff << (attempt - 1)
	if backoff > e.config.MaxBackoff {
		backoff = e.config.MaxBackoff
	}
	jitter := time.Duration(rand.Float64()*0.4*float64(backoff)) - time.Duration(0.2*float64(backoff))
	return backoff + jitter
}

// IsRetriable reports whether an error looks transient: timeouts, connection
// problems, rate limiting or upstream 5xx conditions.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"connection",
		"rate limit",
		"rate_limit",
		"too many requests",
		"internal server error",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
