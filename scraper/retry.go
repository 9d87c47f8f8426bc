package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// RetryPolicy retries an operation with exponential backoff. The delay before
// attempt n+1 is BackoffFactor^n * (1 + jitter) * Unit, with jitter in [0, 1).
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64
	Unit          time.Duration
	// Retryable reports whether an error is worth another attempt. Nil
	// retries everything except cancellation and a closed session.
	Retryable func(error) bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryPolicy builds a policy. A zero seed draws one from the clock.
func NewRetryPolicy(maxAttempts int, backoffFactor float64, unit time.Duration, seed uint64) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:   maxAttempts,
		BackoffFactor: backoffFactor,
		Unit:          unit,
		rng:           newRand(seed),
	}
}

// Backoff returns the delay after the given zero-based failed attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	p.mu.Lock()
	jitter := p.rng.Float64()
	p.mu.Unlock()

	base := math.Pow(p.BackoffFactor, float64(attempt))
	return time.Duration(base * (1 + jitter) * float64(p.Unit))
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts run out. onRetry, if set, runs after the backoff sleep and before
// the next attempt.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.retryable(err) {
			return err
		}

		slog.Warn("request attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Any("error", err),
		)
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		slog.Info("retrying", slog.Duration("delay", delay))
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	slog.Error("all retry attempts failed", slog.Any("error", last))
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, last)
}

func (p *RetryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSessionClosed) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}
