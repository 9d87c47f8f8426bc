package scraper

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// RateLimiter enforces a randomized minimum delay between consecutive
// requests. Each call samples a delay uniformly from [min, max]; the call
// returns once that much time has passed since the previous call returned.
type RateLimiter struct {
	min time.Duration
	max time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	last time.Time
}

// NewRateLimiter builds a limiter. A zero seed draws one from the clock.
func NewRateLimiter(min, max time.Duration, seed uint64) *RateLimiter {
	if max < min {
		max = min
	}
	return &RateLimiter{
		min: min,
		max: max,
		rng: newRand(seed),
	}
}

// Wait blocks until the sampled delay has elapsed. The first call never
// blocks. It returns ctx.Err() if the context ends first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := r.nextDelay()
	if !r.last.IsZero() {
		if elapsed := time.Since(r.last); elapsed < delay {
			wait := delay - elapsed
			slog.Debug("rate limiting", slog.Duration("wait", wait))
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
		}
	}

	r.last = time.Now()
	return nil
}

func (r *RateLimiter) nextDelay() time.Duration {
	return uniformDuration(r.rng, r.min, r.max)
}

func uniformDuration(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int64N(int64(max-min)+1))
}

// newRand returns a generator for seed. Zero draws a fresh seed so unseeded
// processes never share a sequence.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
