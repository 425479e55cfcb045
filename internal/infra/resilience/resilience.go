// Package resilience provides fault-tolerance patterns for provider calls:
// retry with exponential backoff, circuit breaker, bulkhead and rate limiting.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int
}

// Permanent marks err as not worth retrying. RetryWithBackoff returns the
// wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// RetryWithBackoff executes fn with exponential backoff + jitter, at most
// cfg.MaxRetries times after the first attempt. It respects context
// cancellation and stops at the first error wrapped with Permanent.
// Only use it for operations that are safe to repeat.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		b.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		b.MaxInterval = cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0 // bounded by MaxRetries and ctx instead

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
// isFailure decides which errors count against the breaker; nil counts all.
func NewCircuitBreaker(name string, isFailure func(error) bool) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	}
	if isFailure != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !isFailure(err)
		}
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// NewRateLimiter returns a token bucket allowing rps requests per second
// with the given burst. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}
