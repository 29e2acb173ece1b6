// Package ratelimit implements token bucket throttling for outbound YouTube
// Data API calls, one bucket per API operation.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/ytcrawler/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive rate disables
// throttling for that bucket.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerOperation overrides the default rate for named operations,
	// e.g. "search.list".
	PerOperation map[string]float64
}

// Limiter manages per-operation rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]float64
	defaultRate  rate.Limit
	defaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]float64, len(cfg.PerOperation))
	for op, rps := range cfg.PerOperation {
		overrides[op] = rps
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the operation, respecting the context.
func (l *Limiter) Wait(ctx context.Context, operation string) error {
	if operation == "" {
		operation = "unknown"
	}
	limiter := l.bucket(operation)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(operation, waited)
	}
	return nil
}

func (l *Limiter) bucket(operation string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[operation]
	if !ok {
		r := l.defaultRate
		if rps, found := l.overrides[operation]; found {
			r = toLimit(rps)
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[operation] = limiter
	}
	return limiter
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
