// Package ratelimit implements a token bucket rate limiter for per-endpoint pacing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
)

// Limiter manages per-endpoint rate limits against the remote API.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables pacing.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the given endpoint, respecting the context.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		endpoint = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[endpoint]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[endpoint] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not interesting.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(endpoint, duration)
	}
	return nil
}
