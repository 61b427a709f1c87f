// Package ratelimit implements the politeness delay between registry fetches.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/film-ratings-crawler/internal/metrics"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

var _ ratings.Throttle = (*Limiter)(nil)

// Limiter spaces successive Wait calls at least delay apart. The first call
// returns immediately.
type Limiter struct {
	limiter *rate.Limiter
	observe func(time.Duration)
}

// New creates a Limiter. A zero or negative delay disables throttling.
func New(delay time.Duration) *Limiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		observe: metrics.ObserveThrottleDelay,
	}
}

// Wait blocks until the next fetch may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Only record waits that actually blocked.
	if waited := time.Since(start); waited > time.Millisecond && l.observe != nil {
		l.observe(waited)
	}
	return nil
}
