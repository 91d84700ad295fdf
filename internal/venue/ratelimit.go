// ratelimit.go rate-limits outbound calls to each venue.
//
// Venue B (order-book) enforces per-category limits measured in
// requests per 10-second windows, so it gets the smooth-refill
// TokenBucket implementation, one bucket per endpoint category.
// Venue A (AMM) exposes a single combined limit, so it uses
// golang.org/x/time/rate's Limiter directly — no category split needed.
package venue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket implements a token-bucket rate limiter with continuous
// refill. Callers block in Wait() until a token is available or the
// context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rateHz   float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and
// refill rate in tokens per second.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rateHz:   ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rateHz
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rateHz * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// CLOBRateLimiter groups token buckets by venue-B endpoint category.
type CLOBRateLimiter struct {
	Order  *TokenBucket // POST /orders
	Cancel *TokenBucket // DELETE /orders
	Book   *TokenBucket // GET /orders/status, /orders/open
}

// NewCLOBRateLimiter creates rate limiters tuned to venue B's published
// limits: capacities are the 10-second burst allowance, rates are
// 1/10th of that for smooth refill.
func NewCLOBRateLimiter() *CLOBRateLimiter {
	return &CLOBRateLimiter{
		Order:  NewTokenBucket(350, 35),
		Cancel: NewTokenBucket(300, 30),
		Book:   NewTokenBucket(150, 15),
	}
}

// NewAMMLimiter builds a single combined limiter for venue A, sized to
// a conservative default that the AMM venue's own docs would normally
// set per API key.
func NewAMMLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(20), 40)
}
