package venue

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		start := time.Now()
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d: %v", i, err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("Wait() #%d took %v, want near-instant within burst capacity", i, elapsed)
		}
	}
}

func TestTokenBucketBlocksBeyondCapacity(t *testing.T) {
	tb := NewTokenBucket(1, 20) // 1 token capacity, refills at 20/s (50ms per token)
	ctx := context.Background()

	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait(): %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second Wait(): %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("second Wait() returned after %v, expected to block for a refill", elapsed)
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	tb := NewTokenBucket(1, 0.01) // effectively never refills within the test window
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait(): %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tb.Wait(cancelCtx); err == nil {
		t.Error("Wait() with an exhausted bucket and a cancelled context returned nil error")
	}
}

func TestNewCLOBRateLimiterProvidesAllCategories(t *testing.T) {
	rl := NewCLOBRateLimiter()
	if rl.Order == nil || rl.Cancel == nil || rl.Book == nil {
		t.Error("expected Order, Cancel, and Book buckets to all be non-nil")
	}
}

func TestNewAMMLimiterAllowsAtLeastOneImmediateCall(t *testing.T) {
	l := NewAMMLimiter()
	if !l.Allow() {
		t.Error("fresh AMM limiter should allow an immediate first call")
	}
}
