package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// With rate.NewLimiter(10, 2), the limiter starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("eth_call") {
		t.Error("First call should be allowed")
	}
	if !limiter.Allow("eth_call") {
		t.Error("Second call should be allowed")
	}
	if limiter.Allow("eth_call") {
		t.Error("Third call should be rate limited")
	}

	// Keys are limited independently
	if !limiter.Allow("eth_getTransactionReceipt") {
		t.Error("Other key should have its own bucket")
	}

	// Wait for token refill (10 req/s = 100ms per token)
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("eth_call") {
		t.Error("Call after waiting should be allowed")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	limiter := NewLimiter(0, 0)

	for i := 0; i < 100; i++ {
		if !limiter.Allow("eth_call") {
			t.Fatalf("Call %d should be allowed when limiting is disabled", i)
		}
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	limiter.Allow("eth_call")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "eth_call"); err == nil {
		t.Error("Expected Wait to fail when the next token is beyond the deadline")
	}
}
