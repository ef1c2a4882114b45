package server

import (
	"testing"
	"time"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})
	rl.now = func() time.Time { return now }
	rl.lastCheck = now

	for i := range 3 {
		if !rl.allow() {
			t.Fatalf("request %d within burst was refused", i)
		}
	}
	if rl.allow() {
		t.Fatal("request beyond burst was allowed")
	}

	now = now.Add(time.Second)
	if !rl.allow() {
		t.Fatal("one token should have refilled after a second")
	}
	if rl.allow() {
		t.Fatal("only one token should have refilled")
	}

	now = now.Add(time.Hour)
	for i := range 3 {
		if !rl.allow() {
			t.Fatalf("request %d after a long pause was refused", i)
		}
	}
	if rl.allow() {
		t.Fatal("refill must not exceed the burst")
	}
}

func TestRateLimiterDefaultsInvalidConfig(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	if rl.capacity != 1 || rl.rate != 1 {
		t.Errorf("capacity=%v rate=%v, want 1 and 1", rl.capacity, rl.rate)
	}
}
