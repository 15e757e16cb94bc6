package api

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("u") {
		t.Fatal("third request inside the window should be limited")
	}
	if !rl.Allow("other") {
		t.Fatal("keys must be limited independently")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("u") {
		t.Fatal("request after the window should pass")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 1, time.Minute)
	rl.now = func() time.Time { return now }
	rl.Allow("u")

	now = now.Add(2 * time.Minute)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["u"]; ok {
		t.Fatal("stale key was not evicted")
	}
}
