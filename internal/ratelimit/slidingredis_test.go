package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Limiter{Client: client, Prefix: "test:"}, mr
}

func TestLimiterAllowSlidingWindow(t *testing.T) {
	limiter, mr := newLimiter(t)

	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "ups", window, max)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed", i)
		require.Equal(t, max-(i+1), remaining)
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "ups", window, max)
	require.NoError(t, err)
	require.False(t, allowed, "request over the limit should be rejected")
	require.Zero(t, remaining)

	mr.FastForward(window)

	allowed, _, _, err = limiter.Allow(ctx, "ups", window, max)
	require.NoError(t, err)
	require.True(t, allowed, "window expiry should free the budget")
}

func TestCarrierBudgetAcquireBlocksUntilWindowFrees(t *testing.T) {
	limiter, mr := newLimiter(t)
	budget := CarrierBudget{Limiter: limiter, Window: time.Second, Max: 1, Poll: 5 * time.Millisecond}

	ctx := context.Background()
	require.NoError(t, budget.Acquire(ctx, "dhl"))

	done := make(chan error, 1)
	go func() { done <- budget.Acquire(ctx, "dhl") }()

	select {
	case <-done:
		t.Fatal("second acquire should block while the window is full")
	case <-time.After(30 * time.Millisecond):
	}

	mr.FastForward(time.Second)
	require.NoError(t, <-done)
}

func TestCarrierBudgetAcquireHonorsContext(t *testing.T) {
	limiter, _ := newLimiter(t)
	budget := CarrierBudget{Limiter: limiter, Window: time.Minute, Max: 1, Poll: 5 * time.Millisecond}

	ctx := context.Background()
	require.NoError(t, budget.Acquire(ctx, "fedex"))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, budget.Acquire(cancelled, "fedex"), context.DeadlineExceeded)
}
