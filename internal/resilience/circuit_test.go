package resilience_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/resilience"
)

func TestBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(4, 0.5, time.Minute).WithTarget("ups")
	for i := 0; i < 4; i++ {
		require.True(t, breaker.Allow())
		breaker.Report(false)
	}
	require.False(t, breaker.Allow(), "breaker should refuse requests once open")
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(2, 0.5, 10*time.Millisecond).WithTarget("dhl")
	breaker.Report(false)
	breaker.Report(false)
	require.False(t, breaker.Allow())

	time.Sleep(20 * time.Millisecond)
	require.True(t, breaker.Allow(), "cool-off expiry should admit a probe")
	breaker.Report(true)
	require.True(t, breaker.Allow(), "successful probe should close the breaker")
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(2, 0.5, 10*time.Millisecond)
	breaker.Report(false)
	breaker.Report(false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, breaker.Allow())
	breaker.Report(false)
	require.False(t, breaker.Allow(), "failed probe should reopen the breaker")
}

func TestBackoffGrowsExponentially(t *testing.T) {
	t.Parallel()

	first := resilience.Backoff(100*time.Millisecond, 1, 0)
	third := resilience.Backoff(100*time.Millisecond, 3, 0)
	require.Equal(t, 100*time.Millisecond, first)
	require.Equal(t, 400*time.Millisecond, third)
}
