package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitThrottlesPerOperation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "search.list"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "search.list"))
	// 10 RPS means the second token arrives roughly 100ms later.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// A different operation has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "channels.list"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), ""))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1, PerOperation: map[string]float64{"channels.list": 0}})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "channels.list"))
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "search.list"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "search.list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
