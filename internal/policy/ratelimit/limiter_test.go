package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameKey(t *testing.T) {
	t.Parallel()

	// 10 requests per second = 100ms interval, burst 1.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "snap"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "snap"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "snap"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "panorama"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterPerKeyOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   0.5,
		DefaultBurst: 1,
		PerKeyRPS:    map[string]float64{"image": 0},
	})
	ctx := context.Background()

	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(ctx, "image"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "unlimited key should not block")
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "obstruction"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "obstruction"))
}
