package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLocal(60, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "client-a")
	assert.False(t, ok, "fourth request exceeds burst of 3")
}

func TestLocalLimiterPerClientIsolated(t *testing.T) {
	l := NewLocal(60, 1)
	ctx := context.Background()
	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "separate client must have its own bucket")
}

func TestLocalLimiterCleanupKeepsPartlyDrained(t *testing.T) {
	l := NewLocal(60, 2)
	ctx := context.Background()
	_, _ = l.Allow(ctx, "a")
	l.Cleanup()
	// Still present: bucket isn't full after one consumed token.
	l.mu.Lock()
	_, present := l.limiters["a"]
	l.mu.Unlock()
	assert.True(t, present)
}

func TestRedisLimiterAllowsWithinBudget(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rl := NewRedis(mr.Addr(), 2)
	defer rl.Close()
	ctx := context.Background()

	ok, err := rl.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, ok, "third request within the same minute exceeds budget of 2")
}

func TestRedisLimiterWindowResets(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rl := NewRedis(mr.Addr(), 1)
	defer rl.Close()
	ctx := context.Background()

	ok, err := rl.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(61 * time.Second)

	ok, err = rl.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok, "new minute window must reset the counter")
}
