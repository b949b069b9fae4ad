package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := New(client, Config{
		Identifier: Window{Max: 5, Window: time.Hour},
		IP:         Window{Max: 4, Window: time.Minute},
	})
	return limiter, mr
}

func TestCheckFreshKeyAllowed(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	result, err := limiter.Check(context.Background(), KindIdentifier, "k1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 5, result.Remaining)
}

func TestCheckIsPure(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	// Checking repeatedly must never consume budget.
	for i := 0; i < 20; i++ {
		result, err := limiter.Check(ctx, KindIdentifier, "k1")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	require.NoError(t, limiter.Increment(ctx, KindIdentifier, "k1"))
	result, err := limiter.Check(ctx, KindIdentifier, "k1")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Remaining, "only Increment consumes")
}

func TestIncrementExhaustsWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Check(ctx, KindIdentifier, "k1")
		require.NoError(t, err)
		require.True(t, result.Allowed, "send %d must be allowed", i+1)
		require.NoError(t, limiter.Increment(ctx, KindIdentifier, "k1"))
	}

	result, err := limiter.Check(ctx, KindIdentifier, "k1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.False(t, result.ResetAt.IsZero())
}

func TestWindowExpiryResetsBudget(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.Increment(ctx, KindIP, "ip1"))
	}
	result, err := limiter.Check(ctx, KindIP, "ip1")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	mr.FastForward(time.Minute + time.Second)

	result, err = limiter.Check(ctx, KindIP, "ip1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.Remaining)
}

func TestKindsAreIsolated(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.Increment(ctx, KindIP, "same-key"))
	}

	ipResult, err := limiter.Check(ctx, KindIP, "same-key")
	require.NoError(t, err)
	assert.False(t, ipResult.Allowed)

	idResult, err := limiter.Check(ctx, KindIdentifier, "same-key")
	require.NoError(t, err)
	assert.True(t, idResult.Allowed, "counters are namespaced per kind")
}

func TestStoreUnavailable(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	_, err := limiter.Check(context.Background(), KindIdentifier, "k1")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = limiter.Increment(context.Background(), KindIdentifier, "k1")
	assert.ErrorIs(t, err, ErrUnavailable)
}
