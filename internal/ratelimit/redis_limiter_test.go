package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "10.0.0.1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1-i, result.Remaining)
	}

	result, err := limiter.Check(ctx, "10.0.0.1", 2, time.Minute)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, result.Allowed)
	assert.Zero(t, result.Remaining)

	other, err := limiter.Check(ctx, "10.0.0.2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	assert.True(t, mr.Exists(keyPrefix+"10.0.0.1"))
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "window", 2, 200*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	time.Sleep(250 * time.Millisecond)

	result, err := limiter.Check(ctx, "window", 2, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRedisLimiter_ZeroLimitRejects(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())

	result, err := limiter.Check(context.Background(), "none", 0, time.Minute)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, result.Allowed)
}

func TestMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter(testLogger())
	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "client", 3, time.Minute)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, result.Allowed)
	assert.Equal(t, now.Add(time.Minute), result.ResetAt)

	now = now.Add(61 * time.Second)
	result, err = limiter.Check(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Remaining)
}

func TestLimiters_RejectedRequestsDoNotHoldSlots(t *testing.T) {
	_, client := setupTestRedis(t)
	memory := NewMemoryLimiter(testLogger())

	testCases := []struct {
		name    string
		limiter Limiter
		stored  func() int
	}{
		{
			name:    "redis",
			limiter: NewRedisLimiter(client, testLogger()),
			stored: func() int {
				return int(client.ZCard(context.Background(), keyPrefix+"hammer").Val())
			},
		},
		{
			name:    "memory",
			limiter: memory,
			stored: func() int {
				memory.mu.Lock()
				defer memory.mu.Unlock()
				return len(memory.windows["hammer"])
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				_, err := tc.limiter.Check(ctx, "hammer", 2, time.Minute)
				require.NoError(t, err)
			}
			for i := 0; i < 5; i++ {
				result, err := tc.limiter.Check(ctx, "hammer", 2, time.Minute)
				assert.ErrorIs(t, err, ErrLimitExceeded)
				assert.False(t, result.Allowed)
				assert.Zero(t, result.Remaining)
			}

			assert.Equal(t, 2, tc.stored())
		})
	}
}

func TestRedisLimiter_RecoversOnceAdmittedRequestsExpire(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "burst", 2, 300*time.Millisecond)
		require.NoError(t, err)
	}

	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "burst", 2, 300*time.Millisecond)
		assert.ErrorIs(t, err, ErrLimitExceeded)
	}

	// the admitted pair has left the window; the rejected retries never entered it
	time.Sleep(200 * time.Millisecond)
	result, err := limiter.Check(ctx, "burst", 2, 300*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)
}
