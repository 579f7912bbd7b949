package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dashboard:ratelimit:"

// RedisLimiter implements Limiter with a sorted set per key, so every dashboard
// instance shares the same window.
type RedisLimiter struct {
	client redis.Cmdable
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed Limiter.
func NewRedisLimiter(client redis.Cmdable, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{client: client, log: log}
}

// Check evaluates the rate limit for key. A rejected request is taken back out of the
// window, matching MemoryLimiter, so only admitted requests hold a slot.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := time.Now()
	if limit <= 0 {
		return &Result{ResetAt: now.Add(window)}, ErrLimitExceeded
	}

	redisKey := keyPrefix + key
	cutoff := now.Add(-window).UnixMilli()
	member := uuid.NewString()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error("rate limiter pipeline failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	count := int(countCmd.Val())
	allowed := count <= limit
	if !allowed {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			l.log.Warn("rate limiter could not release rejected request", slog.String("key", key), slog.Any("error", err))
		}
		count--
	}

	result := &Result{
		Allowed:   allowed,
		Remaining: remaining(limit, count),
		ResetAt:   now.Add(window),
	}
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		result.ResetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
	}

	if !allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}
