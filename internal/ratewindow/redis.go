package ratewindow

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps one sorted set per key, scored by microsecond
// timestamps. Windows survive restarts and are shared between instances.
// Redis errors fail open: the count is reported as 0 so nothing is
// suppressed because of an infrastructure problem.
type RedisTracker struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
	log    *slog.Logger
}

// NewRedisTracker creates a tracker on client. Keys are stored as prefix+key.
func NewRedisTracker(client redis.UniversalClient, window time.Duration, prefix string, logger *slog.Logger) *RedisTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTracker{
		client: client,
		window: window,
		prefix: prefix,
		log:    logger,
	}
}

func (t *RedisTracker) Record(ctx context.Context, key string, now time.Time) int {
	rkey := t.prefix + key
	cutoff := now.Add(-t.window).UnixMicro()

	pipe := t.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, rkey)
	pipe.PExpire(ctx, rkey, t.window)

	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("rate window unavailable, failing open", "key", key, "error", err)
		return 0
	}
	return int(count.Val())
}

func (t *RedisTracker) Evict(ctx context.Context, key string) {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		t.log.Warn("failed to evict rate window", "key", key, "error", err)
	}
}

// Sweep is a no-op: every key carries a TTL equal to the window.
func (t *RedisTracker) Sweep(context.Context, time.Time) int {
	return 0
}
