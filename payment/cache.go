package payment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayCache backs ReplayCache with Redis. Keys expire after the
// processor's retry window so the cache stays bounded.
type RedisReplayCache struct {
	rdb *redis.Client
}

func NewRedisReplayCache(addr string) *RedisReplayCache {
	return &RedisReplayCache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisReplayCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisReplayCache) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, "1", ttl).Err()
}

func (c *RedisReplayCache) Close() error {
	return c.rdb.Close()
}
