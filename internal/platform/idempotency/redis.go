package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the processed-event markers with Redis so deduplication
// holds across API instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a store over the given Redis address.
func NewRedisStore(addr, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "webhook"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":dedup:" + key
}

// MarkProcessed implements the Store interface via SETNX, which is atomic
// across instances.
func (s *RedisStore) MarkProcessed(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.SetNX(ctx, s.key(key), now.UTC().Format(time.RFC3339Nano), ttl).Result()
}

// Release implements the Store interface.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Ping verifies connectivity, used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
