package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend stores checkpoints as plain string keys with an optional TTL.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisBackend(client redis.Cmdable, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisBackend) key(jobID string) string {
	return r.prefix + jobID
}

func (r *RedisBackend) Put(ctx context.Context, jobID string, data []byte) error {
	return r.client.Set(ctx, r.key(jobID), data, r.ttl).Err()
}

func (r *RedisBackend) Get(ctx context.Context, jobID string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}

	return data, err
}

func (r *RedisBackend) Remove(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}
