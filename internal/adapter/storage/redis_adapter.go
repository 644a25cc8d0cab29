package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	availableKeyPrefix = "available:"
	availableTTL       = 1 * time.Hour
	idempotencyKeyTTL  = 24 * time.Hour
)

// RedisAdapter caches per-item availability in front of the authoritative
// store and holds idempotency keys for allocation batches. Never the system
// of record.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetAvailable(ctx context.Context, itemID string) (int, bool, error) {
	key := availableKeyPrefix + itemID

	available, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return available, true, nil
}

func (r *RedisAdapter) SetAvailable(ctx context.Context, itemID string, available int) error {
	key := availableKeyPrefix + itemID
	return r.client.Set(ctx, key, available, availableTTL).Err()
}

func (r *RedisAdapter) InvalidateAvailable(ctx context.Context, itemID string) error {
	key := availableKeyPrefix + itemID
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
