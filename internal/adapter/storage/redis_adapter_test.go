package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) *RedisAdapter {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skipf("TEST_REDIS_ADDR not set, skipping Redis adapter tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not reachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisAdapter(client)
}

func TestRedisAdapter_AvailableCache(t *testing.T) {
	adapter := setupRedis(t)
	ctx := context.Background()
	itemID := uuid.NewString()

	if _, ok, err := adapter.GetAvailable(ctx, itemID); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := adapter.SetAvailable(ctx, itemID, 42); err != nil {
		t.Fatalf("SetAvailable failed: %v", err)
	}
	available, ok, err := adapter.GetAvailable(ctx, itemID)
	if err != nil || !ok || available != 42 {
		t.Fatalf("expected hit with 42, got %d ok=%v err=%v", available, ok, err)
	}

	if err := adapter.InvalidateAvailable(ctx, itemID); err != nil {
		t.Fatalf("InvalidateAvailable failed: %v", err)
	}
	if _, ok, _ := adapter.GetAvailable(ctx, itemID); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestRedisAdapter_Idempotency(t *testing.T) {
	adapter := setupRedis(t)
	ctx := context.Background()
	key := "allocate:" + uuid.NewString()

	ok, err := adapter.SetIdempotency(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first claim must win, got ok=%v err=%v", ok, err)
	}

	ok, err = adapter.SetIdempotency(ctx, key)
	if err != nil {
		t.Fatalf("SetIdempotency failed: %v", err)
	}
	if ok {
		t.Error("second claim of the same key must lose")
	}

	// A released key can be claimed again.
	if err := adapter.ReleaseIdempotency(ctx, key); err != nil {
		t.Fatalf("ReleaseIdempotency failed: %v", err)
	}
	ok, err = adapter.SetIdempotency(ctx, key)
	if err != nil || !ok {
		t.Fatalf("claim after release must win, got ok=%v err=%v", ok, err)
	}
}
