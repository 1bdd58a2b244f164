package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jae464/vibe-judge/internal/repository"
)

var _ repository.IdempotencyStore = (*redisIdempotency)(nil)

const (
	lockKeyPrefix = "vibe-judge:lock:"
	lockTTL       = 10 * time.Minute
)

type redisIdempotency struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store using SET NX.
func NewRedisIdempotencyStore(client goredis.UniversalClient) repository.IdempotencyStore {
	return &redisIdempotency{client: client, ttl: lockTTL}
}

// AcquireLock uses SET NX to atomically acquire a processing lock. The TTL
// frees the lock if the holder dies mid-judge.
func (r *redisIdempotency) AcquireLock(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+id.String(), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock refreshes the TTL instead of deleting the key, so redeliveries
// of a finished submission are still recognised as duplicates for a while.
func (r *redisIdempotency) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Expire(ctx, lockKeyPrefix+id.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}
