package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// IdempotencyCache keeps stored idempotent results in Redis so replays are
// answered without touching the database. It is only ever a front for the
// store; a miss falls through to it.
type IdempotencyCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewIdempotencyCache(rdb *redis.Client, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{rdb: rdb, ttl: ttl, now: time.Now}
}

func cacheKey(owner domain.Principal, key string) string {
	return fmt.Sprintf("idempotency:%d:%s", owner, key)
}

func (c *IdempotencyCache) Get(ctx context.Context, owner domain.Principal, key string) (*domain.IdempotencyRecord, error) {
	val, err := c.rdb.Get(ctx, cacheKey(owner, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency cache: %w", err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency cache entry: %w", err)
	}
	return &rec, nil
}

// Set caches rec for whatever is left of its retention window.
func (c *IdempotencyCache) Set(ctx context.Context, rec *domain.IdempotencyRecord) error {
	remaining := rec.CreatedAt.Add(c.ttl).Sub(c.now())
	if remaining <= 0 {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(rec.Owner, rec.Key), data, remaining).Err(); err != nil {
		return fmt.Errorf("failed to write idempotency cache: %w", err)
	}
	return nil
}
