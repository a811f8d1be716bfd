package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "sync:status:"

// StatusCache holds the last successful status report per destination.
type StatusCache interface {
	GetStatus(ctx context.Context, key string) (*domain.StatusReport, bool, error)
	SetStatus(ctx context.Context, key string, report *domain.StatusReport) error
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

type redisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopStatusCache struct{}

func NewStatusCache(client *redis.Client, ttl time.Duration) StatusCache {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &redisStatusCache{client: client, ttl: ttl}
}

func NewNoopStatusCache() StatusCache {
	return &noopStatusCache{}
}

func (c *redisStatusCache) GetStatus(ctx context.Context, key string) (*domain.StatusReport, bool, error) {
	payload, err := c.client.Get(ctx, statusKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var report domain.StatusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, false, fmt.Errorf("decode status cache: %w", err)
	}
	return &report, true, nil
}

func (c *redisStatusCache) SetStatus(ctx context.Context, key string, report *domain.StatusReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode status cache: %w", err)
	}
	if err := c.client.Set(ctx, statusKeyPrefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisStatusCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, statusKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *redisStatusCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, statusKeyPrefix, scanBatchSize)
}

func (n *noopStatusCache) GetStatus(ctx context.Context, key string) (*domain.StatusReport, bool, error) {
	return nil, false, nil
}

func (n *noopStatusCache) SetStatus(ctx context.Context, key string, report *domain.StatusReport) error {
	return nil
}

func (n *noopStatusCache) Invalidate(ctx context.Context, key string) error {
	return nil
}

func (n *noopStatusCache) InvalidateAll(ctx context.Context) error {
	return nil
}
