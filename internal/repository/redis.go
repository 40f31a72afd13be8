package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avivamar/palm-sub009/internal/config"
)

// RedisSyncStatusCache keeps order sync statuses in Redis so every process
// behind the same webhook endpoint sees completed orders.
type RedisSyncStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from the shared Redis section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSyncStatusCache(client *redis.Client, ttl time.Duration) *RedisSyncStatusCache {
	return &RedisSyncStatusCache{client: client, ttl: ttl}
}

func statusKey(orderNumber string) string {
	return fmt.Sprintf("fulfillment:sync_status:%s", orderNumber)
}

func (r *RedisSyncStatusCache) GetStatus(ctx context.Context, orderNumber string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, statusKey(orderNumber)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status from redis: %w", err)
	}
	return val, nil
}

func (r *RedisSyncStatusCache) SetStatus(ctx context.Context, orderNumber, status string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, statusKey(orderNumber), status, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set status in redis: %w", err)
	}
	return nil
}

func (r *RedisSyncStatusCache) ClearStatus(ctx context.Context, orderNumber string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, statusKey(orderNumber)).Err(); err != nil {
		return fmt.Errorf("failed to delete status from redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
