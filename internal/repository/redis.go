package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fieldbook/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	selectionKeyPrefix = "block_selection:"
	rateLimitKeyPrefix = "rate_limit:"
)

type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisSessionRepository) Members(ctx context.Context, sessionID string) ([]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	members, err := r.client.SMembers(ctx, selectionKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read selection from redis: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisSessionRepository) Add(ctx context.Context, sessionID, date string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := selectionKeyPrefix + sessionID
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, date)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add selection in redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Remove(ctx context.Context, sessionID, date string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.SRem(ctx, selectionKeyPrefix+sessionID, date).Err(); err != nil {
		return fmt.Errorf("failed to remove selection in redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Clear(ctx context.Context, sessionID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, selectionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete selection from redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := rateLimitKeyPrefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}

	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
