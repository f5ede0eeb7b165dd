package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"arogyabot/internal/domain"
)

const redisKeyPrefix = "arogyabot:session:"

// RedisCache keeps session tokens in Redis so multiple gateway
// instances share one token per identity.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cannot connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, identity string) (string, error) {
	token, err := c.client.Get(ctx, redisKeyPrefix+identity).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cannot read session token: %w", err)
	}
	return token, nil
}

func (c *RedisCache) Set(ctx context.Context, identity, token string, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisKeyPrefix+identity, token, ttl).Err(); err != nil {
		return fmt.Errorf("cannot store session token: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, identity string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+identity).Err(); err != nil {
		return fmt.Errorf("cannot delete session token: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
