package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sqlopt/engine/internal/apperrors"
)

// RedisCache backs the "redis" CacheConfig.Backend, for deployments running
// more than one engine instance against a shared cache. Connection setup
// mirrors the teacher's redis plugin (Options{Addr, Password, PoolSize}
// plus a startup Ping).
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials the given Redis URL (e.g. "redis://host:6379/0") and
// verifies connectivity before returning.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.WrapFatal(err, "parse redis cache url")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperrors.WrapUnavailable(err, "ping redis cache")
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.WrapUnavailable(err, "set cache key %q", key)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return apperrors.WrapUnavailable(err, "delete cache key %q", key)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }
