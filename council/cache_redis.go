package council

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed Cache, for deployments that want the model
// catalog to survive process restarts without reaching for durable job
// storage (which this system deliberately does not provide).
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisCache connects to a single Redis node and verifies the
// connection with a PING before returning.
func NewRedisCache(ctx context.Context, addr, password string, db int, keyPrefix string, defaultTTL time.Duration) (*RedisCache, error) {
	if keyPrefix == "" {
		keyPrefix = "council"
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: connect to %s: %w", addr, err)
	}

	return &RedisCache{client: client, prefix: keyPrefix, defaultTTL: defaultTTL}, nil
}

func (c *RedisCache) makeKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis cache: get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.makeKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.makeKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
