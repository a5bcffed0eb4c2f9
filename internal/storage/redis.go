package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// RedisClient owns the connection behind the shared API key cache
type RedisClient struct {
	rdb *redis.Client
}

// DialRedis connects and pings once so a bad address fails at startup
func DialRedis(ctx context.Context, opts *redis.Options) (*RedisClient, error) {
	rdb := redis.NewClient(opts)
	if err := ping(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// KeyCache returns an API key cache stored under prefix
func (c *RedisClient) KeyCache(prefix string, ttl time.Duration) *RedisKeyCache {
	return NewRedisKeyCache(c.rdb, prefix, ttl)
}

// Health reports whether Redis answers a ping
func (c *RedisClient) Health(ctx context.Context) error {
	return ping(ctx, c.rdb)
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func ping(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
