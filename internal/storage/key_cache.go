package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"inference_gateway/internal/models"
	"inference_gateway/internal/utils"
)

// KeyCache caches active API key rows for the proxy hot path. Entries are
// addressed by the SHA-256 of the bearer key so plaintext keys never leave
// the process.
type KeyCache interface {
	Get(ctx context.Context, keyHash string) (*models.APIKey, bool)
	Set(ctx context.Context, keyHash string, key *models.APIKey)
	Delete(ctx context.Context, keyHash string)
}

// LocalKeyCache adapts the in-process LRU to KeyCache
type LocalKeyCache struct {
	lru *LRUCache[*models.APIKey]
}

func NewLocalKeyCache(lru *LRUCache[*models.APIKey]) *LocalKeyCache {
	return &LocalKeyCache{lru: lru}
}

func (c *LocalKeyCache) Get(_ context.Context, keyHash string) (*models.APIKey, bool) {
	k, ok := c.lru.Get(keyHash)
	if !ok {
		return nil, false
	}
	cp := *k
	return &cp, true
}

func (c *LocalKeyCache) Set(_ context.Context, keyHash string, key *models.APIKey) {
	cp := *key
	c.lru.Set(keyHash, &cp)
}

func (c *LocalKeyCache) Delete(_ context.Context, keyHash string) {
	c.lru.Delete(keyHash)
}

// tombstone marks a recently invalidated key. It blocks back-fills of a row
// read before the invalidating write committed.
const (
	tombstone    = "-"
	tombstoneTTL = 10 * time.Second
)

// RedisKeyCache shares key lookups between gateway replicas. Redis errors
// degrade to cache misses.
type RedisKeyCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *utils.Logger
}

func NewRedisKeyCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisKeyCache {
	return &RedisKeyCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: utils.NewLogger("redis-key-cache"),
	}
}

func (c *RedisKeyCache) Get(ctx context.Context, keyHash string) (*models.APIKey, bool) {
	data, err := c.client.Get(ctx, c.prefix+keyHash).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis get failed", "error", err)
		}
		return nil, false
	}
	if string(data) == tombstone {
		return nil, false
	}

	var key models.APIKey
	if err := json.Unmarshal(data, &key); err != nil {
		c.logger.Warn("Dropping undecodable cache entry", "error", err)
		c.client.Del(ctx, c.prefix+keyHash)
		return nil, false
	}
	return &key, true
}

// Set only fills an empty slot, so it never overwrites a tombstone.
func (c *RedisKeyCache) Set(ctx context.Context, keyHash string, key *models.APIKey) {
	data, err := json.Marshal(key)
	if err != nil {
		return
	}
	if err := c.client.SetNX(ctx, c.prefix+keyHash, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", "error", err)
	}
}

// Delete replaces the entry with a short-lived tombstone.
func (c *RedisKeyCache) Delete(ctx context.Context, keyHash string) {
	if err := c.client.Set(ctx, c.prefix+keyHash, tombstone, tombstoneTTL).Err(); err != nil {
		c.logger.Warn("Redis invalidate failed", "error", err)
	}
}
