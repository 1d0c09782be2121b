package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"smmpanel/pkg/config"
)

const cacheKeyPrefix = "catalog:"

// Cache is a best-effort read-through cache for public catalog listings.
// Redis being down degrades to direct DB reads, never to an error.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

type CacheParams struct {
	fx.In
	Redis *redis.Client
	Cfg   *config.Config
}

func NewCache(p CacheParams) *Cache {
	ttl := p.Cfg.Catalog.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: p.Redis, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		zap.L().Warn("catalog cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		zap.L().Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every catalog key. Listings are small and rebuilt on the
// next read, so a full flush is cheaper than tracking which category a
// changed service belonged to.
func (c *Cache) Invalidate(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		zap.L().Warn("catalog cache scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("catalog cache invalidation failed", zap.Error(err))
	}
}
