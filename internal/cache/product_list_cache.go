package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/product/domain"
	"go.uber.org/zap"
)

const (
	keyProductList = "catalog:products:all"
	defaultListTTL = 5 * time.Minute
	redisOpTimeout = 500 * time.Millisecond
)

// ProductListCache holds the materialized product listing. Failures are
// logged and reported as misses; they never fail the caller.
type ProductListCache interface {
	Get(ctx context.Context) ([]domain.Product, bool)
	Set(ctx context.Context, items []domain.Product)
	Invalidate(ctx context.Context)
}

type noopProductListCache struct{}

// NewNoopProductListCache returns a cache that always misses.
func NewNoopProductListCache() ProductListCache {
	return noopProductListCache{}
}

func (noopProductListCache) Get(context.Context) ([]domain.Product, bool) { return nil, false }
func (noopProductListCache) Set(context.Context, []domain.Product) {}
func (noopProductListCache) Invalidate(context.Context) {}

type redisProductListCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisProductListCache(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) ProductListCache {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisProductListCache{
		client: client,
		ttl:    ttl,
		log:    log.Named("cache.products"),
	}
}

func (c *redisProductListCache) Get(ctx context.Context) ([]domain.Product, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, keyProductList).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("product list cache read failed", zap.Error(err))
		}
		return nil, false
	}

	items, err := decodeProducts(raw)
	if err != nil {
		c.log.Warn("product list cache entry corrupt", zap.Error(err))
		c.Invalidate(ctx)
		return nil, false
	}
	return items, true
}

func (c *redisProductListCache) Set(ctx context.Context, items []domain.Product) {
	raw, err := encodeProducts(items)
	if err != nil {
		c.log.Warn("product list cache encode failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, keyProductList, raw, c.ttl).Err(); err != nil {
		c.log.Warn("product list cache write failed", zap.Error(err))
	}
}

func (c *redisProductListCache) Invalidate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, keyProductList).Err(); err != nil {
		c.log.Warn("product list cache invalidate failed", zap.Error(err))
	}
}

func encodeProducts(items []domain.Product) ([]byte, error) {
	if items == nil {
		items = []domain.Product{}
	}
	return json.Marshal(items)
}

func decodeProducts(raw []byte) ([]domain.Product, error) {
	var items []domain.Product
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func newRedisClient(cfg config.CacheConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}
