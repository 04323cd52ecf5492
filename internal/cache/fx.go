package cache

import (
	"context"

	"github.com/smallbiznis/catalog/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewProductListCache),
)

// NewProductListCache picks the redis cache when REDIS_ADDR is set.
func NewProductListCache(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) ProductListCache {
	if !cfg.Cache.Enabled() {
		log.Info("product list cache disabled")
		return NewNoopProductListCache()
	}

	client := newRedisClient(cfg.Cache)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, product list cache will miss", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	log.Info("product list cache enabled",
		zap.String("addr", cfg.Cache.RedisAddr),
		zap.Duration("ttl", cfg.Cache.TTL),
	)
	return NewRedisProductListCache(client, cfg.Cache.TTL, log)
}
