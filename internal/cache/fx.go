package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/congregate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewPathCache),
)

// NewPathCache selects the PathCache implementation named by PATH_CACHE.
func NewPathCache(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) PathCache {
	switch cfg.PathCache.Driver {
	case "none", "off", "noop":
		return NoopPathCache{}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.PathCache.RedisAddr,
			Password: cfg.PathCache.RedisPassword,
			DB:       cfg.PathCache.RedisDB,
		})
		if lc != nil {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					return client.Close()
				},
			})
		}
		log.Info("path cache enabled", zap.String("driver", "redis"), zap.String("addr", cfg.PathCache.RedisAddr))
		return NewRedisPathCache(client, cfg.PathCache.TTL, log)
	default:
		return NewMemoryPathCache(cfg.PathCache.TTL)
	}
}
