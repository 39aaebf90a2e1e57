package runlock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/voltbill/chargesync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("run.lock",
	fx.Provide(NewRedisClient),
	fx.Provide(Provide),
)

// Provide builds the run locker from application config.
func Provide(client *redis.Client, cfg config.Config) *Locker {
	return NewLocker(client, defaultKey, cfg.RunLockTTL)
}

// NewRedisClient returns nil when no redis address is configured; the
// engine then degrades to the single-process run guard and the manual
// trigger channel stays disabled.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Warn("redis not configured; run lock and trigger channel disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}
