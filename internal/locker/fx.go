package locker

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("locker",
	fx.Provide(NewRedisClient),
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  redis.UniversalClient `optional:"true"`
}

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewFromConfig(p Params) Locker {
	if p.Redis == nil {
		p.Log.Info("using in-process document locks")
		return NewLocal()
	}
	return NewRedis(p.Redis, p.Log, DefaultTTL)
}
