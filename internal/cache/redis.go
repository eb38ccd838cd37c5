// Package cache provides the shared redis client. The client is optional: a nil
// client disables cross-worker locking and event push without failing startup.
package cache

import (
	"context"
	"time"

	"github.com/dukapos/dukapos/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, continuing without it",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
	}
	return client
}

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
)
