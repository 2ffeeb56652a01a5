package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tukilabs/benefit/internal/config"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)

// NewClient connects to the calculation cache. Redis is optional: with no
// address configured the client is nil and callers fall back to computing
// every recovery amount directly.
func NewClient(cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		log.Named("redis").Warn("no redis address configured, calculation cache disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
