package config

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yeremiapane/tablesync/utils"
)

// NewRedisClient returns nil when Redis is not configured or unreachable;
// callers then fall back to the in-process hub.
func NewRedisClient(cfg Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		utils.ErrorLogger.WithError(err).Warnf("redis at %s unreachable, using local hub only", cfg.RedisAddr)
		_ = client.Close()
		return nil
	}
	return client
}
