package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"savanna-sms/internal/config/configs"
)

// NewRedisClient creates a Redis client for the rate-limiter counter store
// and verifies connectivity with a short ping. Unlike the relational pool,
// callers tolerate this store going away later: the rate limiter fails open.
func NewRedisClient(ctx context.Context, cfg configs.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
