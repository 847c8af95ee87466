package config

// This file defines the Redis client constructor.  Redis backs the replay
// log of accepted Telegram auth dates when REPLAY_BACKEND=redis.

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client from the REDIS_* settings of
// cfg.  The server is pinged before returning; an unreachable server is an
// error because the replay log cannot be allowed to silently disappear.
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	var tlsConf *tls.Config
	if cfg.RedisTLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	addr := cfg.RedisAddress()
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		TLSConfig: tlsConf,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
