// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settlement-engine/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient backs the scheduler queue and the template cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis accepts either a host:port address or a redis:// URL. Pool sizes
// fall back to 10 connections with 2 kept idle.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisClient{Client: redis.NewClient(opts)}, nil
}

func redisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	var opts *redis.Options
	if strings.Contains(cfg.Address, "://") {
		parsed, err := redis.ParseURL(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Address, DB: cfg.DB}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = cfg.PoolSize
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = 2
	}
	return opts, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
