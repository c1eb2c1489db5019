// Package cache 提供 Redis 客户端封装：连接池、启动期退避重连、健康探测
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/trading-api/pkg/logger"
)

// Config Redis 配置
type Config struct {
	Addr           string
	Password       string
	DB             int
	PoolSize       int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectRetries int
}

// RedisCache 持有进程内唯一的 Redis 客户端
type RedisCache struct {
	client *redis.Client
	config Config
}

// New 创建 Redis 客户端并确认可连通，失败按指数退避重试
func New(ctx context.Context, cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 1
	}
	_, err := backoff.Retry(ctx, func() (string, error) {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout+cfg.ReadTimeout)
		defer cancel()
		res, err := client.Ping(pingCtx).Result()
		if err != nil {
			logger.Warn(ctx, "Redis ping failed, retrying", "addr", cfg.Addr, "error", err)
		}
		return res, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(retries)))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(ctx, "Redis connected successfully", "addr", cfg.Addr)

	return &RedisCache{client: client, config: cfg}, nil
}

// NewFromClient 包装已有客户端（测试或自定义拓扑）
func NewFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Ping 探测 Redis 连接
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Client 获取底层 Redis 客户端
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}
