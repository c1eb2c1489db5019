// Package redis 实现带失效代次的组合快照缓存。
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
)

const (
	// generationTTL 代次键保留时间，需远大于快照 TTL
	generationTTL = 24 * time.Hour

	breakerFailures = 5
	breakerTimeout  = 10 * time.Second

	initialFence domain.Fence = "0"
)

// PortfolioCache 是 domain.PortfolioCache 的 Redis 实现
//
// 每个用户有两个键：快照 portfolio:{user} 与代次 portfolio:{user}:gen，
// 哈希标签保证两者在集群中落在同一槽位。失效时删除快照并递增代次；
// 回填通过 WATCH 代次键实现条件写入，代次变化则放弃。
type PortfolioCache struct {
	client  redis.UniversalClient
	prefix  string
	breaker *gobreaker.CircuitBreaker
}

// NewPortfolioCache 创建组合缓存，读与回填经过熔断器
func NewPortfolioCache(client redis.UniversalClient) *PortfolioCache {
	return &PortfolioCache{
		client: client,
		prefix: "portfolio:",
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "portfolio-cache",
			MaxRequests: 1,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type lookupResult struct {
	portfolio *domain.Portfolio
	fence     domain.Fence
}

// Lookup 实现 domain.PortfolioCache.Lookup
func (c *PortfolioCache) Lookup(ctx context.Context, userID string) (*domain.Portfolio, domain.Fence, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var data, gen *redis.StringCmd
		_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			data = pipe.Get(ctx, c.dataKey(userID))
			gen = pipe.Get(ctx, c.generationKey(userID))
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}

		fence, err := fenceOf(gen)
		if err != nil {
			return nil, err
		}

		raw, err := data.Bytes()
		if errors.Is(err, redis.Nil) {
			return lookupResult{fence: fence}, nil
		}
		if err != nil {
			return nil, err
		}

		var p domain.Portfolio
		if err := json.Unmarshal(raw, &p); err != nil {
			// 损坏的快照按未命中处理，随后的回填会覆盖它
			logger.Warn(ctx, "portfolio_cache.Lookup undecodable entry", "user_id", userID, "error", err)
			return lookupResult{fence: fence}, nil
		}
		if p.Positions == nil {
			p.Positions = []domain.Position{}
		}
		return lookupResult{portfolio: &p, fence: fence}, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("portfolio cache lookup: %w", err)
	}
	res := out.(lookupResult)
	return res.portfolio, res.fence, nil
}

// Fill 实现 domain.PortfolioCache.Fill
func (c *PortfolioCache) Fill(ctx context.Context, p *domain.Portfolio, fence domain.Fence, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("encode portfolio: %w", err)
	}
	dataKey, genKey := c.dataKey(p.UserID), c.generationKey(p.UserID)

	out, err := c.breaker.Execute(func() (interface{}, error) {
		written := false
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := fenceOf(tx.Get(ctx, genKey))
			if err != nil {
				return err
			}
			if current != fence {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, dataKey, data, ttl)
				return nil
			})
			written = err == nil
			return err
		}, genKey)
		if errors.Is(err, redis.TxFailedErr) {
			// 代次在 WATCH 与 EXEC 之间被推进
			return false, nil
		}
		return written, err
	})
	if err != nil {
		return false, fmt.Errorf("portfolio cache fill: %w", err)
	}
	return out.(bool), nil
}

// Invalidate 实现 domain.PortfolioCache.Invalidate。不经过熔断器，每次都尝试。
func (c *PortfolioCache) Invalidate(ctx context.Context, userID string) error {
	genKey := c.generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.dataKey(userID))
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("portfolio cache invalidate: %w", err)
	}
	return nil
}

func (c *PortfolioCache) dataKey(userID string) string {
	return fmt.Sprintf("%s{%s}", c.prefix, userID)
}

func (c *PortfolioCache) generationKey(userID string) string {
	return c.dataKey(userID) + ":gen"
}

// fenceOf 读取代次，键不存在视为初始代次
func fenceOf(cmd *redis.StringCmd) (domain.Fence, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return initialFence, nil
	}
	if err != nil {
		return "", err
	}
	return domain.Fence(v), nil
}
