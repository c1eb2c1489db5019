// Package application 编排成交写入、组合读取、成交查询与依赖探测。
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"github.com/wyfcoding/trading-api/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPortfolioTTL = 30 * time.Second
	defaultLoadTimeout  = 5 * time.Second
)

// PortfolioQueryConfig 组合读取配置
type PortfolioQueryConfig struct {
	// 快照 TTL
	TTL time.Duration
	// 同一用户、同一代次的并发未命中合并为一次回源
	CoalesceReads bool
	// 合并回源时的独立超时
	LoadTimeout time.Duration
}

// PortfolioQuery 组合的 cache-aside 读取
type PortfolioQuery struct {
	repo      domain.PortfolioRepository
	cache     domain.PortfolioCache
	collector metrics.Collector
	cfg       PortfolioQueryConfig
	group     singleflight.Group
}

// NewPortfolioQuery 构造函数。
func NewPortfolioQuery(repo domain.PortfolioRepository, cache domain.PortfolioCache, collector metrics.Collector, cfg PortfolioQueryConfig) *PortfolioQuery {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultPortfolioTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &PortfolioQuery{repo: repo, cache: cache, collector: collector, cfg: cfg}
}

// GetPortfolio 先查缓存，未命中时回源并按读取时的代次条件回填。
// 缓存不可用时直接回源且不回填；用户不存在时返回零余额的空组合。
func (q *PortfolioQuery) GetPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	cached, fence, err := q.cache.Lookup(ctx, userID)
	if err != nil {
		q.collector.RecordCacheLookup(metrics.CacheError)
		logger.Warn(ctx, "portfolio cache lookup failed, reading store", "user_id", userID, "error", err)
		return q.load(ctx, userID)
	}
	if cached != nil {
		q.collector.RecordCacheLookup(metrics.CacheHit)
		return cached, nil
	}
	q.collector.RecordCacheLookup(metrics.CacheMiss)

	if !q.cfg.CoalesceReads {
		return q.loadAndFill(ctx, userID, fence)
	}

	// 代次纳入 key：失效之后到达的读者不会拿到失效之前发起的回源结果
	ch := q.group.DoChan(userID+"@"+string(fence), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.LoadTimeout)
		defer cancel()
		return q.loadAndFill(shared, userID, fence)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Portfolio), nil
	}
}

func (q *PortfolioQuery) loadAndFill(ctx context.Context, userID string, fence domain.Fence) (*domain.Portfolio, error) {
	p, err := q.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	written, err := q.cache.Fill(ctx, p, fence, q.cfg.TTL)
	switch {
	case err != nil:
		logger.Warn(ctx, "portfolio cache fill failed", "user_id", userID, "error", err)
	case !written:
		logger.Debug(ctx, "portfolio cache fill skipped, invalidated during read", "user_id", userID, "fence", string(fence))
	}
	return p, nil
}

func (q *PortfolioQuery) load(ctx context.Context, userID string) (*domain.Portfolio, error) {
	p, err := q.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", userID, err)
	}
	if p == nil {
		return domain.EmptyPortfolio(userID), nil
	}
	if p.Positions == nil {
		p.Positions = []domain.Position{}
	}
	return p, nil
}
