package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"github.com/wyfcoding/trading-api/pkg/metrics"
)

const defaultWriteTimeout = 10 * time.Second

// TradeCommand 处理成交写入（Commands）。
type TradeCommand struct {
	repo         domain.TradeRepository
	cache        domain.PortfolioCache
	collector    metrics.Collector
	writeTimeout time.Duration
}

// NewTradeCommand 构造函数。
func NewTradeCommand(repo domain.TradeRepository, cache domain.PortfolioCache, collector metrics.Collector, writeTimeout time.Duration) *TradeCommand {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &TradeCommand{repo: repo, cache: cache, collector: collector, writeTimeout: writeTimeout}
}

// RecordTrade 校验并写入成交，随后失效该用户的组合缓存。
// 写入与失效不受调用方取消影响；失效失败只记录日志和指标，不影响写入结果。
func (c *TradeCommand) RecordTrade(ctx context.Context, candidate domain.TradeCandidate) (*domain.Trade, error) {
	trade, err := candidate.Validate()
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()

	if err := c.repo.Record(wctx, trade); err != nil {
		// 超出存储范围的派生值（余额、均价）由存储层判定
		if domain.IsValidationError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("record trade for %s: %w", trade.UserID, err)
	}
	c.collector.RecordTrade(string(trade.Side))
	logger.Info(ctx, "trade recorded",
		"trade_id", trade.ID,
		"user_id", trade.UserID,
		"symbol", trade.Symbol,
		"side", string(trade.Side),
		"quantity", trade.Quantity.String(),
		"price", trade.Price.String(),
	)

	if err := c.cache.Invalidate(wctx, trade.UserID); err != nil {
		c.collector.RecordCacheInvalidationFailure()
		logger.Error(ctx, "portfolio cache invalidation failed", "user_id", trade.UserID, "trade_id", trade.ID, "error", err)
	}
	return trade, nil
}
