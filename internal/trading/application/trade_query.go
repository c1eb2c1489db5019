package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/trading-api/internal/trading/domain"
)

// ErrInvalidPaging 分页参数为负
var ErrInvalidPaging = errors.New("invalid paging parameters")

// TradePage 一页成交与总数
type TradePage struct {
	Trades []*domain.Trade `json:"trades"`
	Total  int64           `json:"total"`
}

// TradeQuery 成交历史查询
type TradeQuery struct {
	repo         domain.TradeRepository
	defaultLimit int
	maxLimit     int
}

// NewTradeQuery 构造函数。
func NewTradeQuery(repo domain.TradeRepository, defaultLimit, maxLimit int) *TradeQuery {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &TradeQuery{repo: repo, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// ListTrades 按时间倒序分页。limit 为 0 时取默认值，超过上限时截断。
func (q *TradeQuery) ListTrades(ctx context.Context, limit, offset int) (*TradePage, error) {
	if limit < 0 || offset < 0 {
		return nil, ErrInvalidPaging
	}
	if limit == 0 {
		limit = q.defaultLimit
	}
	if limit > q.maxLimit {
		limit = q.maxLimit
	}

	trades, total, err := q.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	return &TradePage{Trades: trades, Total: total}, nil
}
