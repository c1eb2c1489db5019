package domain

import (
	"context"
	"time"
)

// TradeRepository 成交账本仓储
type TradeRepository interface {
	// Record 在单个事务内写入成交并更新该用户的持仓与余额，成功后回填 ID 和 Timestamp。
	// 同一用户的写入在存储层串行化。
	Record(ctx context.Context, trade *Trade) error
	// List 按时间倒序分页查询，同时返回总数
	List(ctx context.Context, limit, offset int) ([]*Trade, int64, error)
}

// PortfolioRepository 组合读模型仓储
type PortfolioRepository interface {
	// Get 返回用户组合；用户不存在时返回 nil, nil
	Get(ctx context.Context, userID string) (*Portfolio, error)
}

// Fence 缓存失效代次。读路径在未命中时记下当前代次，回填时代次已变说明期间发生过失效，放弃回填。
type Fence string

// PortfolioCache 组合快照缓存
type PortfolioCache interface {
	// Lookup 返回缓存的组合（未命中为 nil）以及当前失效代次
	Lookup(ctx context.Context, userID string) (*Portfolio, Fence, error)
	// Fill 仅当代次仍为 fence 时写入快照，返回是否写入
	Fill(ctx context.Context, p *Portfolio, fence Fence, ttl time.Duration) (bool, error)
	// Invalidate 删除快照并推进代次
	Invalidate(ctx context.Context, userID string) error
}

// Pinger 依赖存活探测
type Pinger interface {
	Ping(ctx context.Context) error
}
