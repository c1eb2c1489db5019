// Package postgres 提供成交账本与组合读模型的 GORM 实现，默认方言为 PostgreSQL。
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventAppender 在成交事务内追加待投递事件
type EventAppender interface {
	Append(tx *gorm.DB, eventType, key string, payload any) error
}

// newestFirst 按成交时间倒序，同一时间按 id 倒序
var newestFirst = clause.OrderBy{Columns: []clause.OrderByColumn{
	{Column: clause.Column{Name: "timestamp"}, Desc: true},
	{Column: clause.Column{Name: "id"}, Desc: true},
}}

// tradeRepository 是 domain.TradeRepository 的 GORM 实现
type tradeRepository struct {
	db     *gorm.DB
	events EventAppender
}

// NewTradeRepository 创建成交仓储。events 为 nil 时不写 outbox。
func NewTradeRepository(db *gorm.DB, events EventAppender) domain.TradeRepository {
	return &tradeRepository{db: db, events: events}
}

// Record 实现 domain.TradeRepository.Record
func (r *tradeRepository) Record(ctx context.Context, trade *domain.Trade) error {
	var recorded *domain.Trade
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		portfolio, err := lockPortfolio(tx, trade.UserID)
		if err != nil {
			return err
		}

		position, positionModel, err := loadPosition(tx, trade.UserID, trade.Symbol)
		if err != nil {
			return err
		}
		realized := position.Apply(trade)

		var others []PositionModel
		if err := tx.Where("user_id = ? AND symbol <> ?", trade.UserID, trade.Symbol).Find(&others).Error; err != nil {
			return fmt.Errorf("load positions: %w", err)
		}
		open := make([]domain.Position, 0, len(others)+1)
		open = append(open, *position)
		for i := range others {
			open = append(open, toPosition(&others[i]))
		}
		balance := domain.BalanceOf(open)
		realizedTotal := portfolio.RealizedPnL.Add(realized)
		if err := domain.CheckStorable(position, balance, realizedTotal); err != nil {
			return err
		}

		// 时间戳在持有行锁后取，且不早于该用户上一笔成交，保证与入账顺序一致
		ts := time.Now().UTC().Truncate(time.Microsecond)
		if ts.Before(portfolio.UpdatedAt) {
			ts = portfolio.UpdatedAt.UTC()
		}

		model := toTradeModel(trade)
		model.ID = 0
		model.Timestamp = ts
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		// 回读数据库实际保存的值
		if err := tx.First(model, model.ID).Error; err != nil {
			return fmt.Errorf("reload trade: %w", err)
		}
		recorded = toTrade(model)

		positionModel.Quantity = position.Quantity
		positionModel.AveragePrice = position.AveragePrice
		positionModel.RealizedPnL = position.RealizedPnL
		if err := tx.Save(positionModel).Error; err != nil {
			return fmt.Errorf("save position: %w", err)
		}

		if err := tx.Model(&PortfolioModel{}).Where("user_id = ?", trade.UserID).Updates(map[string]any{
			"balance":      balance,
			"realized_pnl": realizedTotal,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   ts,
		}).Error; err != nil {
			return fmt.Errorf("update portfolio: %w", err)
		}

		if r.events != nil {
			event := domain.NewTradeRecordedEvent(recorded, position, balance, realizedTotal)
			if err := r.events.Append(tx, domain.EventTypeTradeRecorded, recorded.UserID, event); err != nil {
				return fmt.Errorf("append outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if domain.IsValidationError(err) {
			logger.Warn(ctx, "trade_repository.Record rejected", "user_id", trade.UserID, "symbol", trade.Symbol, "error", err)
			return err
		}
		logger.Error(ctx, "trade_repository.Record failed", "user_id", trade.UserID, "symbol", trade.Symbol, "error", err)
		return fmt.Errorf("failed to record trade: %w", err)
	}

	*trade = *recorded
	return nil
}

// lockPortfolio 保证组合行存在并对其加行锁，同一用户的写入由此串行
func lockPortfolio(tx *gorm.DB, userID string) (*PortfolioModel, error) {
	seed := &PortfolioModel{UserID: userID, Balance: decimal.Zero, RealizedPnL: decimal.Zero}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, fmt.Errorf("ensure portfolio: %w", err)
	}

	var locked PortfolioModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&locked).Error; err != nil {
		return nil, fmt.Errorf("lock portfolio: %w", err)
	}
	return &locked, nil
}

// loadPosition 读取用户在该标的上的持仓，不存在时返回未落库的空持仓
func loadPosition(tx *gorm.DB, userID, symbol string) (*domain.Position, *PositionModel, error) {
	var model PositionModel
	res := tx.Where("user_id = ? AND symbol = ?", userID, symbol).Limit(1).Find(&model)
	if res.Error != nil {
		return nil, nil, fmt.Errorf("load position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		model = PositionModel{UserID: userID, Symbol: symbol}
	}
	position := toPosition(&model)
	return &position, &model, nil
}

// List 实现 domain.TradeRepository.List
func (r *tradeRepository) List(ctx context.Context, limit, offset int) ([]*domain.Trade, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&TradeModel{}).Count(&total).Error; err != nil {
		logger.Error(ctx, "trade_repository.List count failed", "error", err)
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	var models []TradeModel
	if err := r.db.WithContext(ctx).
		Order(newestFirst).
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		logger.Error(ctx, "trade_repository.List failed", "limit", limit, "offset", offset, "error", err)
		return nil, 0, fmt.Errorf("failed to list trades: %w", err)
	}

	trades := make([]*domain.Trade, len(models))
	for i := range models {
		trades[i] = toTrade(&models[i])
	}
	return trades, total, nil
}
