package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"gorm.io/gorm"
)

type portfolioRepository struct {
	db *gorm.DB
}

// NewPortfolioRepository 创建组合读模型仓储
func NewPortfolioRepository(db *gorm.DB) domain.PortfolioRepository {
	return &portfolioRepository{db: db}
}

// Get 在只读快照内读取组合汇总与非零持仓
func (r *portfolioRepository) Get(ctx context.Context, userID string) (*domain.Portfolio, error) {
	var (
		summary   PortfolioModel
		positions []PositionModel
		found     bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", userID).Limit(1).Find(&summary)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		return tx.Where("user_id = ? AND quantity <> 0", userID).Order("symbol").Find(&positions).Error
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		logger.Error(ctx, "portfolio_repository.Get failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	if !found {
		return nil, nil
	}
	return toPortfolio(&summary, positions), nil
}
