package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"gorm.io/gorm"
)

// TradeModel 成交表映射。id 由数据库分配，timestamp 由写入方在持有用户行锁后赋值。
// 金额列的精度与 domain.AmountPrecision / domain.AmountScale 一致。
type TradeModel struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement;index:idx_trades_timestamp_id,priority:2"`
	UserID    string          `gorm:"column:user_id;type:varchar(64);index;not null"`
	Symbol    string          `gorm:"column:symbol;type:varchar(20);not null"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:decimal(32,18);not null"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null"`
	Side      string          `gorm:"column:side;type:varchar(4);not null"`
	Timestamp time.Time       `gorm:"column:timestamp;not null;precision:6;index:idx_trades_timestamp_id,priority:1"`
}

func (TradeModel) TableName() string { return "trades" }

// PortfolioModel 组合汇总表，同时作为用户级写锁的载体
type PortfolioModel struct {
	UserID      string          `gorm:"column:user_id;type:varchar(64);primaryKey"`
	Balance     decimal.Decimal `gorm:"column:balance;type:decimal(32,18);not null;default:0"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:decimal(32,18);not null;default:0"`
	Version     int64           `gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (PortfolioModel) TableName() string { return "portfolios" }

// PositionModel 用户在单个标的上的净持仓
type PositionModel struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string          `gorm:"column:user_id;type:varchar(64);uniqueIndex:idx_positions_user_symbol;not null"`
	Symbol       string          `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_positions_user_symbol;not null"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:decimal(32,18);not null;default:0"`
	AveragePrice decimal.Decimal `gorm:"column:average_price;type:decimal(32,18);not null;default:0"`
	RealizedPnL  decimal.Decimal `gorm:"column:realized_pnl;type:decimal(32,18);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// Migrate 创建或更新账本相关的表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TradeModel{}, &PortfolioModel{}, &PositionModel{})
}

// mapping helpers

func toTradeModel(t *domain.Trade) *TradeModel {
	return &TradeModel{
		ID:        t.ID,
		UserID:    t.UserID,
		Symbol:    t.Symbol,
		Quantity:  t.Quantity,
		Price:     t.Price,
		Side:      string(t.Side),
		Timestamp: t.Timestamp,
	}
}

func toTrade(m *TradeModel) *domain.Trade {
	return &domain.Trade{
		ID:        m.ID,
		UserID:    m.UserID,
		Symbol:    m.Symbol,
		Quantity:  m.Quantity,
		Price:     m.Price,
		Side:      domain.Side(m.Side),
		Timestamp: m.Timestamp.UTC(),
	}
}

func toPosition(m *PositionModel) domain.Position {
	return domain.Position{
		Symbol:       m.Symbol,
		Quantity:     m.Quantity,
		AveragePrice: m.AveragePrice,
		RealizedPnL:  m.RealizedPnL,
	}
}

func toPortfolio(m *PortfolioModel, positions []PositionModel) *domain.Portfolio {
	updatedAt := m.UpdatedAt.UTC()
	p := &domain.Portfolio{
		UserID:      m.UserID,
		Balance:     m.Balance,
		RealizedPnL: m.RealizedPnL,
		Positions:   make([]domain.Position, 0, len(positions)),
		UpdatedAt:   &updatedAt,
	}
	for i := range positions {
		p.Positions = append(p.Positions, toPosition(&positions[i]))
	}
	p.SortPositions()
	return p
}
