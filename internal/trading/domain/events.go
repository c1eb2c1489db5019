package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventTypeTradeRecorded 成交入账事件类型
const EventTypeTradeRecorded = "trade.recorded"

// TradeRecordedEvent 成交入账事件，与成交在同一事务中写入 outbox
type TradeRecordedEvent struct {
	TradeID     uint64          `json:"trade_id"`
	UserID      string          `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
	Balance     decimal.Decimal `json:"balance"`
	PositionQty decimal.Decimal `json:"position_quantity"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewTradeRecordedEvent 根据成交与更新后的持仓构造事件
func NewTradeRecordedEvent(t *Trade, pos *Position, balance, realized decimal.Decimal) TradeRecordedEvent {
	return TradeRecordedEvent{
		TradeID:     t.ID,
		UserID:      t.UserID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Quantity:    t.Quantity,
		Price:       t.Price,
		Timestamp:   t.Timestamp,
		Balance:     balance,
		PositionQty: pos.Quantity,
		RealizedPnL: realized,
		OccurredAt:  time.Now().UTC(),
	}
}
