package http

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/trading-api/internal/trading/application"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
)

// number 以 JSON 数字输出的十进制数
type number decimal.Decimal

// MarshalJSON 实现 json.Marshaler
func (n number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

// TradeResponse 成交响应
type TradeResponse struct {
	ID        uint64    `json:"id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Quantity  number    `json:"quantity"`
	Price     number    `json:"price"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// TradePageResponse 成交分页响应
type TradePageResponse struct {
	Trades []TradeResponse `json:"trades"`
	Total  int64           `json:"total"`
}

// PositionResponse 持仓响应
type PositionResponse struct {
	Symbol       string `json:"symbol"`
	Quantity     number `json:"quantity"`
	AveragePrice number `json:"average_price"`
	RealizedPnL  number `json:"realized_pnl"`
}

// PortfolioResponse 组合响应
type PortfolioResponse struct {
	UserID      string             `json:"user_id"`
	Balance     number             `json:"balance"`
	RealizedPnL number             `json:"realized_pnl"`
	Positions   []PositionResponse `json:"positions"`
	UpdatedAt   *time.Time         `json:"updated_at,omitempty"`
}

func toTradeResponse(t *domain.Trade) TradeResponse {
	return TradeResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Symbol:    t.Symbol,
		Quantity:  number(t.Quantity),
		Price:     number(t.Price),
		Side:      string(t.Side),
		Timestamp: t.Timestamp,
	}
}

func toTradePageResponse(page *application.TradePage) TradePageResponse {
	out := TradePageResponse{Trades: make([]TradeResponse, 0, len(page.Trades)), Total: page.Total}
	for _, t := range page.Trades {
		out.Trades = append(out.Trades, toTradeResponse(t))
	}
	return out
}

func toPortfolioResponse(p *domain.Portfolio) PortfolioResponse {
	out := PortfolioResponse{
		UserID:      p.UserID,
		Balance:     number(p.Balance),
		RealizedPnL: number(p.RealizedPnL),
		Positions:   make([]PositionResponse, 0, len(p.Positions)),
		UpdatedAt:   p.UpdatedAt,
	}
	for _, pos := range p.Positions {
		out.Positions = append(out.Positions, PositionResponse{
			Symbol:       pos.Symbol,
			Quantity:     number(pos.Quantity),
			AveragePrice: number(pos.AveragePrice),
			RealizedPnL:  number(pos.RealizedPnL),
		})
	}
	return out
}
