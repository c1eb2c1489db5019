package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position 单个标的的净持仓，Quantity 为负表示空头
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
}

// Apply 把一笔成交计入持仓，返回本次实现的盈亏
//
// 同向加仓按数量加权更新均价；反向成交先按均价平掉已有仓位并实现盈亏，
// 超出部分以成交价开出反向仓位；仓位归零时均价清零。
func (p *Position) Apply(t *Trade) decimal.Decimal {
	delta := t.SignedQuantity()
	realized := decimal.Zero

	if p.Quantity.IsZero() || p.Quantity.Sign() == delta.Sign() {
		held := p.Quantity.Abs()
		if held.IsZero() {
			p.AveragePrice = t.Price
		} else {
			total := held.Add(t.Quantity)
			p.AveragePrice = p.AveragePrice.Mul(held).Add(t.Price.Mul(t.Quantity)).DivRound(total, AmountScale)
		}
		p.Quantity = p.Quantity.Add(delta)
		return realized
	}

	closing := decimal.Min(t.Quantity, p.Quantity.Abs())
	// 多头平仓盈亏为 (成交价-均价)*数量，空头相反
	realized = t.Price.Sub(p.AveragePrice).Mul(closing).Mul(decimal.NewFromInt(int64(p.Quantity.Sign())))
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Quantity = p.Quantity.Add(delta)

	switch {
	case p.Quantity.IsZero():
		p.AveragePrice = decimal.Zero
	case p.Quantity.Sign() == delta.Sign():
		// 反手
		p.AveragePrice = t.Price
	}
	return realized
}

// BookValue 按均价计的持仓价值
func (p *Position) BookValue() decimal.Decimal {
	return p.Quantity.Mul(p.AveragePrice)
}

// Portfolio 用户组合视图，由成交派生
type Portfolio struct {
	UserID      string          `json:"user_id"`
	Balance     decimal.Decimal `json:"balance"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Positions   []Position      `json:"positions"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// EmptyPortfolio 用户没有任何记录时的默认组合：零余额、空持仓
func EmptyPortfolio(userID string) *Portfolio {
	return &Portfolio{
		UserID:      userID,
		Balance:     decimal.Zero,
		RealizedPnL: decimal.Zero,
		Positions:   []Position{},
	}
}

// SortPositions 按标的升序排列持仓
func (p *Portfolio) SortPositions() {
	sort.Slice(p.Positions, func(i, j int) bool {
		return p.Positions[i].Symbol < p.Positions[j].Symbol
	})
}

// BalanceOf 计算一组持仓的账面余额
func BalanceOf(positions []Position) decimal.Decimal {
	total := decimal.Zero
	for i := range positions {
		total = total.Add(positions[i].BookValue())
	}
	return total
}

// CheckStorable 校验一次成交后的持仓与组合汇总仍在存储范围内，超出时返回 ErrInvalidTrade
func CheckStorable(pos *Position, balance, realized decimal.Decimal) error {
	for _, v := range []struct {
		field string
		value decimal.Decimal
	}{
		{"position quantity", pos.Quantity},
		{"average price", pos.AveragePrice},
		{"position realized pnl", pos.RealizedPnL},
		{"balance", balance},
		{"realized pnl", realized},
	} {
		if err := CheckRange(v.field, v.value); err != nil {
			return err
		}
	}
	return nil
}
