package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(side Side, qty, price string) *Trade {
	return &Trade{
		UserID:   "u1",
		Symbol:   "BTC",
		Side:     side,
		Quantity: decimal.RequireFromString(qty),
		Price:    decimal.RequireFromString(price),
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestPositionApplyAveragesSameSide(t *testing.T) {
	p := Position{Symbol: "BTC"}

	assertDec(t, "0", p.Apply(trade(SideBuy, "1", "100")))
	assertDec(t, "0", p.Apply(trade(SideBuy, "3", "200")))

	assertDec(t, "4", p.Quantity)
	assertDec(t, "175", p.AveragePrice)
	assertDec(t, "700", p.BookValue())
}

func TestPositionApplyReducesAndRealizes(t *testing.T) {
	p := Position{Symbol: "BTC"}
	p.Apply(trade(SideBuy, "2", "100"))

	realized := p.Apply(trade(SideSell, "1", "130"))

	assertDec(t, "30", realized)
	assertDec(t, "1", p.Quantity)
	assertDec(t, "100", p.AveragePrice)
	assertDec(t, "30", p.RealizedPnL)

	realized = p.Apply(trade(SideSell, "1", "90"))
	assertDec(t, "-10", realized)
	assertDec(t, "0", p.Quantity)
	assertDec(t, "0", p.AveragePrice)
	assertDec(t, "20", p.RealizedPnL)
}

func TestPositionApplyFlipsThroughZero(t *testing.T) {
	p := Position{Symbol: "ETH"}
	p.Apply(trade(SideBuy, "1", "100"))

	realized := p.Apply(trade(SideSell, "3", "120"))

	assertDec(t, "20", realized)
	assertDec(t, "-2", p.Quantity)
	assertDec(t, "120", p.AveragePrice)

	// 空头回补：均价不变，盈亏方向相反
	realized = p.Apply(trade(SideBuy, "1", "100"))
	assertDec(t, "20", realized)
	assertDec(t, "-1", p.Quantity)
	assertDec(t, "120", p.AveragePrice)
	assertDec(t, "40", p.RealizedPnL)
}

func TestEmptyPortfolioSerializesEmptyPositions(t *testing.T) {
	decimal.MarshalJSONWithoutQuotes = true
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = false })

	data, err := json.Marshal(EmptyPortfolio("ghost"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ghost", got["user_id"])
	assert.Equal(t, float64(0), got["balance"])
	assert.Equal(t, []any{}, got["positions"])
	assert.NotContains(t, got, "updated_at")
}

func TestBalanceOfAndSort(t *testing.T) {
	p := Portfolio{Positions: []Position{
		{Symbol: "SOL", Quantity: decimal.NewFromInt(10), AveragePrice: decimal.NewFromInt(20)},
		{Symbol: "BTC", Quantity: decimal.NewFromInt(-1), AveragePrice: decimal.NewFromInt(50)},
	}}
	p.SortPositions()

	assert.Equal(t, "BTC", p.Positions[0].Symbol)
	assertDec(t, "150", BalanceOf(p.Positions))
}

func TestCheckStorable(t *testing.T) {
	pos := &Position{Symbol: "BTC", Quantity: decimal.NewFromInt(1), AveragePrice: decimal.NewFromInt(100)}
	assert.NoError(t, CheckStorable(pos, decimal.NewFromInt(100), decimal.Zero))

	huge := decimal.New(1, 14)
	assert.ErrorIs(t, CheckStorable(pos, huge, decimal.Zero), ErrInvalidTrade)
	assert.ErrorIs(t, CheckStorable(pos, decimal.Zero, huge.Neg()), ErrInvalidTrade)

	pos.Quantity = huge
	assert.ErrorContains(t, CheckStorable(pos, decimal.Zero, decimal.Zero), "position quantity out of range")
}
