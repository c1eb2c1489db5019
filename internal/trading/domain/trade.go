// Package domain 定义成交账本与组合视图的领域模型、校验规则和仓储接口
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析方向，大小写不敏感
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Valid 是否为合法方向
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign 买入为 +1，卖出为 -1
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// 校验错误
var (
	// ErrMissingFields 必填字段缺失
	ErrMissingFields = errors.New("missing required fields")
	// ErrInvalidTrade 字段存在但不满足约束
	ErrInvalidTrade = errors.New("invalid trade")
)

// IsValidationError 判断是否为校验错误
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingFields) || errors.Is(err, ErrInvalidTrade)
}

// Trade 已成交记录，创建后不可变
type Trade struct {
	ID        uint64          `json:"id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notional 成交金额
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// SignedQuantity 买入为正，卖出为负
func (t *Trade) SignedQuantity() decimal.Decimal {
	return t.Quantity.Mul(t.Side.Sign())
}

// TradeCandidate 待写入的成交请求，字段使用指针区分缺失与零值
type TradeCandidate struct {
	UserID   string           `json:"user_id"`
	Symbol   string           `json:"symbol"`
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
	Side     string           `json:"side"`
}

// Validate 校验并规范化请求，返回尚未分配 ID 与时间戳的 Trade
func (c TradeCandidate) Validate() (*Trade, error) {
	userID := strings.TrimSpace(c.UserID)
	symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
	if userID == "" || symbol == "" || c.Quantity == nil || c.Price == nil || strings.TrimSpace(c.Side) == "" {
		return nil, ErrMissingFields
	}
	if len(userID) > MaxUserIDLength {
		return nil, fmt.Errorf("%w: user_id exceeds %d characters", ErrInvalidTrade, MaxUserIDLength)
	}
	if len(symbol) > MaxSymbolLength {
		return nil, fmt.Errorf("%w: symbol exceeds %d characters", ErrInvalidTrade, MaxSymbolLength)
	}
	if !c.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidTrade)
	}
	if !c.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidTrade)
	}
	if err := CheckAmount("quantity", *c.Quantity); err != nil {
		return nil, err
	}
	if err := CheckAmount("price", *c.Price); err != nil {
		return nil, err
	}
	if err := CheckRange("notional", c.Quantity.Mul(*c.Price)); err != nil {
		return nil, err
	}
	side, ok := ParseSide(c.Side)
	if !ok {
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidTrade)
	}

	return &Trade{
		UserID:   userID,
		Symbol:   symbol,
		Quantity: *c.Quantity,
		Price:    *c.Price,
		Side:     side,
	}, nil
}

// 列宽限制，与存储层保持一致
const (
	MaxUserIDLength = 64
	MaxSymbolLength = 20

	// AmountPrecision 与 AmountScale 对应存储层的 decimal(32,18)
	AmountPrecision = 32
	AmountScale     = 18
)

// maxAmount 可存储的绝对值上界（不含），即 10^(AmountPrecision-AmountScale)
var maxAmount = decimal.New(1, AmountPrecision-AmountScale)

// CheckAmount 校验金额或数量能被存储层无损保存：小数位不超过 AmountScale，整数位不超过
// AmountPrecision-AmountScale。不满足时返回包装了 ErrInvalidTrade 的错误。
func CheckAmount(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidTrade, field, AmountScale)
	}
	return CheckRange(field, d)
}

// CheckRange 只校验整数位，用于均价、余额等派生值，它们的多余小数位由存储层舍入
func CheckRange(field string, d decimal.Decimal) error {
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: %s out of range", ErrInvalidTrade, field)
	}
	return nil
}
