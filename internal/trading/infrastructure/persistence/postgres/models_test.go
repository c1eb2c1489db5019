package postgres

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"gorm.io/gorm/schema"
)

func TestModelColumnsMatchDomainLimits(t *testing.T) {
	amount := fmt.Sprintf("decimal(%d,%d)", domain.AmountPrecision, domain.AmountScale)
	userID := fmt.Sprintf("varchar(%d)", domain.MaxUserIDLength)
	symbol := fmt.Sprintf("varchar(%d)", domain.MaxSymbolLength)

	cases := []struct {
		model   any
		columns map[string]string
	}{
		{&TradeModel{}, map[string]string{"quantity": amount, "price": amount, "user_id": userID, "symbol": symbol}},
		{&PortfolioModel{}, map[string]string{"balance": amount, "realized_pnl": amount, "user_id": userID}},
		{&PositionModel{}, map[string]string{"quantity": amount, "average_price": amount, "realized_pnl": amount, "user_id": userID, "symbol": symbol}},
	}
	for _, tc := range cases {
		s, err := schema.Parse(tc.model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)
		for column, want := range tc.columns {
			field := s.LookUpField(column)
			require.NotNil(t, field, "%s.%s", s.Table, column)
			assert.Equal(t, want, field.TagSettings["TYPE"], "%s.%s", s.Table, column)
		}
	}
}

func TestTradeTimestampHasNoDatabaseDefault(t *testing.T) {
	s, err := schema.Parse(&TradeModel{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	field := s.LookUpField("timestamp")
	require.NotNil(t, field)
	assert.False(t, field.HasDefaultValue)
	assert.Equal(t, 6, field.Precision)
}
