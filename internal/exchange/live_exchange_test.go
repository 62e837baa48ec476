package exchange

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesFromSymbolFilters(t *testing.T) {
	sym := binance.Symbol{
		Symbol: "BTCUSDT",
		Filters: []map[string]interface{}{
			{
				"filterType": "PRICE_FILTER",
				"minPrice":   "0.01000000",
				"maxPrice":   "1000000.00000000",
				"tickSize":   "0.01000000",
			},
			{
				"filterType": "LOT_SIZE",
				"minQty":     "0.00001000",
				"maxQty":     "9000.00000000",
				"stepSize":   "0.00001000",
			},
			{
				"filterType":  "NOTIONAL",
				"minNotional": "5.00000000",
			},
		},
	}

	rules := rulesFromSymbol(sym)

	assert.Equal(t, "BTCUSDT", rules.Symbol)
	assert.True(t, rules.TickSize.Equal(decimal.RequireFromString("0.01")), "tick = %s", rules.TickSize)
	assert.Equal(t, int32(2), rules.PricePrecision)
	assert.True(t, rules.StepSize.Equal(decimal.RequireFromString("0.00001")), "step = %s", rules.StepSize)
	assert.Equal(t, int32(5), rules.QuantityPrecision)
	assert.True(t, rules.MinNotional.Equal(decimal.RequireFromString("5")), "minNotional = %s", rules.MinNotional)
}

func TestRulesFromSymbolMissingFilters(t *testing.T) {
	rules := rulesFromSymbol(binance.Symbol{Symbol: "NEWUSDT"})

	require.Equal(t, "NEWUSDT", rules.Symbol)
	assert.True(t, rules.TickSize.IsZero())
	assert.True(t, rules.StepSize.IsZero())
	assert.True(t, rules.MinNotional.IsZero())
}

func TestPrecisionFromStep(t *testing.T) {
	assert.Equal(t, int32(3), precisionFromStep("0.00100000"))
	assert.Equal(t, int32(0), precisionFromStep("1.00000000"))
	assert.Equal(t, int32(0), precisionFromStep("1"))
	assert.Equal(t, int32(8), precisionFromStep("0.00000001"))
}
