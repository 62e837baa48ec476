package grid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trade-engine-go/internal/models"
)

func testRules() models.TradingRules {
	return models.TradingRules{
		Symbol:            "TESTUSDT",
		PricePrecision:    3,
		QuantityPrecision: 2,
		TickSize:          decimal.RequireFromString("0.001"),
		StepSize:          decimal.RequireFromString("0.01"),
		MinNotional:       decimal.RequireFromString("10"),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLadderPricesStepLinearlyFromCenter(t *testing.T) {
	buys, sells := buildLadder(dec("1.00"), dec("0.025"), 5, dec("100"), testRules())
	require.Len(t, buys, 5)
	require.Len(t, sells, 5)

	wantBuys := []string{"0.975", "0.95", "0.925", "0.9", "0.875"}
	wantSells := []string{"1.025", "1.05", "1.075", "1.1", "1.125"}
	for i := range wantBuys {
		assert.True(t, buys[i].Price.Equal(dec(wantBuys[i])),
			"buy[%d] = %s, want %s", i, buys[i].Price, wantBuys[i])
		assert.True(t, sells[i].Price.Equal(dec(wantSells[i])),
			"sell[%d] = %s, want %s", i, sells[i].Price, wantSells[i])
		assert.Equal(t, models.Buy, buys[i].Side)
		assert.Equal(t, models.Sell, sells[i].Side)
	}
}

func TestLadderIsStrictlyMonotonic(t *testing.T) {
	buys, sells := buildLadder(dec("612.34"), dec("0.01"), 8, dec("100"), testRules())

	prev := dec("612.34")
	for i, lvl := range buys {
		assert.True(t, lvl.Price.LessThan(prev), "buy[%d] %s not below %s", i, lvl.Price, prev)
		prev = lvl.Price
	}
	prev = dec("612.34")
	for i, lvl := range sells {
		assert.True(t, lvl.Price.GreaterThan(prev), "sell[%d] %s not above %s", i, lvl.Price, prev)
		prev = lvl.Price
	}
}

func TestLadderQuantitiesClearFilters(t *testing.T) {
	rules := testRules()
	buys, sells := buildLadder(dec("1.00"), dec("0.025"), 5, dec("100"), rules)

	for _, lvl := range append(buys, sells...) {
		require.Equal(t, models.LevelPending, lvl.Status)
		assert.True(t, lvl.Quantity.IsPositive())
		// Quantity is floored, so notional never exceeds the budget.
		assert.True(t, lvl.Price.Mul(lvl.Quantity).LessThanOrEqual(dec("100")))
		assert.True(t, rules.MeetsMinNotional(lvl.Price, lvl.Quantity))
		assert.True(t, lvl.Quantity.Equal(rules.QuantizeQuantity(lvl.Quantity)))
	}
}

func TestLadderWideSpacingFailsNonPositiveBuyRungs(t *testing.T) {
	buys, sells := buildLadder(dec("1.00"), dec("0.25"), 5, dec("100"), testRules())

	// 1 − 0.25·4 = 0 and 1 − 0.25·5 < 0: those rungs cannot trade.
	assert.Equal(t, models.LevelFailed, buys[3].Status)
	assert.Equal(t, models.LevelFailed, buys[4].Status)
	for _, lvl := range sells {
		assert.Equal(t, models.LevelPending, lvl.Status)
	}
}

func TestLadderBelowNotionalMarksLevelsFailed(t *testing.T) {
	buys, sells := buildLadder(dec("1.00"), dec("0.025"), 5, dec("5"), testRules())

	for _, lvl := range append(buys, sells...) {
		assert.Equal(t, models.LevelFailed, lvl.Status)
	}
}

func TestReplacementMirrorsFilledLevel(t *testing.T) {
	rules := testRules()
	spacing := dec("0.025")

	filledBuy := &models.GridLevel{
		Side:     models.Buy,
		Price:    dec("0.975"),
		Quantity: dec("100"),
		Status:   models.LevelFilled,
	}
	sell := replacementLevel(filledBuy, spacing, rules)
	assert.Equal(t, models.Sell, sell.Side)
	// 0.975 × 1.025 = 0.999375 → 0.999
	assert.True(t, sell.Price.Equal(dec("0.999")), "price = %s", sell.Price)
	assert.True(t, sell.Quantity.Equal(dec("100")))
	assert.Equal(t, models.LevelPending, sell.Status)

	filledSell := &models.GridLevel{
		Side:     models.Sell,
		Price:    dec("1.025"),
		Quantity: dec("100"),
		Status:   models.LevelFilled,
	}
	buy := replacementLevel(filledSell, spacing, rules)
	assert.Equal(t, models.Buy, buy.Side)
	// 1.025 × 0.975 = 0.999375 → 0.999
	assert.True(t, buy.Price.Equal(dec("0.999")), "price = %s", buy.Price)
}

func TestReplacementBelowNotionalFails(t *testing.T) {
	filled := &models.GridLevel{
		Side:     models.Buy,
		Price:    dec("1.00"),
		Quantity: dec("5"),
		Status:   models.LevelFilled,
	}
	repl := replacementLevel(filled, dec("0.025"), testRules())
	assert.Equal(t, models.LevelFailed, repl.Status)
}
