package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testRules() TradingRules {
	return TradingRules{
		Symbol:            "TESTUSDT",
		PricePrecision:    3,
		QuantityPrecision: 2,
		TickSize:          decimal.RequireFromString("0.001"),
		StepSize:          decimal.RequireFromString("0.01"),
		MinNotional:       decimal.RequireFromString("10"),
	}
}

func TestQuantizePriceRoundsToNearestTick(t *testing.T) {
	rules := testRules()

	cases := []struct {
		in   string
		want string
	}{
		{"1.050625", "1.051"},
		{"1.076890", "1.077"},
		{"0.926859", "0.927"},
		{"0.9265", "0.927"}, // exact half rounds up
		{"1.0000", "1.000"},
		{"0.0004", "0.001"}, // rounds to zero ticks, bumped to one
	}
	for _, c := range cases {
		got := rules.QuantizePrice(decimal.RequireFromString(c.in))
		assert.True(t, got.Equal(decimal.RequireFromString(c.want)),
			"QuantizePrice(%s) = %s, want %s", c.in, got, c.want)
	}
}

func TestQuantizeQuantityFloorsToStep(t *testing.T) {
	rules := testRules()

	cases := []struct {
		in   string
		want string
	}{
		{"10.999", "10.99"},
		{"10.991", "10.99"},
		{"0.009", "0"},
		{"100", "100"},
	}
	for _, c := range cases {
		got := rules.QuantizeQuantity(decimal.RequireFromString(c.in))
		assert.True(t, got.Equal(decimal.RequireFromString(c.want)),
			"QuantizeQuantity(%s) = %s, want %s", c.in, got, c.want)
	}
}

func TestMeetsMinNotional(t *testing.T) {
	rules := testRules()

	assert.True(t, rules.MeetsMinNotional(decimal.NewFromInt(1), decimal.NewFromInt(10)))
	assert.True(t, rules.MeetsMinNotional(decimal.NewFromInt(2), decimal.NewFromInt(6)))
	assert.False(t, rules.MeetsMinNotional(decimal.NewFromInt(1), decimal.NewFromInt(9)))
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
