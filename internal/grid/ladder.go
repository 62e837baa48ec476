package grid

import (
	"github.com/shopspring/decimal"

	"grid-trade-engine-go/internal/models"
)

var one = decimal.NewFromInt(1)

// buildLadder computes the buy and sell rungs around a center price. Rung i
// sits at center×(1∓spacing·i): buy prices strictly decrease, sell prices
// strictly increase. Prices are quantized to the tick grid and quantities
// floored to the step grid; a rung whose floored quantity no longer clears
// the exchange minimum notional is created directly in the FAILED state so
// the rest of the ladder is unaffected.
func buildLadder(center, spacing decimal.Decimal, levelCount int, orderValue decimal.Decimal, rules models.TradingRules) (buys, sells []*models.GridLevel) {
	for i := 1; i <= levelCount; i++ {
		step := spacing.Mul(decimal.NewFromInt(int64(i)))
		buys = append(buys, newLevel(models.Buy, center.Mul(one.Sub(step)), orderValue, rules))
		sells = append(sells, newLevel(models.Sell, center.Mul(one.Add(step)), orderValue, rules))
	}
	return buys, sells
}

// newLevel quantizes one rung. A raw price at or below zero (spacing·i ≥ 1
// on the buy side) cannot trade and fails the rung outright.
func newLevel(side models.Side, rawPrice, orderValue decimal.Decimal, rules models.TradingRules) *models.GridLevel {
	if !rawPrice.IsPositive() {
		return &models.GridLevel{Side: side, Price: rawPrice, Status: models.LevelFailed}
	}
	price := rules.QuantizePrice(rawPrice)
	quantity := rules.QuantizeQuantity(orderValue.Div(price))

	level := &models.GridLevel{
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Status:   models.LevelPending,
	}
	if quantity.IsZero() || !rules.MeetsMinNotional(price, quantity) {
		level.Status = models.LevelFailed
	}
	return level
}

// replacementLevel mirrors a filled rung: a filled BUY spawns a SELL one
// spacing step above its fill price, a filled SELL spawns a BUY one step
// below. The replacement side keeps the filled quantity so inventory bought
// on the way down is the inventory sold on the way back up.
func replacementLevel(filled *models.GridLevel, spacing decimal.Decimal, rules models.TradingRules) *models.GridLevel {
	var rawPrice decimal.Decimal
	if filled.Side == models.Buy {
		rawPrice = filled.Price.Mul(one.Add(spacing))
	} else {
		rawPrice = filled.Price.Mul(one.Sub(spacing))
	}

	price := rules.QuantizePrice(rawPrice)
	quantity := rules.QuantizeQuantity(filled.Quantity)

	level := &models.GridLevel{
		Side:     filled.Side.Opposite(),
		Price:    price,
		Quantity: quantity,
		Status:   models.LevelPending,
	}
	if quantity.IsZero() || !rules.MeetsMinNotional(price, quantity) {
		level.Status = models.LevelFailed
	}
	return level
}
