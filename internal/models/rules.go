package models

import "github.com/shopspring/decimal"

// TradingRules carries the per-symbol precision and filter constraints
// reported by the exchange. All price/quantity formatting in the engine goes
// through these two quantize methods; there is no per-symbol branching
// anywhere else.
type TradingRules struct {
	Symbol            string          `json:"symbol"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
	TickSize          decimal.Decimal `json:"tick_size"`
	StepSize          decimal.Decimal `json:"step_size"`
	MinNotional       decimal.Decimal `json:"min_notional"`
}

// QuantizePrice rounds a price to the nearest valid tick. A result of zero is
// bumped to one tick so a degenerate input never produces an unplaceable
// order.
func (r TradingRules) QuantizePrice(price decimal.Decimal) decimal.Decimal {
	if r.TickSize.IsPositive() {
		q := price.Div(r.TickSize).Round(0).Mul(r.TickSize)
		if !q.IsPositive() {
			q = r.TickSize
		}
		return q.Truncate(r.PricePrecision)
	}
	return price.Round(r.PricePrecision)
}

// QuantizeQuantity floors a quantity to the step size. Flooring, not
// rounding: an order must never exceed the quantity the sizing decided on.
func (r TradingRules) QuantizeQuantity(qty decimal.Decimal) decimal.Decimal {
	if r.StepSize.IsPositive() {
		return qty.Div(r.StepSize).Floor().Mul(r.StepSize).Truncate(r.QuantityPrecision)
	}
	return qty.Truncate(r.QuantityPrecision)
}

// MeetsMinNotional reports whether price*quantity clears the exchange's
// minimum order value filter.
func (r TradingRules) MeetsMinNotional(price, qty decimal.Decimal) bool {
	return price.Mul(qty).GreaterThanOrEqual(r.MinNotional)
}
