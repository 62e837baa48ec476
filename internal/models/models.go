package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the mirrored side, used when a filled level spawns its
// replacement order on the other side of the ladder.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// LifecycleState is the state of one (client, symbol) grid.
type LifecycleState string

const (
	StateInitializing LifecycleState = "INITIALIZING"
	StateActive       LifecycleState = "ACTIVE"
	StateResetting    LifecycleState = "RESETTING"
	StateStopped      LifecycleState = "STOPPED"
)

// LevelStatus tracks the runtime status of a single ladder rung.
type LevelStatus string

const (
	LevelPending LevelStatus = "PENDING" // computed, not yet submitted or submission in flight
	LevelOpen    LevelStatus = "OPEN"    // resting on the exchange
	LevelFilled  LevelStatus = "FILLED"
	LevelFailed  LevelStatus = "FAILED" // rejected by the exchange, excluded until next reset
)

// GridLevel is one rung of the ladder. At most one non-terminal exchange
// order is associated with a level at a time.
type GridLevel struct {
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	ExchangeOrderID int64           `json:"exchange_order_id,omitempty"`
	Status          LevelStatus     `json:"status"`
	FilledAt        time.Time       `json:"filled_at,omitempty"`
}

// Live reports whether the level currently has a resting exchange order.
func (l *GridLevel) Live() bool {
	return l.Status == LevelOpen && l.ExchangeOrderID != 0
}

// GridConfig is the full definition and runtime state of one (client, symbol)
// grid. BuyLevels and SellLevels are ordered closest-to-center first: buy
// prices strictly decrease away from the center, sell prices strictly
// increase away from it.
type GridConfig struct {
	ClientID     int64           `json:"client_id"`
	Symbol       string          `json:"symbol"`
	TotalCapital decimal.Decimal `json:"total_capital"`
	CenterPrice  decimal.Decimal `json:"center_price"`
	Spacing      decimal.Decimal `json:"spacing"`
	BuyLevels    []*GridLevel    `json:"buy_levels"`
	SellLevels   []*GridLevel    `json:"sell_levels"`
	State        LifecycleState  `json:"state"`
}

// LotOrigin distinguishes lots created from the one-time inventory bootstrap
// from lots created by BUY fills.
type LotOrigin string

const (
	OriginInitial LotOrigin = "INITIAL"
	OriginTrade   LotOrigin = "TRADE"
)

// CostBasisLot is a FIFO cost-basis entry. Lots are consumed
// oldest-acquired-first; QuantityRemaining never goes negative.
type CostBasisLot struct {
	ID                string          `json:"id"`
	ClientID          int64           `json:"client_id"`
	Symbol            string          `json:"symbol"`
	QuantityRemaining decimal.Decimal `json:"quantity_remaining"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
	AcquiredAt        time.Time       `json:"acquired_at"`
	Origin            LotOrigin       `json:"origin"`
}

// TradeRecord is an immutable ledger entry for one executed trade.
type TradeRecord struct {
	ID               string          `json:"id"`
	ClientID         int64           `json:"client_id"`
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	TotalValue       decimal.Decimal `json:"total_value"`
	ExecutedAt       time.Time       `json:"executed_at"`
	IsInitialization bool            `json:"is_initialization"`
}

// DisposalOutcome is the realized result of a single SELL matched against
// FIFO lots. The sizer derives its Kelly inputs from these.
type DisposalOutcome struct {
	Profit     decimal.Decimal `json:"profit"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// PerformanceSnapshot is derived from the trade ledger on demand. It is never
// hand-edited; consumers treat it as a value and check ComputedAt themselves.
type PerformanceSnapshot struct {
	ClientID              int64             `json:"client_id"`
	Symbol                string            `json:"symbol,omitempty"`
	TotalRealizedProfit   decimal.Decimal   `json:"total_realized_profit"`
	TotalUnrealizedProfit decimal.Decimal   `json:"total_unrealized_profit"`
	TotalTrades           int               `json:"total_trades"` // disposals matched against lots
	ProfitableTrades      int               `json:"profitable_trades"`
	WinRate               float64           `json:"win_rate"` // profitable disposals / total disposals
	Recent24hProfit       decimal.Decimal   `json:"recent_24h_profit"`
	TradingVolume         decimal.Decimal   `json:"trading_volume"`
	Disposals             []DisposalOutcome `json:"disposals,omitempty"` // oldest first
	LatestPrice           decimal.Decimal   `json:"latest_price"`
	ComputedAt            time.Time         `json:"computed_at"`
}

// OrderStatus is the exchange-reported status of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is the adapter-level view of an exchange order.
type Order struct {
	OrderID  int64
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   OrderStatus
}
