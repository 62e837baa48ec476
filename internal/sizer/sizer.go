// Package sizer derives order sizes and capital allocation from historical
// performance: a half-Kelly fraction from recent disposal outcomes, a
// compounding multiplier from accumulated profit, and hard safety clamps.
// Every path resolves to a safe conservative default; sizing never fails.
package sizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/models"
)

// kellyLookback bounds how far back disposal outcomes influence the Kelly
// inputs, so ancient history cannot mask a regime change.
const kellyLookback = 100

// PerformanceSource is the profit engine surface the sizer consumes.
type PerformanceSource interface {
	GetPerformance(ctx context.Context, clientID int64, symbol string) (models.PerformanceSnapshot, error)
	GetClientPerformance(ctx context.Context, clientID int64) (models.PerformanceSnapshot, error)
}

// Config carries the sizing knobs.
type Config struct {
	MinTradesForKelly  int
	KellySafetyFactor  float64
	MaxKellyFraction   float64
	MinFraction        float64
	DefaultFraction    float64
	CompoundStep       decimal.Decimal
	CompoundCap        float64
	CompoundFloor      float64
	DrawdownThreshold  float64
	MinOrderValue      decimal.Decimal
	MaxCapitalPerOrder float64
	CacheTTL           time.Duration
}

// FromConfig extracts the sizer configuration from the engine config.
func FromConfig(c *models.Config) Config {
	return Config{
		MinTradesForKelly:  c.MinTradesForKelly,
		KellySafetyFactor:  c.KellySafetyFactor,
		MaxKellyFraction:   c.MaxKellyFraction,
		MinFraction:        c.MinFraction,
		DefaultFraction:    c.DefaultFraction,
		CompoundStep:       c.CompoundStep,
		CompoundCap:        c.CompoundCap,
		CompoundFloor:      c.CompoundFloor,
		DrawdownThreshold:  c.DrawdownThreshold,
		MinOrderValue:      c.MinOrderValue,
		MaxCapitalPerOrder: c.MaxCapitalPerOrder,
		CacheTTL:           c.SizerCacheTTL(),
	}
}

// Allocation is the conservative/aggressive capital split for one client.
type Allocation struct {
	BaseAllocation     float64
	EnhancedAllocation float64
	BaseCapital        decimal.Decimal
	EnhancedCapital    decimal.Decimal
	Reasoning          string
	ComputedAt         time.Time
}

type cachedFraction struct {
	fraction   float64
	computedAt time.Time
}

type cachedAllocation struct {
	base       float64
	reasoning  string
	computedAt time.Time
}

// Sizer computes order sizes and allocations. Results are cached per key
// with an explicit TTL; cached values carry their own computed-at timestamp.
type Sizer struct {
	cfg    Config
	perf   PerformanceSource
	logger *zap.SugaredLogger

	mu          sync.Mutex
	fractions   map[string]cachedFraction
	allocations map[int64]cachedAllocation
}

// New creates a sizer on top of a performance source.
func New(cfg Config, perf PerformanceSource, logger *zap.SugaredLogger) *Sizer {
	return &Sizer{
		cfg:         cfg,
		perf:        perf,
		logger:      logger,
		fractions:   make(map[string]cachedFraction),
		allocations: make(map[int64]cachedAllocation),
	}
}

// GetOrderSize returns the quote-currency amount for one grid order. The
// result is baseCapital times the clamped combined fraction, floored at the
// exchange minimum order value and capped at MaxCapitalPerOrder of the base
// capital. Errors from the performance source degrade to the conservative
// default fraction.
func (s *Sizer) GetOrderSize(ctx context.Context, clientID int64, symbol string, baseCapital decimal.Decimal) decimal.Decimal {
	fraction := s.fraction(ctx, clientID, symbol)

	size := baseCapital.Mul(decimal.NewFromFloat(fraction))
	if size.LessThan(s.cfg.MinOrderValue) {
		size = s.cfg.MinOrderValue
	}
	maxSize := baseCapital.Mul(decimal.NewFromFloat(s.cfg.MaxCapitalPerOrder))
	if size.GreaterThan(maxSize) {
		size = maxSize
	}
	return size
}

// fraction returns the combined Kelly×compound fraction, cached per
// (client, symbol).
func (s *Sizer) fraction(ctx context.Context, clientID int64, symbol string) float64 {
	key := fmt.Sprintf("%d/%s", clientID, symbol)

	s.mu.Lock()
	if c, ok := s.fractions[key]; ok && time.Since(c.computedAt) < s.cfg.CacheTTL {
		s.mu.Unlock()
		return c.fraction
	}
	s.mu.Unlock()

	snap, err := s.perf.GetPerformance(ctx, clientID, symbol)
	if err != nil {
		s.logger.Warnf("sizing for client %d %s fell back to default fraction: %v", clientID, symbol, err)
		return s.cfg.DefaultFraction
	}

	kelly := s.kellyFraction(snap)
	compound := s.compoundMultiplier(snap)
	fraction := s.applySafetyConstraints(kelly*compound, snap)

	s.logger.Debugf("client %d %s sizing: kelly=%.3f compound=%.2fx fraction=%.3f",
		clientID, symbol, kelly, compound, fraction)

	s.mu.Lock()
	s.fractions[key] = cachedFraction{fraction: fraction, computedAt: time.Now()}
	s.mu.Unlock()
	return fraction
}

// kellyFraction computes f* = (b·p − (1−p)) / b over the most recent
// disposal outcomes, scaled by the safety factor (half-Kelly) and capped.
// Degenerate inputs (too little history, no wins, no losses, zero average
// loss) resolve to the conservative default.
func (s *Sizer) kellyFraction(snap models.PerformanceSnapshot) float64 {
	disposals := snap.Disposals
	if len(disposals) < s.cfg.MinTradesForKelly {
		return s.cfg.DefaultFraction
	}
	if len(disposals) > kellyLookback {
		disposals = disposals[len(disposals)-kellyLookback:]
	}

	var winSum, lossSum decimal.Decimal
	var wins, losses int
	for _, d := range disposals {
		switch {
		case d.Profit.IsPositive():
			wins++
			winSum = winSum.Add(d.Profit)
		case d.Profit.IsNegative():
			losses++
			lossSum = lossSum.Add(d.Profit.Abs())
		}
	}
	if wins == 0 || losses == 0 {
		return s.cfg.DefaultFraction
	}

	avgWin := winSum.InexactFloat64() / float64(wins)
	avgLoss := lossSum.InexactFloat64() / float64(losses)
	if avgLoss == 0 {
		return s.cfg.DefaultFraction
	}

	p := float64(wins) / float64(len(disposals))
	q := 1 - p
	b := avgWin / avgLoss

	kelly := (b*p - q) / b
	kelly *= s.cfg.KellySafetyFactor

	if kelly < s.cfg.MinFraction {
		kelly = s.cfg.MinFraction
	}
	if kelly > s.cfg.MaxKellyFraction {
		kelly = s.cfg.MaxKellyFraction
	}
	return kelly
}

// compoundMultiplier grows sizing with accumulated realized profit (+0.1x
// per CompoundStep of profit, capped) and shrinks it after recent losses
// (floored).
func (s *Sizer) compoundMultiplier(snap models.PerformanceSnapshot) float64 {
	multiplier := 1.0

	profit := snap.TotalRealizedProfit
	if profit.IsPositive() {
		steps := profit.Div(s.cfg.CompoundStep).InexactFloat64()
		multiplier = 1.0 + steps*0.1
		if multiplier > s.cfg.CompoundCap {
			multiplier = s.cfg.CompoundCap
		}
	}

	recent := snap.Recent24hProfit
	if recent.LessThan(decimal.NewFromInt(-20)) {
		multiplier -= recent.Abs().InexactFloat64() / 100.0
	}

	if multiplier < s.cfg.CompoundFloor {
		multiplier = s.cfg.CompoundFloor
	}
	if multiplier > s.cfg.CompoundCap {
		multiplier = s.cfg.CompoundCap
	}
	return multiplier
}

// applySafetyConstraints clamps the combined fraction and halves it further
// when the trailing drawdown exceeds the configured share of traded volume.
func (s *Sizer) applySafetyConstraints(fraction float64, snap models.PerformanceSnapshot) float64 {
	if fraction > s.cfg.MaxKellyFraction {
		fraction = s.cfg.MaxKellyFraction
	}
	if fraction < s.cfg.MinFraction {
		fraction = s.cfg.MinFraction
	}

	volume := snap.TradingVolume
	if !volume.IsPositive() {
		volume = decimal.NewFromInt(1000)
	}
	drawdownLimit := volume.Mul(decimal.NewFromFloat(s.cfg.DrawdownThreshold)).Neg()
	if snap.TotalRealizedProfit.LessThan(drawdownLimit) {
		fraction *= 0.5
		s.logger.Warnf("client %d: drawdown protection active, halving position fraction", snap.ClientID)
	}
	return fraction
}

// GetGridAllocation splits a client's capital between a conservative base
// grid and an aggressive enhanced grid. The split starts 40/60 and drifts
// with win rate and trailing profit, bounded to a [20%, 80%] base share.
func (s *Sizer) GetGridAllocation(ctx context.Context, clientID int64, totalCapital decimal.Decimal) Allocation {
	s.mu.Lock()
	if c, ok := s.allocations[clientID]; ok && time.Since(c.computedAt) < s.cfg.CacheTTL {
		s.mu.Unlock()
		return buildAllocation(c.base, c.reasoning, totalCapital, c.computedAt)
	}
	s.mu.Unlock()

	base := 0.4
	reasoning := "default allocation (insufficient trade history)"

	snap, err := s.perf.GetClientPerformance(ctx, clientID)
	if err != nil {
		s.logger.Warnf("allocation for client %d fell back to default: %v", clientID, err)
		return buildAllocation(base, "default allocation (performance unavailable)", totalCapital, time.Now())
	}

	if snap.TotalTrades >= 10 {
		profit := snap.TotalRealizedProfit

		switch {
		case snap.WinRate > 0.6 && profit.IsPositive():
			boost := profit.InexactFloat64() / 100.0
			if boost > 0.3 {
				boost = 0.3
			}
			base = 0.4 - boost
			if base < 0.2 {
				base = 0.2
			}
			reasoning = fmt.Sprintf("aggressive allocation (%.0f%% win rate, %s profit)", snap.WinRate*100, profit.StringFixed(2))

		case snap.WinRate < 0.4 || profit.IsNegative():
			boost := profit.Abs().InexactFloat64() / 200.0
			if boost > 0.3 {
				boost = 0.3
			}
			base = 0.4 + boost
			if base > 0.8 {
				base = 0.8
			}
			reasoning = fmt.Sprintf("conservative allocation (%.0f%% win rate, %s profit)", snap.WinRate*100, profit.StringFixed(2))

		default:
			reasoning = fmt.Sprintf("balanced allocation (%.0f%% win rate)", snap.WinRate*100)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.allocations[clientID] = cachedAllocation{base: base, reasoning: reasoning, computedAt: now}
	s.mu.Unlock()

	return buildAllocation(base, reasoning, totalCapital, now)
}

func buildAllocation(base float64, reasoning string, totalCapital decimal.Decimal, at time.Time) Allocation {
	baseDec := decimal.NewFromFloat(base)
	return Allocation{
		BaseAllocation:     base,
		EnhancedAllocation: 1 - base,
		BaseCapital:        totalCapital.Mul(baseDec),
		EnhancedCapital:    totalCapital.Sub(totalCapital.Mul(baseDec)),
		Reasoning:          reasoning,
		ComputedAt:         at,
	}
}

// InvalidateClient drops cached sizing for a client, used after a reset or a
// burst of fills so the next tick sees fresh numbers.
func (s *Sizer) InvalidateClient(clientID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allocations, clientID)
	prefix := fmt.Sprintf("%d/", clientID)
	for k := range s.fractions {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.fractions, k)
		}
	}
}
