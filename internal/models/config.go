package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every tunable of the engine. Values are loaded from a JSON
// file; zero values are replaced by defaults in ApplyDefaults.
type Config struct {
	DBPath string `json:"db_path"` // badger ledger directory

	// Exchange connectivity. API credentials come from the environment,
	// never from this file.
	IsTestnet bool `json:"is_testnet"`

	// Grid geometry.
	LevelCount  int             `json:"level_count"`  // rungs per side
	GridSpacing decimal.Decimal `json:"grid_spacing"` // ratio between adjacent rungs, e.g. 0.025

	// Reset triggers.
	ResetDeviationThreshold float64 `json:"reset_deviation_threshold"` // base price deviation ratio
	OneSidedFillThreshold   float64 `json:"one_sided_fill_threshold"`  // fill ratio on one side
	OneSidedLowWater        float64 `json:"one_sided_low_water"`       // max fill ratio on the other side
	HighWinRateThreshold    float64 `json:"high_win_rate_threshold"`   // widens the deviation threshold
	NegativeProfitThreshold float64 `json:"negative_profit_threshold"` // narrows it (quote currency, negative)

	// Position sizing.
	MinTradesForKelly  int             `json:"min_trades_for_kelly"`
	KellySafetyFactor  float64         `json:"kelly_safety_factor"`
	MaxKellyFraction   float64         `json:"max_kelly_fraction"`
	MinFraction        float64         `json:"min_fraction"`
	DefaultFraction    float64         `json:"default_fraction"`
	CompoundStep       decimal.Decimal `json:"compound_step"`       // realized profit per +0.1x
	CompoundCap        float64         `json:"compound_cap"`        // multiplier ceiling
	CompoundFloor      float64         `json:"compound_floor"`      // multiplier floor
	DrawdownThreshold  float64         `json:"drawdown_threshold"`  // fraction of volume
	MinOrderValue      decimal.Decimal `json:"min_order_value"`     // quote currency
	SizerCacheTTLSec   int             `json:"sizer_cache_ttl_sec"` //
	MaxCapitalPerOrder float64         `json:"max_capital_per_order"`

	// Orchestration.
	TickIntervalSec int    `json:"tick_interval_sec"`
	ReportEverySec  int    `json:"report_every_sec"`
	MetricsAddr     string `json:"metrics_addr"` // empty disables the endpoint

	// Retry policy for transient exchange errors.
	RetryAttempts       int `json:"retry_attempts"`
	RetryInitialDelayMs int `json:"retry_initial_delay_ms"`
	RetryMaxDelayMs     int `json:"retry_max_delay_ms"`

	// Grids to run: one entry per (client, symbol).
	Grids []GridSpec `json:"grids"`

	LogConfig LogConfig `json:"log"`
}

// GridSpec declares one grid the orchestrator should run.
type GridSpec struct {
	ClientID     int64           `json:"client_id"`
	Symbol       string          `json:"symbol"`
	TotalCapital decimal.Decimal `json:"total_capital"`
	// BootstrapInventory, when positive, records a one-time INITIAL
	// cost-basis lot for base-asset inventory the client already holds.
	BootstrapInventory decimal.Decimal `json:"bootstrap_inventory,omitempty"`
}

// LogConfig mirrors the zap/lumberjack setup.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// ApplyDefaults fills unset fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LevelCount == 0 {
		c.LevelCount = 5
	}
	if c.GridSpacing.IsZero() {
		c.GridSpacing = decimal.NewFromFloat(0.025)
	}
	if c.ResetDeviationThreshold == 0 {
		c.ResetDeviationThreshold = 0.08
	}
	if c.OneSidedFillThreshold == 0 {
		c.OneSidedFillThreshold = 0.8
	}
	if c.OneSidedLowWater == 0 {
		c.OneSidedLowWater = 0.2
	}
	if c.HighWinRateThreshold == 0 {
		c.HighWinRateThreshold = 0.65
	}
	if c.NegativeProfitThreshold == 0 {
		c.NegativeProfitThreshold = -25.0
	}
	if c.MinTradesForKelly == 0 {
		c.MinTradesForKelly = 20
	}
	if c.KellySafetyFactor == 0 {
		c.KellySafetyFactor = 0.5
	}
	if c.MaxKellyFraction == 0 {
		c.MaxKellyFraction = 0.25
	}
	if c.MinFraction == 0 {
		c.MinFraction = 0.01
	}
	if c.DefaultFraction == 0 {
		c.DefaultFraction = 0.10
	}
	if c.CompoundStep.IsZero() {
		c.CompoundStep = decimal.NewFromInt(25)
	}
	if c.CompoundCap == 0 {
		c.CompoundCap = 3.0
	}
	if c.CompoundFloor == 0 {
		c.CompoundFloor = 0.5
	}
	if c.DrawdownThreshold == 0 {
		c.DrawdownThreshold = 0.15
	}
	if c.MinOrderValue.IsZero() {
		c.MinOrderValue = decimal.NewFromInt(10)
	}
	if c.SizerCacheTTLSec == 0 {
		c.SizerCacheTTLSec = 60
	}
	if c.MaxCapitalPerOrder == 0 {
		c.MaxCapitalPerOrder = 0.2
	}
	if c.TickIntervalSec == 0 {
		c.TickIntervalSec = 30
	}
	if c.ReportEverySec == 0 {
		c.ReportEverySec = 300
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryInitialDelayMs == 0 {
		c.RetryInitialDelayMs = 500
	}
	if c.RetryMaxDelayMs == 0 {
		c.RetryMaxDelayMs = 10000
	}
	if c.DBPath == "" {
		c.DBPath = "data/ledger"
	}
}

// Validate rejects configurations the engine cannot run safely. The
// one-sided reset trigger is undefined for ladders of fewer than four
// rungs per side, so those are a configuration error.
func (c *Config) Validate() error {
	if c.LevelCount < 4 {
		return fmt.Errorf("level_count must be at least 4, got %d", c.LevelCount)
	}
	if !c.GridSpacing.IsPositive() {
		return fmt.Errorf("grid_spacing must be positive, got %s", c.GridSpacing)
	}
	// Buy rung i sits at center×(1 − spacing·i); the deepest rung must
	// keep a positive price.
	if c.GridSpacing.Mul(decimal.NewFromInt(int64(c.LevelCount))).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("grid_spacing %s times level_count %d reaches or crosses zero price", c.GridSpacing, c.LevelCount)
	}
	if c.MaxKellyFraction <= 0 || c.MaxKellyFraction > 1 {
		return fmt.Errorf("max_kelly_fraction must be in (0, 1], got %f", c.MaxKellyFraction)
	}
	if c.MinFraction <= 0 || c.MinFraction > c.MaxKellyFraction {
		return fmt.Errorf("min_fraction must be in (0, max_kelly_fraction], got %f", c.MinFraction)
	}
	if len(c.Grids) == 0 {
		return fmt.Errorf("at least one grid must be configured")
	}
	for _, g := range c.Grids {
		if g.Symbol == "" {
			return fmt.Errorf("grid for client %d has no symbol", g.ClientID)
		}
		if !g.TotalCapital.IsPositive() {
			return fmt.Errorf("grid %d/%s: total_capital must be positive", g.ClientID, g.Symbol)
		}
	}
	return nil
}

// TickInterval returns the shared orchestrator tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

// SizerCacheTTL returns the sizer cache lifetime.
func (c *Config) SizerCacheTTL() time.Duration {
	return time.Duration(c.SizerCacheTTLSec) * time.Second
}
