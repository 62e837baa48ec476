package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{
		Grids: []GridSpec{
			{ClientID: 1, Symbol: "BNBUSDT", TotalCapital: decimal.NewFromInt(1000)},
		},
	}
	c.ApplyDefaults()
	return c
}

func TestApplyDefaults(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()

	assert.Equal(t, 5, c.LevelCount)
	assert.True(t, c.GridSpacing.Equal(decimal.RequireFromString("0.025")))
	assert.Equal(t, 0.08, c.ResetDeviationThreshold)
	assert.Equal(t, 20, c.MinTradesForKelly)
	assert.Equal(t, 0.5, c.KellySafetyFactor)
	assert.Equal(t, 0.25, c.MaxKellyFraction)
	assert.Equal(t, 0.10, c.DefaultFraction)
	assert.True(t, c.CompoundStep.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 3.0, c.CompoundCap)
	assert.Equal(t, 30, c.TickIntervalSec)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsSmallLadder(t *testing.T) {
	c := validConfig()
	c.LevelCount = 3
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "level_count")
}

func TestValidateRejectsNonPositiveSpacing(t *testing.T) {
	c := validConfig()
	c.GridSpacing = decimal.Zero
	assert.Error(t, c.Validate())
}

func TestValidateRejectsLadderCrossingZero(t *testing.T) {
	c := validConfig()
	c.GridSpacing = decimal.RequireFromString("0.25")
	c.LevelCount = 4
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMissingGrids(t *testing.T) {
	c := validConfig()
	c.Grids = nil
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveCapital(t *testing.T) {
	c := validConfig()
	c.Grids[0].TotalCapital = decimal.Zero
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadKellyBounds(t *testing.T) {
	c := validConfig()
	c.MinFraction = 0.5 // above the cap
	assert.Error(t, c.Validate())
}
