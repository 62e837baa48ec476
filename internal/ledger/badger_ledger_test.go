package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trade-engine-go/internal/models"
)

func newBadger(t *testing.T) Ledger {
	t.Helper()
	led, err := NewInMemoryBadgerLedger()
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })
	return led
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(clientID int64, symbol string, side models.Side, qty, price string, at time.Time) models.TradeRecord {
	return models.TradeRecord{
		ClientID:   clientID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   dec(qty),
		Price:      dec(price),
		TotalValue: dec(qty).Mul(dec(price)),
		ExecutedAt: at,
	}
}

func TestTradesRoundTripInExecutionOrder(t *testing.T) {
	led := newBadger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := led.AppendTrade(ctx, trade(1, "BNBUSDT", models.Buy, "10", "1.00", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	trades, err := led.QueryTrades(ctx, 1, "BNBUSDT", time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 5)
	for i := 1; i < len(trades); i++ {
		assert.False(t, trades[i].ExecutedAt.Before(trades[i-1].ExecutedAt))
	}
	assert.NotEmpty(t, trades[0].ID)
	assert.True(t, trades[0].Quantity.Equal(dec("10")))
}

func TestQueryTradesFilters(t *testing.T) {
	led := newBadger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	_, err := led.AppendTrade(ctx, trade(1, "BNBUSDT", models.Buy, "1", "1", base))
	require.NoError(t, err)
	_, err = led.AppendTrade(ctx, trade(1, "ETHUSDT", models.Buy, "1", "1", base.Add(time.Minute)))
	require.NoError(t, err)
	_, err = led.AppendTrade(ctx, trade(2, "BNBUSDT", models.Buy, "1", "1", base.Add(2*time.Minute)))
	require.NoError(t, err)

	bnb, err := led.QueryTrades(ctx, 1, "BNBUSDT", time.Time{})
	require.NoError(t, err)
	assert.Len(t, bnb, 1)

	all, err := led.QueryTrades(ctx, 1, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	since, err := led.QueryTrades(ctx, 1, "", base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "ETHUSDT", since[0].Symbol)

	other, err := led.QueryTrades(ctx, 3, "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestLotsLifecycle(t *testing.T) {
	led := newBadger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	var ids []string
	for i, cost := range []string{"1.00", "1.10", "1.20"} {
		id, err := led.AppendLot(ctx, models.CostBasisLot{
			ClientID:          1,
			Symbol:            "BNBUSDT",
			QuantityRemaining: dec("100"),
			CostPerUnit:       dec(cost),
			AcquiredAt:        base.Add(time.Duration(i) * time.Minute),
			Origin:            models.OriginTrade,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	lots, err := led.Lots(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.True(t, lots[0].CostPerUnit.Equal(dec("1.00")), "lots must come back oldest first")
	assert.Equal(t, ids[0], lots[0].ID)

	// Partial consumption.
	lots[0].QuantityRemaining = dec("40")
	require.NoError(t, led.UpdateLot(ctx, lots[0]))

	// Exhaustion.
	require.NoError(t, led.DeleteLot(ctx, 1, "BNBUSDT", ids[1]))

	lots, err = led.Lots(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.True(t, lots[0].QuantityRemaining.Equal(dec("40")))
	assert.True(t, lots[1].CostPerUnit.Equal(dec("1.20")))
}

func TestLotsAreScopedPerPair(t *testing.T) {
	led := newBadger(t)
	ctx := context.Background()

	_, err := led.AppendLot(ctx, models.CostBasisLot{
		ClientID:          1,
		Symbol:            "BNBUSDT",
		QuantityRemaining: dec("1"),
		CostPerUnit:       dec("1"),
		AcquiredAt:        time.Now(),
		Origin:            models.OriginTrade,
	})
	require.NoError(t, err)

	other, err := led.Lots(ctx, 1, "ETHUSDT")
	require.NoError(t, err)
	assert.Empty(t, other)

	otherClient, err := led.Lots(ctx, 2, "BNBUSDT")
	require.NoError(t, err)
	assert.Empty(t, otherClient)
}
