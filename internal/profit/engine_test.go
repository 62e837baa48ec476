package profit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/ledger"
	"grid-trade-engine-go/internal/models"
	"grid-trade-engine-go/internal/notifier"
)

// captureSink records every event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (s *captureSink) Notify(ev notifier.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) byType(t notifier.EventType) []notifier.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notifier.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, ledger.Ledger, *captureSink) {
	t.Helper()
	led := ledger.NewMemoryLedger()
	sink := &captureSink{}
	return NewEngine(led, sink, zap.NewNop().Sugar()), led, sink
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDisposalMatchesOldestLotsFirst(t *testing.T) {
	engine, led, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("100"), dec("1.00"), models.OriginTrade, base)
	require.NoError(t, err)
	_, err = engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("100"), dec("1.10"), models.OriginTrade, base.Add(time.Minute))
	require.NoError(t, err)

	realized, err := engine.RecordDisposal(ctx, 1, "BNBUSDT", dec("150"), dec("1.20"), base.Add(2*time.Minute))
	require.NoError(t, err)

	// 100×(1.20−1.00) + 50×(1.20−1.10) = 25
	assert.True(t, realized.Equal(dec("25")), "realized = %s", realized)

	lots, err := led.Lots(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].QuantityRemaining.Equal(dec("50")))
	assert.True(t, lots[0].CostPerUnit.Equal(dec("1.10")))
}

func TestDisposalProfitIsExact(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := engine.RecordAcquisition(ctx, 7, "BNBUSDT", dec("100"), dec("1.00"), models.OriginInitial, base)
	require.NoError(t, err)

	realized, err := engine.RecordDisposal(ctx, 7, "BNBUSDT", dec("100"), dec("1.025"), base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, realized.Equal(dec("2.50")), "realized = %s", realized)
}

func TestOverDisposalMatchedAtCostZero(t *testing.T) {
	engine, led, sink := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("50"), dec("1.00"), models.OriginTrade, base)
	require.NoError(t, err)

	realized, err := engine.RecordDisposal(ctx, 1, "BNBUSDT", dec("80"), dec("2.00"), base.Add(time.Minute))
	require.NoError(t, err, "over-disposal must never be fatal")

	// 50×(2−1) + 30×(2−0) = 110
	assert.True(t, realized.Equal(dec("110")), "realized = %s", realized)

	lots, err := led.Lots(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	assert.Empty(t, lots)

	events := sink.byType(notifier.EventFIFOIntegrity)
	require.Len(t, events, 1)
	assert.Equal(t, "30", events[0].Payload["unmatched"])
}

func TestLotConservation(t *testing.T) {
	engine, led, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	acquired := decimal.Zero
	for i, q := range []string{"10", "25.5", "7.25", "100"} {
		qty := dec(q)
		_, err := engine.RecordAcquisition(ctx, 1, "BNBUSDT", qty, dec("3.00"), models.OriginTrade, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		acquired = acquired.Add(qty)
	}

	disposed := decimal.Zero
	for i, q := range []string{"5", "30.25", "12"} {
		qty := dec(q)
		_, err := engine.RecordDisposal(ctx, 1, "BNBUSDT", qty, dec("3.10"), base.Add(time.Duration(10+i)*time.Minute))
		require.NoError(t, err)
		disposed = disposed.Add(qty)
	}

	lots, err := led.Lots(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	remaining := decimal.Zero
	for _, l := range lots {
		assert.False(t, l.QuantityRemaining.IsNegative())
		remaining = remaining.Add(l.QuantityRemaining)
	}
	assert.True(t, acquired.Equal(disposed.Add(remaining)),
		"acquired %s != disposed %s + remaining %s", acquired, disposed, remaining)
}

func TestPerformanceSnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	_, err := engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("300"), dec("1.00"), models.OriginTrade, old)
	require.NoError(t, err)

	// An old winning disposal, outside the 24h window.
	_, err = engine.RecordDisposal(ctx, 1, "BNBUSDT", dec("100"), dec("1.10"), old.Add(time.Minute))
	require.NoError(t, err)
	// A recent losing disposal.
	_, err = engine.RecordDisposal(ctx, 1, "BNBUSDT", dec("100"), dec("0.95"), recent)
	require.NoError(t, err)

	snap, err := engine.GetPerformance(ctx, 1, "BNBUSDT")
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalTrades)
	assert.Equal(t, 1, snap.ProfitableTrades)
	assert.Equal(t, 0.5, snap.WinRate)
	// 100×0.10 − 100×0.05 = 5
	assert.True(t, snap.TotalRealizedProfit.Equal(dec("5")), "realized = %s", snap.TotalRealizedProfit)
	// Only the recent disposal counts toward the 24h figure.
	assert.True(t, snap.Recent24hProfit.Equal(dec("-5")), "recent = %s", snap.Recent24hProfit)
	// 100 units left at cost 1.00, marked to the latest trade price 0.95.
	assert.True(t, snap.TotalUnrealizedProfit.Equal(dec("-5")), "unrealized = %s", snap.TotalUnrealizedProfit)
	assert.True(t, snap.LatestPrice.Equal(dec("0.95")))
	require.Len(t, snap.Disposals, 2)
	assert.True(t, snap.Disposals[0].Profit.Equal(dec("10")))
}

func TestClientPerformanceNeverCrossesSymbols(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("100"), dec("1.00"), models.OriginTrade, base)
	require.NoError(t, err)

	// Disposal on a different symbol has no lots to draw from; its profit is
	// matched at cost zero rather than borrowing BNBUSDT inventory.
	realized, err := engine.RecordDisposal(ctx, 1, "ETHUSDT", dec("10"), dec("2.00"), base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, realized.Equal(dec("20")))

	snap, err := engine.GetClientPerformance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalTrades)
	assert.True(t, snap.TotalRealizedProfit.Equal(dec("20")))
}

func TestMilestoneNotifiedOnce(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("100"), dec("1.00"), models.OriginTrade, base)
	require.NoError(t, err)

	// Two disposals crossing the $10 milestone on the first one.
	_, err = engine.RecordDisposal(ctx, 1, "BNBUSDT", dec("50"), dec("1.30"), base.Add(time.Minute))
	require.NoError(t, err)
	_, err = engine.RecordDisposal(ctx, 1, "BNBUSDT", dec("10"), dec("1.30"), base.Add(2*time.Minute))
	require.NoError(t, err)

	events := sink.byType(notifier.EventMilestone)
	require.Len(t, events, 1)
	assert.Equal(t, "10", events[0].Payload["milestone"])
}

func TestHasTrades(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	has, err := engine.HasTrades(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = engine.RecordAcquisition(ctx, 1, "BNBUSDT", dec("1"), dec("1.00"), models.OriginInitial, time.Now())
	require.NoError(t, err)

	has, err = engine.HasTrades(ctx, 1, "BNBUSDT")
	require.NoError(t, err)
	assert.True(t, has)
}
