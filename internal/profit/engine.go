// Package profit implements the FIFO cost-basis profit engine. Acquisitions
// append lots; disposals consume the oldest remaining lots and realize the
// difference. All monetary math is decimal so lot conservation stays exact
// across thousands of fills.
package profit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/ledger"
	"grid-trade-engine-go/internal/models"
	"grid-trade-engine-go/internal/notifier"
)

// profitMilestones are the cumulative realized-profit levels that trigger a
// one-time notification per client.
var profitMilestones = []decimal.Decimal{
	decimal.NewFromInt(10),
	decimal.NewFromInt(25),
	decimal.NewFromInt(50),
	decimal.NewFromInt(100),
	decimal.NewFromInt(250),
	decimal.NewFromInt(500),
	decimal.NewFromInt(1000),
}

// Engine is the FIFO profit engine. Writes to one (client, symbol) pair are
// serialized through a per-pair lock; reads replay the immutable trade ledger
// and are safe at any time.
type Engine struct {
	ledger ledger.Ledger
	sink   notifier.Sink
	logger *zap.SugaredLogger

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
	milestone map[int64]decimal.Decimal // highest milestone already announced
}

// NewEngine creates a profit engine on top of a ledger.
func NewEngine(led ledger.Ledger, sink notifier.Sink, logger *zap.SugaredLogger) *Engine {
	if sink == nil {
		sink = notifier.NopSink{}
	}
	return &Engine{
		ledger:    led,
		sink:      sink,
		logger:    logger,
		pairLocks: make(map[string]*sync.Mutex),
		milestone: make(map[int64]decimal.Decimal),
	}
}

func (e *Engine) pairLock(clientID int64, symbol string) *sync.Mutex {
	key := fmt.Sprintf("%d/%s", clientID, symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.pairLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.pairLocks[key] = l
	return l
}

// RecordAcquisition appends a cost-basis lot and its trade record. It is used
// for BUY fills and for the one-time initial inventory lot when a grid is
// bootstrapped from existing holdings.
func (e *Engine) RecordAcquisition(ctx context.Context, clientID int64, symbol string, quantity, costPerUnit decimal.Decimal, origin models.LotOrigin, ts time.Time) (string, error) {
	if !quantity.IsPositive() {
		return "", fmt.Errorf("acquisition quantity must be positive, got %s", quantity)
	}

	lock := e.pairLock(clientID, symbol)
	lock.Lock()
	defer lock.Unlock()

	_, err := e.ledger.AppendTrade(ctx, models.TradeRecord{
		ClientID:         clientID,
		Symbol:           symbol,
		Side:             models.Buy,
		Quantity:         quantity,
		Price:            costPerUnit,
		TotalValue:       quantity.Mul(costPerUnit),
		ExecutedAt:       ts,
		IsInitialization: origin == models.OriginInitial,
	})
	if err != nil {
		return "", fmt.Errorf("append acquisition trade: %w", err)
	}

	lotID, err := e.ledger.AppendLot(ctx, models.CostBasisLot{
		ClientID:          clientID,
		Symbol:            symbol,
		QuantityRemaining: quantity,
		CostPerUnit:       costPerUnit,
		AcquiredAt:        ts,
		Origin:            origin,
	})
	if err != nil {
		return "", fmt.Errorf("append cost-basis lot: %w", err)
	}

	return lotID, nil
}

// RecordDisposal matches a SELL against the oldest remaining lots and returns
// the realized profit. A disposal exceeding all remaining lots is matched at
// cost zero for the excess and raises a FIFO-integrity warning; the engine
// never halts on it.
func (e *Engine) RecordDisposal(ctx context.Context, clientID int64, symbol string, quantity, price decimal.Decimal, ts time.Time) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("disposal quantity must be positive, got %s", quantity)
	}

	lock := e.pairLock(clientID, symbol)
	lock.Lock()
	defer lock.Unlock()

	_, err := e.ledger.AppendTrade(ctx, models.TradeRecord{
		ClientID:   clientID,
		Symbol:     symbol,
		Side:       models.Sell,
		Quantity:   quantity,
		Price:      price,
		TotalValue: quantity.Mul(price),
		ExecutedAt: ts,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("append disposal trade: %w", err)
	}

	lots, err := e.ledger.Lots(ctx, clientID, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load lots: %w", err)
	}

	remaining := quantity
	realized := decimal.Zero

	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		match := decimal.Min(remaining, lot.QuantityRemaining)
		realized = realized.Add(match.Mul(price.Sub(lot.CostPerUnit)))
		remaining = remaining.Sub(match)

		lot.QuantityRemaining = lot.QuantityRemaining.Sub(match)
		if lot.QuantityRemaining.IsPositive() {
			if err := e.ledger.UpdateLot(ctx, lot); err != nil {
				return decimal.Zero, fmt.Errorf("update lot %s: %w", lot.ID, err)
			}
		} else {
			if err := e.ledger.DeleteLot(ctx, clientID, symbol, lot.ID); err != nil {
				return decimal.Zero, fmt.Errorf("delete lot %s: %w", lot.ID, err)
			}
		}
	}

	if remaining.IsPositive() {
		// Selling more than was ever acquired. The excess has no cost basis;
		// match it at cost zero and flag the ledger for inspection.
		realized = realized.Add(remaining.Mul(price))
		e.logger.Warnf("FIFO integrity: client %d %s disposal of %s exceeds recorded lots by %s, excess matched at cost 0",
			clientID, symbol, quantity, remaining)
		e.sink.Notify(notifier.Event{
			Type:     notifier.EventFIFOIntegrity,
			ClientID: clientID,
			Symbol:   symbol,
			Payload: map[string]string{
				"disposal_quantity": quantity.String(),
				"unmatched":         remaining.String(),
			},
		})
	}

	e.checkMilestones(ctx, clientID)

	return realized, nil
}

// GetPerformance computes the performance snapshot for one (client, symbol)
// pair by replaying the trade ledger.
func (e *Engine) GetPerformance(ctx context.Context, clientID int64, symbol string) (models.PerformanceSnapshot, error) {
	trades, err := e.ledger.QueryTrades(ctx, clientID, symbol, time.Time{})
	if err != nil {
		return models.PerformanceSnapshot{}, err
	}
	snap := replay(trades, time.Now())
	snap.ClientID = clientID
	snap.Symbol = symbol
	return snap, nil
}

// HasTrades reports whether any trade has been recorded for the pair. The
// grid manager uses it to make the initial inventory bootstrap one-time.
func (e *Engine) HasTrades(ctx context.Context, clientID int64, symbol string) (bool, error) {
	trades, err := e.ledger.QueryTrades(ctx, clientID, symbol, time.Time{})
	if err != nil {
		return false, err
	}
	return len(trades) > 0, nil
}

// GetClientPerformance aggregates performance across all of a client's
// symbols. FIFO matching never crosses symbols.
func (e *Engine) GetClientPerformance(ctx context.Context, clientID int64) (models.PerformanceSnapshot, error) {
	trades, err := e.ledger.QueryTrades(ctx, clientID, "", time.Time{})
	if err != nil {
		return models.PerformanceSnapshot{}, err
	}

	bySymbol := make(map[string][]models.TradeRecord)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	now := time.Now()
	agg := models.PerformanceSnapshot{ClientID: clientID, ComputedAt: now}
	for _, symTrades := range bySymbol {
		s := replay(symTrades, now)
		agg.TotalRealizedProfit = agg.TotalRealizedProfit.Add(s.TotalRealizedProfit)
		agg.TotalUnrealizedProfit = agg.TotalUnrealizedProfit.Add(s.TotalUnrealizedProfit)
		agg.TotalTrades += s.TotalTrades
		agg.ProfitableTrades += s.ProfitableTrades
		agg.Recent24hProfit = agg.Recent24hProfit.Add(s.Recent24hProfit)
		agg.TradingVolume = agg.TradingVolume.Add(s.TradingVolume)
		agg.Disposals = append(agg.Disposals, s.Disposals...)
	}
	if agg.TotalTrades > 0 {
		agg.WinRate = float64(agg.ProfitableTrades) / float64(agg.TotalTrades)
	}
	return agg, nil
}

// lot is the in-memory FIFO entry used during replay.
type lot struct {
	quantity decimal.Decimal
	cost     decimal.Decimal
}

// replay runs the FIFO algorithm over one symbol's trade history. It is the
// single source of truth for realized and unrealized profit; nothing in the
// engine estimates profit any other way.
func replay(trades []models.TradeRecord, now time.Time) models.PerformanceSnapshot {
	snap := models.PerformanceSnapshot{ComputedAt: now}
	cutoff24h := now.Add(-24 * time.Hour)

	var inventory []lot
	for _, t := range trades {
		snap.TradingVolume = snap.TradingVolume.Add(t.TotalValue)
		snap.LatestPrice = t.Price

		switch t.Side {
		case models.Buy:
			inventory = append(inventory, lot{quantity: t.Quantity, cost: t.Price})

		case models.Sell:
			remaining := t.Quantity
			profit := decimal.Zero
			for len(inventory) > 0 && remaining.IsPositive() {
				oldest := &inventory[0]
				match := decimal.Min(remaining, oldest.quantity)
				profit = profit.Add(match.Mul(t.Price.Sub(oldest.cost)))
				remaining = remaining.Sub(match)
				oldest.quantity = oldest.quantity.Sub(match)
				if !oldest.quantity.IsPositive() {
					inventory = inventory[1:]
				}
			}
			if remaining.IsPositive() {
				profit = profit.Add(remaining.Mul(t.Price))
			}

			snap.TotalRealizedProfit = snap.TotalRealizedProfit.Add(profit)
			snap.TotalTrades++
			if profit.IsPositive() {
				snap.ProfitableTrades++
			}
			if !t.ExecutedAt.Before(cutoff24h) {
				snap.Recent24hProfit = snap.Recent24hProfit.Add(profit)
			}
			snap.Disposals = append(snap.Disposals, models.DisposalOutcome{
				Profit:     profit,
				Quantity:   t.Quantity,
				Price:      t.Price,
				ExecutedAt: t.ExecutedAt,
			})
		}
	}

	// Mark remaining inventory to the latest known trade price.
	for _, l := range inventory {
		snap.TotalUnrealizedProfit = snap.TotalUnrealizedProfit.Add(
			l.quantity.Mul(snap.LatestPrice.Sub(l.cost)))
	}

	if snap.TotalTrades > 0 {
		snap.WinRate = float64(snap.ProfitableTrades) / float64(snap.TotalTrades)
	}
	return snap
}

// checkMilestones announces the highest newly crossed profit milestone for
// the client. Called with the pair lock held; milestone state is global per
// client, so it takes the engine lock for its own map.
func (e *Engine) checkMilestones(ctx context.Context, clientID int64) {
	snap, err := e.GetClientPerformance(ctx, clientID)
	if err != nil {
		return
	}

	e.mu.Lock()
	last := e.milestone[clientID]
	var crossed decimal.Decimal
	for _, m := range profitMilestones {
		if snap.TotalRealizedProfit.GreaterThanOrEqual(m) && m.GreaterThan(last) {
			crossed = m
		}
	}
	if crossed.IsPositive() {
		e.milestone[clientID] = crossed
	}
	e.mu.Unlock()

	if crossed.IsPositive() {
		e.sink.Notify(notifier.Event{
			Type:     notifier.EventMilestone,
			ClientID: clientID,
			Payload: map[string]string{
				"milestone":       crossed.String(),
				"realized_profit": snap.TotalRealizedProfit.String(),
			},
		})
	}
}
