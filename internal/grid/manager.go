// Package grid runs the lifecycle of a single (client, symbol) grid: ladder
// construction, order submission, fill handling with mirrored replacements,
// and the reset triggers that recenter the ladder when price walks away.
package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/exchange"
	"grid-trade-engine-go/internal/metrics"
	"grid-trade-engine-go/internal/models"
	"grid-trade-engine-go/internal/notifier"
)

// ProfitTracker is the profit engine surface the manager records fills into.
type ProfitTracker interface {
	RecordAcquisition(ctx context.Context, clientID int64, symbol string, quantity, costPerUnit decimal.Decimal, origin models.LotOrigin, ts time.Time) (string, error)
	RecordDisposal(ctx context.Context, clientID int64, symbol string, quantity, price decimal.Decimal, ts time.Time) (decimal.Decimal, error)
	GetPerformance(ctx context.Context, clientID int64, symbol string) (models.PerformanceSnapshot, error)
	HasTrades(ctx context.Context, clientID int64, symbol string) (bool, error)
}

// OrderSizer supplies the quote-currency budget for one rung.
type OrderSizer interface {
	GetOrderSize(ctx context.Context, clientID int64, symbol string, baseCapital decimal.Decimal) decimal.Decimal
	// InvalidateClient drops cached sizing so a rebuild sees fresh numbers.
	InvalidateClient(clientID int64)
}

// Manager owns one grid. All lifecycle methods are driven from a single
// orchestrator goroutine; the mutex only protects state read from other
// goroutines (Snapshot, Stop). No lock is ever held across an exchange call.
type Manager struct {
	cfg    *models.Config
	spec   models.GridSpec
	ex     exchange.Adapter
	profit ProfitTracker
	sizer  OrderSizer
	sink   notifier.Sink
	logger *zap.SugaredLogger

	rules models.TradingRules

	mu             sync.Mutex
	grid           *models.GridConfig
	processedFills map[int64]struct{}
	pending        []*models.GridLevel // replacements awaiting submission
	buyFills       int                 // fills since the last ladder build
	sellFills      int
}

// NewManager wires a manager for one grid spec.
func NewManager(cfg *models.Config, spec models.GridSpec, ex exchange.Adapter, profit ProfitTracker, sizer OrderSizer, sink notifier.Sink, logger *zap.SugaredLogger) *Manager {
	if sink == nil {
		sink = notifier.NopSink{}
	}
	return &Manager{
		cfg:            cfg,
		spec:           spec,
		ex:             ex,
		profit:         profit,
		sizer:          sizer,
		sink:           sink,
		logger:         logger.With("client", spec.ClientID, "symbol", spec.Symbol),
		processedFills: make(map[int64]struct{}),
	}
}

// Start fetches trading rules, records the one-time inventory bootstrap if
// configured, and builds the first ladder. Transient failures are already
// retried inside the adapter; auth failures propagate, anything else leaves
// the grid INITIALIZING to be retried on the next tick.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.rules, err = m.ex.GetTradingRules(ctx, m.spec.Symbol)
	if err != nil {
		return fmt.Errorf("trading rules for %s: %w", m.spec.Symbol, err)
	}

	m.mu.Lock()
	m.grid = &models.GridConfig{
		ClientID:     m.spec.ClientID,
		Symbol:       m.spec.Symbol,
		TotalCapital: m.spec.TotalCapital,
		Spacing:      m.cfg.GridSpacing,
		State:        models.StateInitializing,
	}
	m.mu.Unlock()

	if err := m.bootstrapInventory(ctx); err != nil {
		return err
	}

	if err := m.buildAndSubmit(ctx); err != nil {
		return err
	}
	m.sink.Notify(notifier.Event{
		Type:     notifier.EventGridStarted,
		ClientID: m.spec.ClientID,
		Symbol:   m.spec.Symbol,
	})
	return nil
}

// bootstrapInventory records an INITIAL cost-basis lot for base-asset
// inventory the client already holds, valued at the current price. It runs
// at most once per pair: any existing trade history suppresses it.
func (m *Manager) bootstrapInventory(ctx context.Context) error {
	if !m.spec.BootstrapInventory.IsPositive() {
		return nil
	}
	has, err := m.profit.HasTrades(ctx, m.spec.ClientID, m.spec.Symbol)
	if err != nil {
		return fmt.Errorf("checking trade history: %w", err)
	}
	if has {
		return nil
	}

	price, err := m.ex.GetPrice(ctx, m.spec.Symbol)
	if err != nil {
		return fmt.Errorf("pricing initial inventory: %w", err)
	}
	lotID, err := m.profit.RecordAcquisition(ctx, m.spec.ClientID, m.spec.Symbol,
		m.spec.BootstrapInventory, price, models.OriginInitial, time.Now())
	if err != nil {
		return fmt.Errorf("recording initial inventory: %w", err)
	}
	m.logger.Infof("bootstrapped initial inventory: %s units at %s (lot %s)",
		m.spec.BootstrapInventory, price, lotID)
	return nil
}

// Tick advances the grid one step. The orchestrator calls it on a shared
// interval; a returned error means an auth failure and the grid must stop.
func (m *Manager) Tick(ctx context.Context) error {
	switch m.State() {
	case models.StateStopped:
		return nil
	case models.StateInitializing, models.StateResetting:
		return m.buildAndSubmit(ctx)
	}

	if err := m.flushPending(ctx); err != nil {
		return err
	}
	if err := m.pollFills(ctx); err != nil {
		return err
	}
	return m.checkResetTriggers(ctx)
}

// buildAndSubmit recenters the ladder on the current market price and submits
// every rung. Used for the first build and for every rebuild after a reset.
// Orders that refused to cancel are carried into the rebuilt grid so their
// fills keep being observed and recorded.
func (m *Manager) buildAndSubmit(ctx context.Context) error {
	var carried []*models.GridLevel
	if m.State() == models.StateResetting {
		carried = m.cancelLiveOrders(ctx)
	}

	center, err := m.ex.GetPrice(ctx, m.spec.Symbol)
	if err != nil {
		m.logger.Warnf("ladder build postponed, no market price: %v", err)
		if exchange.IsAuth(err) {
			return err
		}
		return nil
	}

	orderValue := m.sizer.GetOrderSize(ctx, m.spec.ClientID, m.spec.Symbol, m.spec.TotalCapital)
	buys, sells := buildLadder(center, m.cfg.GridSpacing, m.cfg.LevelCount, orderValue, m.rules)

	m.mu.Lock()
	m.grid.CenterPrice = center
	m.grid.BuyLevels = buys
	m.grid.SellLevels = sells
	for _, lvl := range carried {
		if lvl.Side == models.Buy {
			m.grid.BuyLevels = append(m.grid.BuyLevels, lvl)
		} else {
			m.grid.SellLevels = append(m.grid.SellLevels, lvl)
		}
	}
	m.processedFills = make(map[int64]struct{})
	m.pending = nil
	m.buyFills = 0
	m.sellFills = 0
	m.mu.Unlock()

	live := 0
	for _, lvl := range append(append([]*models.GridLevel{}, buys...), sells...) {
		if lvl.Status == models.LevelFailed {
			m.reportFailedLevel(lvl, "below minimum notional after quantization")
			continue
		}
		if err := m.placeLevel(ctx, lvl); err != nil {
			return err
		}
		if lvl.Live() {
			live++
		}
	}

	if live == 0 {
		m.logger.Warn("no live orders after ladder build, will retry next tick")
		m.setState(models.StateInitializing)
		return nil
	}

	m.logger.Infof("ladder live: center=%s order_value=%s live_orders=%d", center, orderValue, live)
	m.setState(models.StateActive)
	return nil
}

// placeLevel submits one rung. Rejections mark the level FAILED and never
// retry; transient failures leave it PENDING for the pending pass; auth
// failures propagate.
func (m *Manager) placeLevel(ctx context.Context, lvl *models.GridLevel) error {
	order, err := m.ex.PlaceLimitOrder(ctx, m.spec.Symbol, lvl.Side, lvl.Quantity, lvl.Price)
	switch {
	case err == nil:
		m.mu.Lock()
		lvl.ExchangeOrderID = order.OrderID
		lvl.Status = models.LevelOpen
		m.mu.Unlock()
		metrics.OrdersPlaced.WithLabelValues(m.spec.Symbol, string(lvl.Side)).Inc()
		return nil
	case exchange.IsAuth(err):
		return err
	case exchange.IsRejection(err):
		m.mu.Lock()
		lvl.Status = models.LevelFailed
		m.mu.Unlock()
		m.reportFailedLevel(lvl, err.Error())
		return nil
	default:
		m.logger.Warnf("transient failure placing %s %s@%s, will retry next tick: %v",
			lvl.Side, lvl.Quantity, lvl.Price, err)
		m.mu.Lock()
		m.pending = append(m.pending, lvl)
		m.mu.Unlock()
		return nil
	}
}

func (m *Manager) reportFailedLevel(lvl *models.GridLevel, reason string) {
	metrics.OrdersFailed.WithLabelValues(m.spec.Symbol, string(lvl.Side)).Inc()
	m.logger.Warnf("level failed: %s %s@%s: %s", lvl.Side, lvl.Quantity, lvl.Price, reason)
	m.sink.Notify(notifier.Event{
		Type:     notifier.EventLevelFailed,
		ClientID: m.spec.ClientID,
		Symbol:   m.spec.Symbol,
		Payload: map[string]string{
			"side":   string(lvl.Side),
			"price":  lvl.Price.String(),
			"reason": reason,
		},
	})
}

// flushPending retries replacement rungs and transient placement failures
// carried over from earlier ticks.
func (m *Manager) flushPending(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, lvl := range pending {
		if lvl.Status != models.LevelPending {
			continue
		}
		if err := m.placeLevel(ctx, lvl); err != nil {
			return err
		}
	}
	return nil
}

type orderProbe struct {
	level  *models.GridLevel
	status models.OrderStatus
	err    error
}

// pollFills queries the status of every live order, one goroutine per order,
// and processes newly filled rungs. The level list is copied under the lock
// and released before any network call.
func (m *Manager) pollFills(ctx context.Context) error {
	m.mu.Lock()
	var live []*models.GridLevel
	for _, lvl := range append(append([]*models.GridLevel{}, m.grid.BuyLevels...), m.grid.SellLevels...) {
		if lvl.Live() {
			live = append(live, lvl)
		}
	}
	m.mu.Unlock()

	if len(live) == 0 {
		return nil
	}

	results := make(chan orderProbe, len(live))
	var wg sync.WaitGroup
	for _, lvl := range live {
		wg.Add(1)
		go func(lvl *models.GridLevel) {
			defer wg.Done()
			status, err := m.ex.GetOrderStatus(ctx, m.spec.Symbol, lvl.ExchangeOrderID)
			results <- orderProbe{level: lvl, status: status, err: err}
		}(lvl)
	}
	wg.Wait()
	close(results)

	for probe := range results {
		switch {
		case probe.err != nil:
			if exchange.IsAuth(probe.err) {
				return probe.err
			}
			m.logger.Warnf("order %d status check failed: %v", probe.level.ExchangeOrderID, probe.err)
		case probe.status == models.OrderFilled:
			if err := m.handleFill(ctx, probe.level); err != nil {
				return err
			}
		case probe.status == models.OrderCancelled:
			m.handleExternalCancel(probe.level)
		}
	}
	return nil
}

// handleFill records the trade and spawns the mirrored replacement. The
// processed-fill set keys on the exchange order id so observing the same fill
// twice spawns exactly one replacement. The fill is marked processed only
// after the trade recording succeeds: on a ledger failure the level stays
// OPEN so the next poll re-observes the fill and retries.
func (m *Manager) handleFill(ctx context.Context, lvl *models.GridLevel) error {
	m.mu.Lock()
	if _, seen := m.processedFills[lvl.ExchangeOrderID]; seen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	filledAt := time.Now()
	var err error
	if lvl.Side == models.Buy {
		_, err = m.profit.RecordAcquisition(ctx, m.spec.ClientID, m.spec.Symbol,
			lvl.Quantity, lvl.Price, models.OriginTrade, filledAt)
	} else {
		var realized decimal.Decimal
		realized, err = m.profit.RecordDisposal(ctx, m.spec.ClientID, m.spec.Symbol,
			lvl.Quantity, lvl.Price, filledAt)
		if err == nil {
			m.logger.Infof("realized profit %s on sell of %s", realized, lvl.Quantity)
		}
	}
	if err != nil {
		m.logger.Errorf("recording fill for order %d, will retry next tick: %v", lvl.ExchangeOrderID, err)
		m.sink.Notify(notifier.Event{
			Type:     notifier.EventError,
			ClientID: m.spec.ClientID,
			Symbol:   m.spec.Symbol,
			Payload:  map[string]string{"error": err.Error()},
		})
		return nil
	}

	m.mu.Lock()
	m.processedFills[lvl.ExchangeOrderID] = struct{}{}
	lvl.Status = models.LevelFilled
	lvl.FilledAt = filledAt
	if lvl.Side == models.Buy {
		m.buyFills++
	} else {
		m.sellFills++
	}
	m.mu.Unlock()

	metrics.OrdersFilled.WithLabelValues(m.spec.Symbol, string(lvl.Side)).Inc()
	m.logger.Infof("fill: %s %s@%s (order %d)", lvl.Side, lvl.Quantity, lvl.Price, lvl.ExchangeOrderID)

	m.sink.Notify(notifier.Event{
		Type:     notifier.EventOrderFilled,
		ClientID: m.spec.ClientID,
		Symbol:   m.spec.Symbol,
		Payload: map[string]string{
			"side":     string(lvl.Side),
			"price":    lvl.Price.String(),
			"quantity": lvl.Quantity.String(),
		},
	})

	replacement := replacementLevel(lvl, m.cfg.GridSpacing, m.rules)
	if replacement.Status == models.LevelFailed {
		m.reportFailedLevel(replacement, "replacement below minimum notional")
		return nil
	}

	m.mu.Lock()
	if replacement.Side == models.Buy {
		m.grid.BuyLevels = append(m.grid.BuyLevels, replacement)
	} else {
		m.grid.SellLevels = append(m.grid.SellLevels, replacement)
	}
	m.mu.Unlock()

	if err := m.placeLevel(ctx, replacement); err != nil {
		return err
	}
	if replacement.Live() {
		metrics.ReplacementsPlaced.WithLabelValues(m.spec.Symbol).Inc()
	}
	return nil
}

// handleExternalCancel puts a rung whose order disappeared out from under us
// back in the pending queue so it is resubmitted at the same price.
func (m *Manager) handleExternalCancel(lvl *models.GridLevel) {
	m.logger.Warnf("order %d cancelled externally, resubmitting level %s@%s",
		lvl.ExchangeOrderID, lvl.Side, lvl.Price)
	m.mu.Lock()
	lvl.ExchangeOrderID = 0
	lvl.Status = models.LevelPending
	m.pending = append(m.pending, lvl)
	m.mu.Unlock()
}

// checkResetTriggers recenters the grid when price deviates beyond the
// adaptive threshold or when fills are one-sided. The deviation threshold
// starts at the configured base, widens 1.2x when the recent win rate is high
// (the grid is earning, let it run), and narrows 0.8x when total profit has
// gone materially negative.
func (m *Manager) checkResetTriggers(ctx context.Context) error {
	price, err := m.ex.GetPrice(ctx, m.spec.Symbol)
	if err != nil {
		if exchange.IsAuth(err) {
			return err
		}
		m.logger.Warnf("reset check skipped, no market price: %v", err)
		return nil
	}
	pf, _ := price.Float64()
	metrics.LatestPrice.WithLabelValues(m.spec.Symbol).Set(pf)

	m.mu.Lock()
	center := m.grid.CenterPrice
	buyFills, sellFills := m.buyFills, m.sellFills
	m.mu.Unlock()

	threshold := m.cfg.ResetDeviationThreshold
	if snap, perr := m.profit.GetPerformance(ctx, m.spec.ClientID, m.spec.Symbol); perr == nil {
		if snap.TotalTrades > 0 && snap.WinRate > m.cfg.HighWinRateThreshold {
			threshold *= 1.2
		}
		if snap.TotalRealizedProfit.LessThan(decimal.NewFromFloat(m.cfg.NegativeProfitThreshold)) {
			threshold *= 0.8
		}
	}

	deviation := price.Sub(center).Abs().Div(center).InexactFloat64()
	if deviation >= threshold {
		m.logger.Infof("price deviation %.2f%% exceeds threshold %.2f%%, resetting",
			deviation*100, threshold*100)
		return m.reset(ctx, "deviation")
	}

	total := float64(m.cfg.LevelCount)
	buyRatio := float64(buyFills) / total
	sellRatio := float64(sellFills) / total
	high, low := m.cfg.OneSidedFillThreshold, m.cfg.OneSidedLowWater
	if (buyRatio >= high && sellRatio <= low) || (sellRatio >= high && buyRatio <= low) {
		m.logger.Infof("one-sided fills (buy %.0f%%, sell %.0f%%), resetting",
			buyRatio*100, sellRatio*100)
		return m.reset(ctx, "one_sided")
	}
	return nil
}

// reset cancels live orders and rebuilds the ladder around the current price.
func (m *Manager) reset(ctx context.Context, trigger string) error {
	m.setState(models.StateResetting)
	m.sizer.InvalidateClient(m.spec.ClientID)
	metrics.GridResets.WithLabelValues(m.spec.Symbol, trigger).Inc()
	m.sink.Notify(notifier.Event{
		Type:     notifier.EventGridReset,
		ClientID: m.spec.ClientID,
		Symbol:   m.spec.Symbol,
		Payload:  map[string]string{"trigger": trigger},
	})
	return m.buildAndSubmit(ctx)
}

// cancelLiveOrders cancels every resting order. Failures are logged and never
// block; the levels whose orders refused to cancel are returned so the caller
// can keep tracking them.
func (m *Manager) cancelLiveOrders(ctx context.Context) []*models.GridLevel {
	m.mu.Lock()
	var live []*models.GridLevel
	for _, lvl := range append(append([]*models.GridLevel{}, m.grid.BuyLevels...), m.grid.SellLevels...) {
		if lvl.Live() {
			live = append(live, lvl)
		}
	}
	m.mu.Unlock()

	var stuck []*models.GridLevel
	for _, lvl := range live {
		if err := m.ex.CancelOrder(ctx, m.spec.Symbol, lvl.ExchangeOrderID); err != nil {
			m.logger.Warnf("cancelling order %d: %v", lvl.ExchangeOrderID, err)
			stuck = append(stuck, lvl)
			continue
		}
		m.mu.Lock()
		lvl.Status = models.LevelPending
		lvl.ExchangeOrderID = 0
		m.mu.Unlock()
	}
	return stuck
}

// Stop cancels live orders and drives the grid to its terminal state.
func (m *Manager) Stop(ctx context.Context) {
	if m.State() == models.StateStopped {
		return
	}
	if stuck := m.cancelLiveOrders(ctx); len(stuck) > 0 {
		m.logger.Warnf("%d orders did not cancel before stop", len(stuck))
	}
	m.setState(models.StateStopped)
	m.sink.Notify(notifier.Event{
		Type:     notifier.EventGridStopped,
		ClientID: m.spec.ClientID,
		Symbol:   m.spec.Symbol,
	})
	m.logger.Info("grid stopped")
}

// State returns the current lifecycle state.
func (m *Manager) State() models.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grid == nil {
		return models.StateInitializing
	}
	return m.grid.State
}

func (m *Manager) setState(s models.LifecycleState) {
	m.mu.Lock()
	prev := m.grid.State
	m.grid.State = s
	m.mu.Unlock()

	if prev == s {
		return
	}
	if s == models.StateActive {
		metrics.ActiveGrids.Inc()
	} else if prev == models.StateActive {
		metrics.ActiveGrids.Dec()
	}
	m.logger.Infof("state %s -> %s", prev, s)
}

// Snapshot returns a copy of the grid definition for reporting.
func (m *Manager) Snapshot() models.GridConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grid == nil {
		return models.GridConfig{
			ClientID: m.spec.ClientID,
			Symbol:   m.spec.Symbol,
			State:    models.StateInitializing,
		}
	}
	snap := *m.grid
	snap.BuyLevels = append([]*models.GridLevel{}, m.grid.BuyLevels...)
	snap.SellLevels = append([]*models.GridLevel{}, m.grid.SellLevels...)
	return snap
}

