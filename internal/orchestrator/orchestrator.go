// Package orchestrator runs one grid manager per configured (client, symbol)
// pair on a shared tick interval and owns graceful shutdown.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/exchange"
	"grid-trade-engine-go/internal/grid"
	"grid-trade-engine-go/internal/models"
	"grid-trade-engine-go/internal/notifier"
	"grid-trade-engine-go/internal/profit"
	"grid-trade-engine-go/internal/reporter"
	"grid-trade-engine-go/internal/sizer"
)

// stopTimeout bounds order cancellation during shutdown.
const stopTimeout = 30 * time.Second

// Orchestrator owns the managers. Managers share the exchange adapter, the
// profit engine and the sizer, nothing else.
type Orchestrator struct {
	cfg      *models.Config
	ex       exchange.Adapter
	engine   *profit.Engine
	sizer    *sizer.Sizer
	sink     notifier.Sink
	reporter *reporter.Reporter
	logger   *zap.SugaredLogger

	managers []*grid.Manager
}

// New builds an orchestrator and its managers from the configured grids.
func New(cfg *models.Config, ex exchange.Adapter, engine *profit.Engine, sz *sizer.Sizer, sink notifier.Sink, rep *reporter.Reporter, logger *zap.SugaredLogger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		ex:       ex,
		engine:   engine,
		sizer:    sz,
		sink:     sink,
		reporter: rep,
		logger:   logger,
	}
	for _, spec := range cfg.Grids {
		o.managers = append(o.managers, grid.NewManager(cfg, spec, ex, engine, sz, sink, logger))
	}
	return o
}

// Run starts every grid and ticks them until ctx is cancelled, then cancels
// all live orders and returns. Each pair runs on its own goroutine with its
// own ticker so one slow exchange call never stalls the others.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, m := range o.managers {
		wg.Add(1)
		go func(m *grid.Manager) {
			defer wg.Done()
			o.runGrid(ctx, m)
		}(m)
	}

	if o.reporter != nil && o.cfg.ReportEverySec > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runReporter(ctx)
		}()
	}

	wg.Wait()
	o.logger.Info("all grids stopped")
	return nil
}

// runGrid drives one manager: start with retry across ticks, then tick until
// shutdown. Auth failures stop the grid permanently; everything else is
// logged and retried on the next tick.
func (o *Orchestrator) runGrid(ctx context.Context, m *grid.Manager) {
	ticker := time.NewTicker(o.cfg.TickInterval())
	defer ticker.Stop()

	started := false
	for {
		if !started {
			if err := m.Start(ctx); err != nil {
				if exchange.IsAuth(err) {
					o.logger.Errorf("grid start failed with auth error, stopping: %v", err)
					o.stopGrid(m)
					return
				}
				o.logger.Errorf("grid start failed, retrying next tick: %v", err)
			} else {
				started = true
			}
		}

		select {
		case <-ctx.Done():
			o.stopGrid(m)
			return
		case <-ticker.C:
		}

		if !started {
			continue
		}
		if err := m.Tick(ctx); err != nil {
			o.logger.Errorf("grid tick failed with auth error, stopping: %v", err)
			o.stopGrid(m)
			return
		}
	}
}

// stopGrid cancels live orders on a fresh context so shutdown still works
// after the run context is cancelled.
func (o *Orchestrator) stopGrid(m *grid.Manager) {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	m.Stop(stopCtx)
}

func (o *Orchestrator) runReporter(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(o.cfg.ReportEverySec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reporter.Report(ctx, o.gridViews())
			o.logAllocations(ctx)
		}
	}
}

// logAllocations prints the advised conservative/aggressive capital split per
// client alongside each report.
func (o *Orchestrator) logAllocations(ctx context.Context) {
	capital := make(map[int64]decimal.Decimal)
	for _, spec := range o.cfg.Grids {
		capital[spec.ClientID] = capital[spec.ClientID].Add(spec.TotalCapital)
	}
	for clientID, total := range capital {
		alloc := o.sizer.GetGridAllocation(ctx, clientID, total)
		o.logger.Infof("client %d capital split: base %s / enhanced %s (%s)",
			clientID, alloc.BaseCapital.StringFixed(2), alloc.EnhancedCapital.StringFixed(2), alloc.Reasoning)
	}
}

func (o *Orchestrator) gridViews() []reporter.GridView {
	views := make([]reporter.GridView, 0, len(o.managers))
	for _, m := range o.managers {
		snap := m.Snapshot()
		live := 0
		for _, lvl := range append(append([]*models.GridLevel{}, snap.BuyLevels...), snap.SellLevels...) {
			if lvl.Live() {
				live++
			}
		}
		views = append(views, reporter.GridView{
			ClientID: snap.ClientID,
			Symbol:   snap.Symbol,
			State:    snap.State,
			Live:     live,
		})
	}
	return views
}
