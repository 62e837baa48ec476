// Package reporter renders periodic per-client performance tables to the log.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/metrics"
	"grid-trade-engine-go/internal/models"
)

// PerformanceSource is the profit engine surface the reporter reads.
type PerformanceSource interface {
	GetClientPerformance(ctx context.Context, clientID int64) (models.PerformanceSnapshot, error)
}

// GridView is the live grid state the reporter displays alongside profits.
type GridView struct {
	ClientID int64
	Symbol   string
	State    models.LifecycleState
	Live     int // resting orders
}

// Reporter prints a summary table across all clients.
type Reporter struct {
	perf   PerformanceSource
	logger *zap.SugaredLogger
}

func New(perf PerformanceSource, logger *zap.SugaredLogger) *Reporter {
	return &Reporter{perf: perf, logger: logger}
}

// Report renders one performance table covering every grid and refreshes the
// per-client profit gauges. Failures are logged, never returned: reporting
// must not disturb trading.
func (r *Reporter) Report(ctx context.Context, grids []GridView) {
	if len(grids) == 0 {
		return
	}

	clients := make(map[int64]models.PerformanceSnapshot)
	for _, g := range grids {
		if _, ok := clients[g.ClientID]; ok {
			continue
		}
		snap, err := r.perf.GetClientPerformance(ctx, g.ClientID)
		if err != nil {
			r.logger.Warnf("performance for client %d unavailable: %v", g.ClientID, err)
			continue
		}
		clients[g.ClientID] = snap
	}

	sort.Slice(grids, func(i, j int) bool {
		if grids[i].ClientID != grids[j].ClientID {
			return grids[i].ClientID < grids[j].ClientID
		}
		return grids[i].Symbol < grids[j].Symbol
	})

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Client", "Symbol", "State", "Live", "Realized", "Unrealized", "Win Rate", "24h"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Realized", Align: text.AlignRight},
		{Name: "Unrealized", Align: text.AlignRight},
		{Name: "24h", Align: text.AlignRight},
	})

	for _, g := range grids {
		snap, ok := clients[g.ClientID]
		if !ok {
			t.AppendRow(table.Row{g.ClientID, g.Symbol, g.State, g.Live, "-", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			g.ClientID,
			g.Symbol,
			g.State,
			g.Live,
			snap.TotalRealizedProfit.StringFixed(2),
			snap.TotalUnrealizedProfit.StringFixed(2),
			formatWinRate(snap),
			snap.Recent24hProfit.StringFixed(2),
		})
	}

	r.logger.Infof("performance report:\n%s", t.Render())

	for id, snap := range clients {
		client := strconv.FormatInt(id, 10)
		realized, _ := snap.TotalRealizedProfit.Float64()
		unrealized, _ := snap.TotalUnrealizedProfit.Float64()
		metrics.RealizedProfit.WithLabelValues(client).Set(realized)
		metrics.UnrealizedProfit.WithLabelValues(client).Set(unrealized)
	}
}

func formatWinRate(snap models.PerformanceSnapshot) string {
	if snap.TotalTrades == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%% (%d/%d)", snap.WinRate*100, snap.ProfitableTrades, snap.TotalTrades)
}
