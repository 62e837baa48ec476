// Package metrics exposes Prometheus counters and gauges for the trading
// engine and serves them over HTTP.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_orders_placed_total",
		Help: "Limit orders successfully placed, by symbol and side.",
	}, []string{"symbol", "side"})

	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_orders_failed_total",
		Help: "Order placements that exhausted retries or were rejected.",
	}, []string{"symbol", "side"})

	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_orders_filled_total",
		Help: "Grid level fills detected, by symbol and side.",
	}, []string{"symbol", "side"})

	ReplacementsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_replacements_placed_total",
		Help: "Mirror orders placed after fills.",
	}, []string{"symbol"})

	GridResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_resets_total",
		Help: "Grid recenters, by symbol and trigger.",
	}, []string{"symbol", "trigger"})

	RealizedProfit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grid_realized_profit",
		Help: "Cumulative realized profit in quote currency, by client.",
	}, []string{"client"})

	UnrealizedProfit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grid_unrealized_profit",
		Help: "Mark-to-market profit on open inventory, by client.",
	}, []string{"client"})

	ActiveGrids = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_active_grids",
		Help: "Grids currently in the ACTIVE state.",
	})

	LatestPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grid_latest_price",
		Help: "Last observed trade price, by symbol.",
	}, []string{"symbol"})
)

// Serve runs the Prometheus scrape endpoint until ctx is cancelled. An empty
// address disables the endpoint.
func Serve(ctx context.Context, addr string, logger *zap.SugaredLogger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("metrics endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("metrics endpoint stopped: %v", err)
	}
}
