package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"grid-trade-engine-go/internal/config"
	"grid-trade-engine-go/internal/exchange"
	"grid-trade-engine-go/internal/ledger"
	"grid-trade-engine-go/internal/logger"
	"grid-trade-engine-go/internal/metrics"
	"grid-trade-engine-go/internal/models"
	"grid-trade-engine-go/internal/notifier"
	"grid-trade-engine-go/internal/orchestrator"
	"grid-trade-engine-go/internal/profit"
	"grid-trade-engine-go/internal/reporter"
	"grid-trade-engine-go/internal/sizer"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// A default console logger covers the window before the config is loaded.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading credentials from the environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("loading config: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set in the environment")
	}

	retry := exchange.RetryPolicy{
		Attempts:     cfg.RetryAttempts,
		InitialDelay: time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
		Logger:       logger.S(),
	}
	ex := exchange.NewLiveExchange(apiKey, secretKey, cfg.IsTestnet, retry, logger.S())
	defer ex.Close()
	for _, g := range cfg.Grids {
		ex.StartPriceStream(g.Symbol)
	}

	led, err := ledger.NewBadgerLedger(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("opening ledger at %s: %v", cfg.DBPath, err)
	}
	defer led.Close()

	sink := notifier.NewLogSink(logger.S(), 256)
	defer sink.Close()

	engine := profit.NewEngine(led, sink, logger.S())
	sz := sizer.New(sizer.FromConfig(cfg), engine, logger.S())
	rep := reporter.New(engine, logger.S())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go metrics.Serve(ctx, cfg.MetricsAddr, logger.S())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logger.S().Infof("received %s, shutting down", s)
		cancel()
	}()

	orch := orchestrator.New(cfg, ex, engine, sz, sink, rep, logger.S())
	logger.S().Infof("starting %d grid(s), tick interval %s", len(cfg.Grids), cfg.TickInterval())
	if err := orch.Run(ctx); err != nil {
		logger.S().Fatalf("orchestrator exited: %v", err)
	}
	logger.S().Info("shutdown complete")
}
