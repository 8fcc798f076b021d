package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alpha-arena-prompt/internal/api"
	"alpha-arena-prompt/internal/cache"
	"alpha-arena-prompt/internal/config"
	"alpha-arena-prompt/internal/logger"
	"alpha-arena-prompt/internal/nof1"
	"alpha-arena-prompt/internal/poller"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded",
		zap.String("base_url", cfg.Upstream.BaseURL),
		zap.Duration("interval", cfg.Poller.Interval()),
		zap.Int("cache_limit", cfg.Cache.Limit),
	)

	// The viewer expects numbers, not quoted decimals.
	decimal.MarshalJSONWithoutQuotes = true

	client := nof1.NewClient(&cfg.Upstream, log)
	tradeCache := cache.NewTradeCache(cfg.Cache.Limit)
	tradePoller := poller.New(client, tradeCache, log, cfg.Poller.Interval(),
		poller.WithFetchLimit(cfg.Upstream.FetchLimit),
	)
	service := api.NewService(tradeCache, tradePoller, log)
	server := api.NewServer(&cfg.Server, service, log)

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := tradePoller.Start(ctx); err != nil {
		log.Fatal("Failed to start poller", zap.Error(err))
	}
	server.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	tradePoller.Stop()

	log.Info("Trade poller has been shut down.")
}
