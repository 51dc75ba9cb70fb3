package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"breakout-trader-go/internal/config"
	"breakout-trader-go/internal/database"
	"breakout-trader-go/internal/decisionlog"
	"breakout-trader-go/internal/gateway"
	"breakout-trader-go/internal/logger"
	"breakout-trader-go/internal/position"
	"breakout-trader-go/internal/resilience"
	"breakout-trader-go/internal/state"
	"breakout-trader-go/internal/strategy"
	"breakout-trader-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize trade journal database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	journal := database.NewTradeStore(db)
	log.Info("Trade journal ready")

	// Load today's watchlist from the scanner output
	watchlist, err := trader.LoadWatchlist(cfg.Trading.WatchlistPath, cfg.Trading.Watchlist)
	if err != nil {
		log.Fatal("Failed to load watchlist", zap.Error(err))
	}
	log.Info("Watchlist loaded", zap.Int("symbols", len(watchlist)))

	// Gateway client behind the resilience guard
	restClient := gateway.NewRestClient(&cfg.Gateway, log)
	guard := resilience.NewGuard(restClient, &cfg.Resilience, log)

	// Decision log for offline validation
	decisions, err := decisionlog.New(cfg.Trading.DecisionLogPath)
	if err != nil {
		log.Fatal("Failed to open decision log", zap.Error(err))
	}
	defer decisions.Close()

	// Core managers
	positions := position.NewManager(journal, log)
	saveInterval := time.Duration(cfg.State.SaveIntervalSeconds) * time.Second
	stateMgr := state.NewManager(cfg.State.FilePath, saveInterval, positions, guard, watchlist, log)
	evaluator := strategy.NewEvaluator(&cfg, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the trading engine
	engine := trader.NewEngine(&cfg, log, guard, evaluator, positions, stateMgr, decisions, watchlist)
	if err := engine.Run(ctx); err != nil {
		log.Fatal("Engine stopped with error", zap.Error(err))
	}

	summary := positions.GetDailySummary()
	log.Info("Session complete",
		zap.Int("trades", summary.TotalTrades),
		zap.Float64("win_rate", summary.WinRate),
		zap.Float64("daily_pnl", summary.DailyPnL),
	)

	// Replay today's journal rows so the shutdown log carries the full
	// trade-by-trade record, not just the aggregates.
	trades, err := journal.TodaysTrades()
	if err != nil {
		log.Warn("Could not read today's trade journal", zap.Error(err))
		return
	}
	for _, tr := range trades {
		log.Info("Journaled trade",
			zap.String("symbol", tr.Symbol),
			zap.String("side", tr.Side),
			zap.String("entry_path", tr.EntryPath),
			zap.String("exit_reason", tr.ExitReason),
			zap.Float64("pnl", tr.PnL),
		)
	}
}
