// Package trader runs the live trading loop: one worker per watched
// symbol, each stepping the entry-confirmation state machine and managing
// any open position through partials, stops and trailing.
package trader

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"breakout-trader-go/internal/config"
	"breakout-trader-go/internal/decisionlog"
	"breakout-trader-go/internal/gateway"
	"breakout-trader-go/internal/models"
	"breakout-trader-go/internal/position"
	"breakout-trader-go/internal/resilience"
	"breakout-trader-go/internal/state"
	"breakout-trader-go/internal/strategy"
)

// Partial-exit and close reasons recorded on positions and in the journal.
const (
	ReasonTarget1  = "target1"
	ReasonTarget2  = "target2"
	ReasonStopLoss = "stop_loss"
	ReasonEndOfDay = "end_of_day"
)

// barFetchLimit is how much history each worker pulls per tick; it must
// cover the longest indicator lookback plus the observation window.
const barFetchLimit = 120

// Engine is the core trading engine.
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	guard     *resilience.Guard
	evaluator *strategy.Evaluator
	positions *position.Manager
	state     *state.Manager
	decisions *decisionlog.Logger
	watchlist map[string]models.PivotLevels

	// flattenAfter is minutes since UTC midnight; -1 disables the
	// end-of-day cutoff.
	flattenAfter int
}

// NewEngine creates a trading engine over fully-constructed collaborators.
func NewEngine(cfg *config.Config, logger *zap.Logger, guard *resilience.Guard, evaluator *strategy.Evaluator, positions *position.Manager, stateMgr *state.Manager, decisions *decisionlog.Logger, watchlist map[string]models.PivotLevels) *Engine {
	flattenAfter := -1
	if cfg.Trading.FlattenAt != "" {
		if t, err := time.Parse("15:04", cfg.Trading.FlattenAt); err == nil {
			flattenAfter = t.Hour()*60 + t.Minute()
		} else {
			logger.Warn("Invalid trading.flatten_at, end-of-day flatten disabled",
				zap.String("flatten_at", cfg.Trading.FlattenAt))
		}
	}

	return &Engine{
		cfg:          cfg,
		logger:       logger.Named("engine"),
		guard:        guard,
		evaluator:    evaluator,
		positions:    positions,
		state:        stateMgr,
		decisions:    decisions,
		watchlist:    watchlist,
		flattenAfter: flattenAfter,
	}
}

// pastFlatten reports whether the bar's UTC clock time is at or past the
// configured end-of-day cutoff.
func (e *Engine) pastFlatten(barTime time.Time) bool {
	if e.flattenAfter < 0 || barTime.IsZero() {
		return false
	}
	utc := barTime.UTC()
	return utc.Hour()*60+utc.Minute() >= e.flattenAfter
}

// Run connects, recovers state, then drives one worker per watched symbol
// until the context is cancelled. The only fatal condition is failing to
// connect at startup.
func (e *Engine) Run(ctx context.Context) error {
	if !e.guard.ConnectWithRetry(ctx) {
		return fmt.Errorf("could not connect to gateway after retries")
	}

	if err := e.state.RecoverFullState(ctx); err != nil {
		return fmt.Errorf("state recovery failed: %w", err)
	}

	go e.state.Run(ctx)

	var wg sync.WaitGroup
	for symbol, levels := range e.watchlist {
		if !e.guard.SafeQualifyInstrument(ctx, symbol) {
			e.logger.Warn("Symbol not tradable at gateway, skipping", zap.String("symbol", symbol))
			continue
		}
		wg.Add(1)
		go func(symbol string, levels models.PivotLevels) {
			defer wg.Done()
			e.runSymbol(ctx, symbol, levels)
		}(symbol, levels)
	}

	e.logger.Info("Engine running", zap.Int("symbols", len(e.watchlist)))
	wg.Wait()
	e.logger.Info("All symbol workers stopped")
	return nil
}

// runSymbol is one symbol's worker loop. Workers never block on each other;
// the only shared state is behind the position manager's lock.
func (e *Engine) runSymbol(ctx context.Context, symbol string, levels models.PivotLevels) {
	l := e.logger.With(zap.String("symbol", symbol))
	interval := time.Duration(e.cfg.Trading.BarIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.Info("Worker started",
		zap.Float64("resistance", levels.Resistance),
		zap.Float64("support", levels.Support),
	)

	for {
		select {
		case <-ctx.Done():
			l.Info("Worker stopping")
			return
		case <-ticker.C:
			bars, ok := e.guard.SafeGetBars(ctx, symbol, barFetchLimit)
			if !ok || len(bars) == 0 {
				continue
			}
			e.step(ctx, symbol, levels, bars, l)
		}
	}
}

// step processes the newest bar: manage a held position, otherwise look for
// an entry.
func (e *Engine) step(ctx context.Context, symbol string, levels models.PivotLevels, bars []models.Bar, l *zap.Logger) {
	newest := bars[len(bars)-1]

	if e.pastFlatten(newest.Time) {
		if p, held := e.positions.GetPosition(symbol); held {
			l.Info("End-of-day cutoff reached, flattening")
			e.exitFull(ctx, p, newest.Close, ReasonEndOfDay, l)
		}
		return
	}

	if p, held := e.positions.GetPosition(symbol); held {
		e.managePosition(ctx, p, bars, l)
		return
	}
	e.tryEnter(ctx, symbol, levels, bars, l)
}

// tryEnter evaluates both sides of the level for the newest bar and opens a
// position on confirmation.
func (e *Engine) tryEnter(ctx context.Context, symbol string, levels models.PivotLevels, bars []models.Bar, l *zap.Logger) {
	idx := len(bars) - 1

	for _, side := range []models.Side{models.SideLong, models.SideShort} {
		pivot := levels.PivotFor(side)
		if pivot <= 0 {
			continue
		}

		// Whipsaw guard: stop re-entering a level that keeps failing.
		if attempts := e.positions.GetAttemptCount(symbol, pivot); attempts >= e.cfg.Trading.MaxAttemptsPerLevel {
			continue
		}

		target := levels.Target1
		if side == models.SideShort {
			target = levels.Downside1
		}

		decision := e.evaluator.Evaluate(bars, idx, pivot, side, target, symbol)

		switch {
		case decision.Confirmed:
			e.positions.RecordPath(string(decision.Path))
			e.logDecision(symbol, side, bars[idx].Close, levels, decision)
			e.openPosition(ctx, symbol, side, pivot, levels, bars, idx, decision, l)
			return
		case decision.BlockedFilter != "":
			e.positions.RecordBlock(decision.BlockedFilter)
			e.logDecision(symbol, side, bars[idx].Close, levels, decision)
		case decision.Reason == strategy.ReasonNoPathQualified:
			e.logDecision(symbol, side, bars[idx].Close, levels, decision)
		}
	}
}

// logDecision appends the entry attempt to the decision log.
func (e *Engine) logDecision(symbol string, side models.Side, price float64, levels models.PivotLevels, d *strategy.Decision) {
	if e.decisions == nil {
		return
	}
	rec := &decisionlog.Record{
		Timestamp:   time.Now(),
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		Pivot:       levels,
		Path:        d.Path,
		Confirmed:   d.Confirmed,
		Reason:      d.Reason,
		Diagnostics: d.Diagnostics,
	}
	if err := e.decisions.Log(rec); err != nil {
		e.logger.Error("Failed to append decision record", zap.Error(err))
	}
}

// openPosition places the entry order, registers the position and rests a
// protective stop at the gateway.
func (e *Engine) openPosition(ctx context.Context, symbol string, side models.Side, pivot float64, levels models.PivotLevels, bars []models.Bar, idx int, decision *strategy.Decision, l *zap.Logger) {
	shares := e.cfg.Trading.SharesPerTrade
	entryPrice := bars[idx].Close

	if !e.cfg.Trading.DryRun {
		order, ok := e.guard.SafePlaceOrder(ctx, &gateway.OrderRequest{
			Symbol: symbol,
			Qty:    shares,
			Side:   entrySide(side),
			Type:   gateway.OrderTypeMarket,
		})
		if !ok {
			l.Error("Entry order failed, position not opened")
			return
		}
		l.Info("Entry order placed", zap.String("order_id", order.ID))
	} else {
		l.Warn("Dry run enabled, simulating entry order")
	}

	target1, target2 := levels.Target1, levels.Target2
	if side == models.SideShort {
		target1, target2 = levels.Downside1, 0
	}

	if _, err := e.positions.CreatePosition(symbol, side, entryPrice, shares, pivot, target1, target2); err != nil {
		l.Error("Failed to register position", zap.Error(err))
		return
	}
	e.positions.SetEntryPath(symbol, string(decision.Path))

	stopPrice := e.evaluator.CalculateStop(side, entryPrice, pivot, bars, idx)
	e.placeStop(ctx, symbol, side, stopPrice, shares, l)
}

// placeStop rests a protective stop order and records it on the position.
func (e *Engine) placeStop(ctx context.Context, symbol string, side models.Side, stopPrice float64, shares int, l *zap.Logger) {
	orderID := ""
	if !e.cfg.Trading.DryRun {
		order, ok := e.guard.SafePlaceOrder(ctx, &gateway.OrderRequest{
			Symbol:    symbol,
			Qty:       shares,
			Side:      exitSide(side),
			Type:      gateway.OrderTypeStop,
			StopPrice: stopPrice,
		})
		if !ok {
			l.Error("Failed to rest protective stop; position is unprotected at the venue",
				zap.Float64("stop_price", stopPrice))
			return
		}
		orderID = order.ID
	}
	e.positions.SetStopOrder(symbol, orderID, stopPrice)
	l.Info("Protective stop set", zap.Float64("stop_price", stopPrice))
}

// managePosition applies stop and partial-exit logic to a held position on
// the newest bar.
func (e *Engine) managePosition(ctx context.Context, p models.Position, bars []models.Bar, l *zap.Logger) {
	bar := bars[len(bars)-1]
	price := bar.Close
	e.positions.UpdateExtremes(p.Symbol, price)

	// A position can be missing its protective stop: reconstructed from
	// gateway data alone, or the initial stop order failed at the venue.
	// Re-arm on every bar until one rests. Recovered positions stop at the
	// pivot when it protects the entry, otherwise at a fixed percent;
	// normal positions get the regular stop calculation.
	if p.StopPrice == 0 {
		var stop float64
		if p.Recovered {
			stop = p.Pivot
			if p.IsLong() && (stop <= 0 || stop >= p.EntryPrice) {
				stop = p.EntryPrice * 0.985
			}
			if !p.IsLong() && (stop <= 0 || stop <= p.EntryPrice) {
				stop = p.EntryPrice * 1.015
			}
		} else {
			stop = e.evaluator.CalculateStop(p.Side, p.EntryPrice, p.Pivot, bars, len(bars)-1)
		}
		shares := int(math.Round(p.Remaining * float64(p.Shares)))
		e.placeStop(ctx, p.Symbol, p.Side, stop, shares, l)
		p.StopPrice = stop
	}

	// Stop first: protection beats profit-taking on the same bar.
	stopHit := false
	if p.StopPrice > 0 {
		if p.IsLong() {
			stopHit = bar.Low <= p.StopPrice
		} else {
			stopHit = bar.High >= p.StopPrice
		}
	}
	if stopHit {
		e.exitFull(ctx, p, p.StopPrice, ReasonStopLoss, l)
		return
	}

	// Recovered-incomplete positions get conservative handling: no new
	// partial targets beyond the first, exit fully at target1.
	if p.Recovered && p.Target1 > 0 && targetHit(p, bar, p.Target1) {
		e.exitFull(ctx, p, p.Target1, ReasonTarget1, l)
		return
	}

	if len(p.Partials) == 0 && p.Target1 > 0 && targetHit(p, bar, p.Target1) {
		e.takePartial(ctx, p, p.Target1, e.cfg.Trading.Target1PartialPct, ReasonTarget1, l)
		// Runner management: once the first target pays, the stop moves to
		// breakeven.
		e.replaceStop(ctx, p, p.EntryPrice, l)
		return
	}

	if len(p.Partials) == 1 && p.Target2 > 0 && targetHit(p, bar, p.Target2) {
		e.takePartial(ctx, p, p.Target2, e.cfg.Trading.Target2PartialPct, ReasonTarget2, l)
	}

	e.trailRunner(ctx, p.Symbol, l)
}

// trailRunner ratchets the runner's stop off the favorable extreme once the
// first target has paid. The stop only ever tightens toward price.
func (e *Engine) trailRunner(ctx context.Context, symbol string, l *zap.Logger) {
	pct := e.cfg.Trading.TrailingPct
	if pct <= 0 {
		return
	}
	current, ok := e.positions.GetPosition(symbol)
	if !ok || len(current.Partials) == 0 {
		return
	}

	var trailed float64
	if current.IsLong() {
		trailed = current.Highest * (1 - pct/100)
		if trailed <= current.StopPrice {
			return
		}
	} else {
		trailed = current.Lowest * (1 + pct/100)
		if current.StopPrice > 0 && trailed >= current.StopPrice {
			return
		}
	}

	l.Info("Trailing stop",
		zap.Float64("from", current.StopPrice),
		zap.Float64("to", trailed),
	)
	e.replaceStop(ctx, current, trailed, l)
}

// targetHit reports whether the bar touched the target in the favorable
// direction.
func targetHit(p models.Position, bar models.Bar, target float64) bool {
	if p.IsLong() {
		return bar.High >= target
	}
	return bar.Low <= target
}

// takePartial executes a partial exit at the gateway and records it
// locally.
func (e *Engine) takePartial(ctx context.Context, p models.Position, price, pct float64, reason string, l *zap.Logger) {
	shares := int(math.Round(pct * float64(p.Shares)))
	if shares <= 0 {
		return
	}

	if !e.cfg.Trading.DryRun {
		if _, ok := e.guard.SafePlaceOrder(ctx, &gateway.OrderRequest{
			Symbol: p.Symbol,
			Qty:    shares,
			Side:   exitSide(p.Side),
			Type:   gateway.OrderTypeMarket,
		}); !ok {
			l.Error("Partial exit order failed", zap.String("reason", reason))
			return
		}
	}

	if _, err := e.positions.TakePartial(p.Symbol, price, pct, reason); err != nil {
		l.Error("Failed to record partial exit", zap.Error(err))
	}
}

// replaceStop cancels the resting stop and rests a new one at the given
// price.
func (e *Engine) replaceStop(ctx context.Context, p models.Position, stopPrice float64, l *zap.Logger) {
	if p.StopOrderID != "" && !e.cfg.Trading.DryRun {
		e.guard.SafeCancelOrder(ctx, p.StopOrderID)
	}
	current, ok := e.positions.GetPosition(p.Symbol)
	if !ok {
		return
	}
	remainingShares := int(math.Round(current.Remaining * float64(current.Shares)))
	if remainingShares <= 0 {
		return
	}
	e.placeStop(ctx, p.Symbol, p.Side, stopPrice, remainingShares, l)
}

// exitFull closes out the remaining position at the gateway and locally.
func (e *Engine) exitFull(ctx context.Context, p models.Position, price float64, reason string, l *zap.Logger) {
	if p.StopOrderID != "" && reason != ReasonStopLoss && !e.cfg.Trading.DryRun {
		e.guard.SafeCancelOrder(ctx, p.StopOrderID)
	}

	remainingShares := int(math.Round(p.Remaining * float64(p.Shares)))
	if remainingShares > 0 && reason != ReasonStopLoss && !e.cfg.Trading.DryRun {
		if _, ok := e.guard.SafePlaceOrder(ctx, &gateway.OrderRequest{
			Symbol: p.Symbol,
			Qty:    remainingShares,
			Side:   exitSide(p.Side),
			Type:   gateway.OrderTypeMarket,
		}); !ok {
			l.Error("Exit order failed; will retry on next bar", zap.String("reason", reason))
			return
		}
	}

	trade, err := e.positions.ClosePosition(p.Symbol, price, reason)
	if err != nil {
		l.Error("Failed to close position", zap.Error(err))
		return
	}
	l.Info("Trade complete",
		zap.Float64("pnl", trade.PnL),
		zap.String("reason", reason),
		zap.Duration("duration", trade.Duration),
	)
}

func entrySide(side models.Side) string {
	if side == models.SideLong {
		return gateway.OrderSideBuy
	}
	return gateway.OrderSideSell
}

func exitSide(side models.Side) string {
	return entrySide(side.Opposite())
}
