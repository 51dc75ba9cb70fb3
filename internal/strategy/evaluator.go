// Package strategy implements the breakout entry-confirmation state machine:
// path classification (momentum, pullback/retest, sustained break), the
// rejection filter chain, and protective-stop calculation.
package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"breakout-trader-go/internal/config"
	"breakout-trader-go/internal/indicators"
	"breakout-trader-go/internal/models"
)

// Evaluator classifies and validates candidate breakouts. It is a pure
// function of the bar window it is handed and never mutates its input.
type Evaluator struct {
	entry   config.Entry
	filters config.Filters
	stops   config.Stops
	logger  *zap.Logger
}

// NewEvaluator creates an entry-confirmation evaluator.
func NewEvaluator(cfg *config.Config, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		entry:   cfg.Entry,
		filters: cfg.Filters,
		stops:   cfg.Stops,
		logger:  logger.Named("entry-evaluator"),
	}
}

// Evaluate decides whether the bar at idx confirms a breakout of pivot on
// the given side. target is the pre-computed profit target, or 0 when the
// scanner supplied none. The returned Decision carries the chosen path, the
// rejection reason when not confirmed, and full per-filter diagnostics.
func (e *Evaluator) Evaluate(bars []models.Bar, idx int, pivot float64, side models.Side, target float64, symbol string) *Decision {
	d := &Decision{Path: PathNone}

	if idx <= 0 || idx >= len(bars) {
		d.Reason = ReasonNoBreakout
		return d
	}

	breakIdx, found := e.findBreakBar(bars, idx, pivot, side)
	if !found {
		d.Reason = ReasonNoBreakout
		return d
	}

	// The observation window starts at the break bar. A breakout that has
	// not qualified any path by the end of the window is dead.
	if idx-breakIdx >= e.entry.ObservationWindowBars {
		d.Reason = ReasonNoPathQualified
		return d
	}

	e.fillBarStats(bars, idx, &d.Diagnostics)

	var path EntryPath
	switch {
	case idx == breakIdx && e.qualifiesMomentum(bars, idx, d.Diagnostics):
		path = PathMomentum
	case idx > breakIdx && e.qualifiesPullback(bars, breakIdx, idx, pivot, side):
		path = PathPullback
	case idx > breakIdx && e.qualifiesSustained(bars, breakIdx, idx, pivot, side):
		path = PathSustained
	default:
		d.Reason = ReasonAwaiting
		return d
	}

	d.Path = path

	blocked, reason := e.runFilters(bars, idx, side, target, &d.Diagnostics)
	if blocked != "" {
		d.Reason = reason
		d.BlockedFilter = blocked
		e.logger.Debug("Entry blocked by filter",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("path", string(path)),
			zap.String("filter", blocked),
			zap.String("reason", reason),
		)
		return d
	}

	d.Confirmed = true
	d.Reason = fmt.Sprintf("confirmed via %s path", path)
	e.logger.Info("Breakout confirmed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("path", string(path)),
		zap.Float64("pivot", pivot),
		zap.Float64("price", bars[idx].Close),
	)
	return d
}

// beyond reports whether price has crossed the pivot in the trade direction.
func beyond(price, pivot float64, side models.Side) bool {
	if side == models.SideLong {
		return price > pivot
	}
	return price < pivot
}

// findBreakBar locates the bar that first closed through the pivot inside
// the trailing observation window ending at idx.
func (e *Evaluator) findBreakBar(bars []models.Bar, idx int, pivot float64, side models.Side) (int, bool) {
	start := idx - e.entry.ObservationWindowBars
	if start < 1 {
		start = 1
	}
	for j := start; j <= idx; j++ {
		if beyond(bars[j].Close, pivot, side) && !beyond(bars[j-1].Close, pivot, side) {
			return j, true
		}
	}
	return 0, false
}

// fillBarStats computes the shared per-bar measurements reported by every
// decision regardless of path.
func (e *Evaluator) fillBarStats(bars []models.Bar, idx int, diag *Diagnostics) {
	if vr, err := indicators.VolumeRatio(bars, idx, e.entry.VolumeLookbackBars); err == nil {
		diag.VolumeRatio = vr
	}
	diag.CandleBodyPct = bars[idx].BodyPct()
	if atr, err := indicators.ATR(bars[:idx+1], e.entry.ATRPeriod); err == nil {
		diag.ATR = atr
	}
}

// qualifiesMomentum checks the breakout bar itself for a volume and candle
// expansion strong enough to confirm without waiting.
func (e *Evaluator) qualifiesMomentum(bars []models.Bar, idx int, diag Diagnostics) bool {
	if diag.VolumeRatio < e.entry.MomentumVolumeThreshold {
		return false
	}
	if diag.CandleBodyPct >= e.entry.MomentumCandleMinPct {
		return true
	}
	return diag.ATR > 0 && bars[idx].Body() >= e.entry.MomentumCandleMinATR*diag.ATR
}

// qualifiesPullback checks for a retreat toward the pivot after the break
// followed by a re-cross on the current bar with either a reversal candle
// or a decisive move back through the level, while price is turning in the
// trade's direction.
func (e *Evaluator) qualifiesPullback(bars []models.Bar, breakIdx, idx int, pivot float64, side models.Side) bool {
	if !beyond(bars[idx].Close, pivot, side) {
		return false
	}

	tol := e.entry.PullbackTolerancePct / 100
	pulledBack := false
	for k := breakIdx + 1; k < idx; k++ {
		if side == models.SideLong {
			if bars[k].Low <= pivot*(1+tol) {
				pulledBack = true
				break
			}
		} else {
			if bars[k].High >= pivot*(1-tol) {
				pulledBack = true
				break
			}
		}
	}
	if !pulledBack {
		return false
	}

	// Price must be turning back in the trade's direction bar-over-bar.
	if side == models.SideLong {
		if bars[idx].Close <= bars[idx-1].Close {
			return false
		}
	} else if bars[idx].Close >= bars[idx-1].Close {
		return false
	}

	recross := e.entry.PullbackRecrossMinPct / 100
	decisive := false
	if side == models.SideLong {
		decisive = bars[idx].Close >= pivot*(1+recross)
	} else {
		decisive = bars[idx].Close <= pivot*(1-recross)
	}

	if !isReversalPattern(bars[idx-1], bars[idx], side) && !decisive {
		return false
	}

	// Looser volume requirement than the momentum path.
	vr, err := indicators.VolumeRatio(bars, idx, e.entry.VolumeLookbackBars)
	if err != nil {
		return false
	}
	return vr >= e.entry.PullbackVolumeThreshold
}

// qualifiesSustained confirms a break that has simply held beyond the pivot
// for enough consecutive bars, allowing dips no deeper than the pullback
// tolerance, without requiring any volume or candle spike.
func (e *Evaluator) qualifiesSustained(bars []models.Bar, breakIdx, idx int, pivot float64, side models.Side) bool {
	held := idx - breakIdx + 1
	if held < e.entry.SustainedHoldBars {
		return false
	}
	if !beyond(bars[idx].Close, pivot, side) {
		return false
	}

	tol := e.entry.PullbackTolerancePct / 100
	for k := breakIdx; k <= idx; k++ {
		if side == models.SideLong {
			if bars[k].Close < pivot*(1-tol) {
				return false
			}
		} else if bars[k].Close > pivot*(1+tol) {
			return false
		}
	}
	return true
}
