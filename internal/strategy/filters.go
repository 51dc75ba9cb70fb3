package strategy

import (
	"fmt"

	"breakout-trader-go/internal/indicators"
	"breakout-trader-go/internal/models"
)

// runFilters evaluates the full filter chain for a path candidate at
// bars[idx]. Every filter is evaluated for diagnostics even after a block;
// the first block in chain order decides the rejection reason.
func (e *Evaluator) runFilters(bars []models.Bar, idx int, side models.Side, target float64, diag *Diagnostics) (blockedFilter, reason string) {
	entry := bars[idx].Close

	diag.EntryPosition = e.entryPositionFilter(bars, idx, side, entry)
	diag.Choppy = e.choppyFilter(bars, idx)
	diag.DirectionalVolume = e.directionalVolumeFilter(bars[idx], side)
	diag.RoomToRun = e.roomToRunFilter(entry, target)
	diag.Stochastic = e.stochasticFilter(bars, idx, side)
	diag.CVD = e.cvdFilter(bars, idx, side)
	diag.Momentum = e.momentumIndicatorsFilter(bars, idx, side)

	switch {
	case diag.EntryPosition.Verdict.Blocked():
		return FilterEntryPosition, fmt.Sprintf(
			"chasing: entry at %.1f%% of trailing range (max %.1f%%)",
			diag.EntryPosition.PositionPct, diag.EntryPosition.MaxPct)
	case diag.Choppy.Verdict.Blocked():
		return FilterChoppy, fmt.Sprintf(
			"choppy market: trailing range %.4f below %.1fx ATR (%.4f)",
			diag.Choppy.RangeSpan, e.filters.ChoppyATRMultiplier, diag.Choppy.MinSpan)
	case diag.DirectionalVolume.Verdict.Blocked():
		return FilterDirectionalVolume, "volume on the wrong side: trigger bar closed against trade direction"
	case diag.RoomToRun.Verdict.Blocked():
		return FilterRoomToRun, fmt.Sprintf(
			"insufficient room to target: %.2f%% (min %.2f%%)",
			diag.RoomToRun.RoomPct, diag.RoomToRun.MinPct)
	case diag.Stochastic.Verdict.Blocked():
		return FilterStochastic, fmt.Sprintf(
			"stochastic %%K %.1f outside [%.1f, %.1f]",
			diag.Stochastic.K, diag.Stochastic.BandMin, diag.Stochastic.BandMax)
	case diag.CVD.Verdict.Blocked():
		return FilterCVD, fmt.Sprintf(
			"cvd imbalance %.3f below threshold %.3f in trade direction",
			diag.CVD.Imbalance, diag.CVD.Threshold)
	case diag.Momentum.Verdict.Blocked():
		want := "RSI > 50 and MACD hist > 0"
		if side == models.SideShort {
			want = "RSI < 50 and MACD hist < 0"
		}
		return FilterMomentum, fmt.Sprintf(
			"momentum misaligned: RSI %.1f, MACD hist %.4f (need %s)",
			diag.Momentum.RSI, diag.Momentum.MACDHist, want)
	}

	return "", ""
}

// entryPositionFilter rejects entries too close to the local extreme of the
// trailing range: above the max percentile for LONG, mirrored for SHORT.
// An entry exactly at the threshold passes.
func (e *Evaluator) entryPositionFilter(bars []models.Bar, idx int, side models.Side, entry float64) EntryPositionResult {
	res := EntryPositionResult{Enabled: e.filters.EntryPositionEnabled, MaxPct: e.filters.MaxEntryPositionPct}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}

	high, low, err := indicators.RangeHighLow(bars, idx, e.filters.PositionLookbackBars)
	if err != nil || high == low {
		res.Verdict = VerdictSkip
		return res
	}
	res.RangeHigh = high
	res.RangeLow = low

	if side == models.SideLong {
		res.PositionPct = (entry - low) / (high - low) * 100
	} else {
		res.PositionPct = (high - entry) / (high - low) * 100
	}

	if res.PositionPct > res.MaxPct {
		res.Verdict = VerdictBlock
	} else {
		res.Verdict = VerdictPass
	}
	return res
}

// choppyFilter rejects when the trailing range is strictly below the
// configured multiple of ATR. Equality passes.
func (e *Evaluator) choppyFilter(bars []models.Bar, idx int) ChoppyResult {
	res := ChoppyResult{Enabled: e.filters.ChoppyEnabled}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}

	high, low, err := indicators.RangeHighLow(bars, idx, e.filters.ChoppyLookbackBars)
	if err != nil {
		res.Verdict = VerdictSkip
		return res
	}
	atr, err := indicators.ATR(bars[:idx+1], e.entry.ATRPeriod)
	if err != nil {
		res.Verdict = VerdictSkip
		return res
	}

	res.RangeSpan = high - low
	res.ATR = atr
	res.MinSpan = e.filters.ChoppyATRMultiplier * atr

	if res.RangeSpan < res.MinSpan {
		res.Verdict = VerdictBlock
	} else {
		res.Verdict = VerdictPass
	}
	return res
}

// directionalVolumeFilter requires the triggering bar itself to close in the
// trade's direction.
func (e *Evaluator) directionalVolumeFilter(bar models.Bar, side models.Side) DirectionalVolumeResult {
	res := DirectionalVolumeResult{
		Enabled:  e.filters.DirectionalVolumeEnabled,
		BarOpen:  bar.Open,
		BarClose: bar.Close,
	}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}

	aligned := bar.IsBullish()
	if side == models.SideShort {
		aligned = bar.IsBearish()
	}
	if aligned {
		res.Verdict = VerdictPass
	} else {
		res.Verdict = VerdictBlock
	}
	return res
}

// roomToRunFilter rejects entries whose distance to the target is too small
// to be worth the stop risk. Skipped when no target is supplied.
func (e *Evaluator) roomToRunFilter(entry, target float64) RoomToRunResult {
	res := RoomToRunResult{
		Enabled: e.filters.RoomToRunEnabled,
		MinPct:  e.filters.MinRoomToTargetPct,
		Target:  target,
	}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}
	if target <= 0 || entry <= 0 {
		res.Verdict = VerdictSkip
		return res
	}

	room := target - entry
	if room < 0 {
		room = -room
	}
	res.RoomPct = room / entry * 100

	if res.RoomPct < res.MinPct {
		res.Verdict = VerdictBlock
	} else {
		res.Verdict = VerdictPass
	}
	return res
}

// stochasticFilter requires %K inside the configured band for the side. The
// SHORT band is the mirror of the LONG band.
func (e *Evaluator) stochasticFilter(bars []models.Bar, idx int, side models.Side) StochasticResult {
	res := StochasticResult{Enabled: e.filters.StochasticEnabled}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}

	k, err := indicators.StochasticK(bars[:idx+1], e.filters.StochasticKPeriod)
	if err != nil {
		res.Verdict = VerdictSkip
		return res
	}
	res.K = k

	if side == models.SideLong {
		res.BandMin = e.filters.StochasticLongMin
		res.BandMax = e.filters.StochasticLongMax
	} else {
		res.BandMin = 100 - e.filters.StochasticLongMax
		res.BandMax = 100 - e.filters.StochasticLongMin
	}

	if k < res.BandMin || k > res.BandMax {
		res.Verdict = VerdictBlock
	} else {
		res.Verdict = VerdictPass
	}
	return res
}

// cvdFilter requires the buy/sell volume imbalance to exceed the threshold
// in the trade's direction.
func (e *Evaluator) cvdFilter(bars []models.Bar, idx int, side models.Side) CVDResult {
	res := CVDResult{Enabled: e.filters.CVDEnabled, Threshold: e.filters.CVDImbalanceThreshold}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}

	imbalance, err := indicators.CVD(bars[:idx+1], e.filters.CVDLookbackBars)
	if err != nil {
		res.Verdict = VerdictSkip
		return res
	}
	res.Imbalance = imbalance

	ok := imbalance >= res.Threshold
	if side == models.SideShort {
		ok = imbalance <= -res.Threshold
	}
	if ok {
		res.Verdict = VerdictPass
	} else {
		res.Verdict = VerdictBlock
	}
	return res
}

// momentumIndicatorsFilter requires RSI and MACD to both align with the
// trade direction.
func (e *Evaluator) momentumIndicatorsFilter(bars []models.Bar, idx int, side models.Side) MomentumIndicatorsResult {
	res := MomentumIndicatorsResult{Enabled: e.filters.MomentumIndicatorsEnabled}
	if !res.Enabled {
		res.Verdict = VerdictDisabled
		return res
	}

	closes := make([]float64, idx+1)
	for i := 0; i <= idx; i++ {
		closes[i] = bars[i].Close
	}

	rsi, err := indicators.RSI(closes, e.filters.RSIPeriod)
	if err != nil {
		res.Verdict = VerdictSkip
		return res
	}
	_, _, hist, err := indicators.MACD(closes, 12, 26, 9)
	if err != nil {
		res.Verdict = VerdictSkip
		return res
	}
	res.RSI = rsi
	res.MACDHist = hist

	aligned := rsi > 50 && hist > 0
	if side == models.SideShort {
		aligned = rsi < 50 && hist < 0
	}
	if aligned {
		res.Verdict = VerdictPass
	} else {
		res.Verdict = VerdictBlock
	}
	return res
}
