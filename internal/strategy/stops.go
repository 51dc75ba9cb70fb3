package strategy

import "breakout-trader-go/internal/models"

// atrStopBucket maps an ATR-as-percent-of-price ceiling to a stop width in
// percent. Buckets are scanned in order; the last entry is the catch-all.
type atrStopBucket struct {
	maxATRPct    float64
	stopWidthPct float64
}

var atrStopTable = []atrStopBucket{
	{maxATRPct: 0.5, stopWidthPct: 0.75},
	{maxATRPct: 1.0, stopWidthPct: 1.0},
	{maxATRPct: 2.0, stopWidthPct: 1.5},
	{maxATRPct: 3.0, stopWidthPct: 2.0},
	{maxATRPct: 0, stopWidthPct: 2.5},
}

// CalculateStop derives the protective stop price for a freshly-opened
// position using the configured policy.
//
// The "candle" policy anchors the stop at the extreme of the most recent
// opposite-colored candle before entry (its low for LONG, its high for
// SHORT) and falls back to the pivot when the lookback holds no
// opposite-colored candle. The "atr" policy offsets the entry by a stop
// width scaled from ATR-percent via a fixed bucket table.
func (e *Evaluator) CalculateStop(side models.Side, entryPrice, pivot float64, bars []models.Bar, entryIdx int) float64 {
	if e.stops.Policy == "atr" {
		return e.atrStop(side, entryPrice, bars, entryIdx)
	}
	return e.candleStop(side, pivot, bars, entryIdx)
}

func (e *Evaluator) candleStop(side models.Side, pivot float64, bars []models.Bar, entryIdx int) float64 {
	start := entryIdx - e.stops.LookbackBars
	if start < 0 {
		start = 0
	}
	for j := entryIdx - 1; j >= start; j-- {
		if side == models.SideLong && bars[j].IsBearish() {
			return bars[j].Low
		}
		if side == models.SideShort && bars[j].IsBullish() {
			return bars[j].High
		}
	}
	return pivot
}

func (e *Evaluator) atrStop(side models.Side, entryPrice float64, bars []models.Bar, entryIdx int) float64 {
	var diag Diagnostics
	e.fillBarStats(bars, entryIdx, &diag)

	atrPct := 0.0
	if entryPrice > 0 {
		atrPct = diag.ATR / entryPrice * 100
	}

	width := atrStopTable[len(atrStopTable)-1].stopWidthPct
	for _, b := range atrStopTable[:len(atrStopTable)-1] {
		if atrPct < b.maxATRPct {
			width = b.stopWidthPct
			break
		}
	}

	if side == models.SideLong {
		return entryPrice * (1 - width/100)
	}
	return entryPrice * (1 + width/100)
}
