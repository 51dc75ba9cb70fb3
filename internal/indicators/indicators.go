// Package indicators provides pure technical-indicator calculations over bar
// sequences. Nothing in this package holds state or touches I/O.
package indicators

import (
	"errors"
	"math"

	"breakout-trader-go/internal/models"
)

// ErrInsufficientData is returned when a bar window is too short for the
// requested period.
var ErrInsufficientData = errors.New("not enough data points")

// ATR computes the Average True Range over the given bars using Wilder's
// smoothing method. Requires at least period+1 bars.
func ATR(bars []models.Bar, period int) (float64, error) {
	if len(bars) < period+1 {
		return 0, ErrInsufficientData
	}

	trueRanges := make([]float64, len(bars))
	trueRanges[0] = bars[0].High - bars[0].Low

	for i := 1; i < len(bars); i++ {
		high := bars[i].High
		low := bars[i].Low
		prevClose := bars[i-1].Close

		tr := high - low
		if d := math.Abs(high - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(low - prevClose); d > tr {
			tr = d
		}
		trueRanges[i] = tr
	}

	// Seed with a simple average, then apply Wilder smoothing.
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}

// RSI computes the Relative Strength Index of the closing prices using
// Wilder's smoothing. Requires at least period+1 closes.
func RSI(closes []float64, period int) (float64, error) {
	if len(closes) <= period {
		return 0, ErrInsufficientData
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - change) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil // flat tape
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// EMA computes the exponential moving average of the values, seeded with a
// simple average over the first period values.
func EMA(values []float64, period int) (float64, error) {
	if len(values) < period {
		return 0, ErrInsufficientData
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
	}

	return ema, nil
}

// MACD computes the MACD line (fast EMA minus slow EMA), its signal line and
// the histogram.
func MACD(closes []float64, fast, slow, signalPeriod int) (macd, signal, histogram float64, err error) {
	if len(closes) < slow+signalPeriod {
		return 0, 0, 0, ErrInsufficientData
	}

	// Build the MACD series over the tail so the signal EMA has history.
	macdSeries := make([]float64, 0, signalPeriod+1)
	for i := len(closes) - signalPeriod - 1; i < len(closes); i++ {
		window := closes[:i+1]
		emaFast, e1 := EMA(window, fast)
		emaSlow, e2 := EMA(window, slow)
		if e1 != nil || e2 != nil {
			return 0, 0, 0, ErrInsufficientData
		}
		macdSeries = append(macdSeries, emaFast-emaSlow)
	}

	macd = macdSeries[len(macdSeries)-1]
	signal, err = EMA(macdSeries, signalPeriod)
	if err != nil {
		return 0, 0, 0, err
	}
	return macd, signal, macd - signal, nil
}

// StochasticK computes the %K value of the stochastic oscillator over the
// trailing kPeriod bars.
func StochasticK(bars []models.Bar, kPeriod int) (float64, error) {
	if len(bars) < kPeriod {
		return 0, ErrInsufficientData
	}

	window := bars[len(bars)-kPeriod:]
	highest := window[0].High
	lowest := window[0].Low
	for _, b := range window[1:] {
		if b.High > highest {
			highest = b.High
		}
		if b.Low < lowest {
			lowest = b.Low
		}
	}

	if highest == lowest {
		return 50, nil
	}
	last := window[len(window)-1].Close
	return (last - lowest) / (highest - lowest) * 100, nil
}

// AvgVolume returns the average volume of the n bars strictly before index i.
func AvgVolume(bars []models.Bar, i, n int) (float64, error) {
	if i < n {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for j := i - n; j < i; j++ {
		sum += bars[j].Volume
	}
	return sum / float64(n), nil
}

// VolumeRatio returns the bar's volume relative to the trailing n-bar
// average volume.
func VolumeRatio(bars []models.Bar, i, n int) (float64, error) {
	avg, err := AvgVolume(bars, i, n)
	if err != nil {
		return 0, err
	}
	if avg == 0 {
		return 0, nil
	}
	return bars[i].Volume / avg, nil
}

// CVD approximates cumulative volume delta over the trailing lookback bars:
// volume on up-closing bars counts as buy-initiated, down-closing bars as
// sell-initiated. The result is normalized to [-1, 1] by total volume.
func CVD(bars []models.Bar, lookback int) (float64, error) {
	if len(bars) < lookback {
		return 0, ErrInsufficientData
	}

	var delta, total float64
	for _, b := range bars[len(bars)-lookback:] {
		total += b.Volume
		switch {
		case b.IsBullish():
			delta += b.Volume
		case b.IsBearish():
			delta -= b.Volume
		}
	}

	if total == 0 {
		return 0, nil
	}
	return delta / total, nil
}

// RangeHighLow returns the highest high and lowest low of the trailing n
// bars ending at index i inclusive.
func RangeHighLow(bars []models.Bar, i, n int) (high, low float64, err error) {
	if i+1 < n || i >= len(bars) {
		return 0, 0, ErrInsufficientData
	}
	window := bars[i+1-n : i+1]
	high = window[0].High
	low = window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low, nil
}
