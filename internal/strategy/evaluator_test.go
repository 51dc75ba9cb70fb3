package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"breakout-trader-go/internal/config"
	"breakout-trader-go/internal/models"
)

const testPivot = 101.0

func testConfig() *config.Config {
	return &config.Config{
		Entry: config.Entry{
			MomentumVolumeThreshold: 1.3,
			MomentumCandleMinPct:    0.5,
			MomentumCandleMinATR:    1.2,
			PullbackTolerancePct:    0.3,
			PullbackVolumeThreshold: 1.1,
			PullbackRecrossMinPct:   0.5,
			SustainedHoldBars:       6,
			ObservationWindowBars:   30,
			VolumeLookbackBars:      20,
			ATRPeriod:               14,
		},
		Filters: config.Filters{
			EntryPositionEnabled:     true,
			MaxEntryPositionPct:      70,
			PositionLookbackBars:     40,
			DirectionalVolumeEnabled: true,
			ChoppyEnabled:            true,
			ChoppyLookbackBars:       30,
			ChoppyATRMultiplier:      1.0,
			RoomToRunEnabled:         true,
			MinRoomToTargetPct:       0.5,
		},
		Stops: config.Stops{Policy: "candle", LookbackBars: 10},
	}
}

func testEvaluator(mutate func(*config.Config)) *Evaluator {
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewEvaluator(cfg, zap.NewNop())
}

// baseBars builds n quiet, mildly bullish bars below the test pivot.
func baseBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{Open: 100.0, High: 100.8, Low: 99.4, Close: 100.3, Volume: 1000}
	}
	return bars
}

// addSpike widens the trailing range with an earlier high so that a
// breakout entry does not sit at the very top of its lookback window.
func addSpike(bars []models.Bar, from, to int) {
	for i := from; i <= to; i++ {
		bars[i].High = 106.0
	}
}

// breakoutBar is a strong momentum candle closing through the pivot.
func breakoutBar(volume float64) models.Bar {
	return models.Bar{Open: 100.3, High: 102.0, Low: 100.2, Close: 101.9, Volume: volume}
}

func TestEvaluateMomentumPath(t *testing.T) {
	t.Run("StrongBreakConfirms", func(t *testing.T) {
		// Arrange: 1.4x volume, 1.6% candle, entry ~38% of trailing range.
		bars := baseBars(60)
		addSpike(bars, 22, 26)
		bars[59] = breakoutBar(1400)
		e := testEvaluator(nil)

		// Act
		d := e.Evaluate(bars, 59, testPivot, models.SideLong, 103.0, "TSLA")

		// Assert
		require.True(t, d.Confirmed, "reason: %s", d.Reason)
		assert.Equal(t, PathMomentum, d.Path)
		assert.Equal(t, VerdictPass, d.Diagnostics.EntryPosition.Verdict)
		assert.Equal(t, VerdictPass, d.Diagnostics.Choppy.Verdict)
		assert.Equal(t, VerdictPass, d.Diagnostics.DirectionalVolume.Verdict)
		assert.Equal(t, VerdictPass, d.Diagnostics.RoomToRun.Verdict)
		assert.InDelta(t, 1.4, d.Diagnostics.VolumeRatio, 1e-9)
	})

	t.Run("WeakVolumeWaits", func(t *testing.T) {
		bars := baseBars(60)
		addSpike(bars, 22, 26)
		bars[59] = breakoutBar(1000) // 1.0x average, below momentum threshold

		d := testEvaluator(nil).Evaluate(bars, 59, testPivot, models.SideLong, 103.0, "TSLA")

		assert.False(t, d.Confirmed)
		assert.Equal(t, ReasonAwaiting, d.Reason)
	})

	t.Run("ChasingBlocks", func(t *testing.T) {
		// Same breakout, but without the earlier spike the entry lands at
		// ~96% of the trailing range.
		bars := baseBars(60)
		bars[59] = breakoutBar(1400)

		d := testEvaluator(nil).Evaluate(bars, 59, testPivot, models.SideLong, 103.0, "TSLA")

		assert.False(t, d.Confirmed)
		assert.Equal(t, FilterEntryPosition, d.BlockedFilter)
		assert.Contains(t, d.Reason, "chasing")
	})
}

func TestEvaluatePullbackPath(t *testing.T) {
	// Arrange: weak break at 60, dip back toward the pivot, then a decisive
	// re-cross with above-average volume.
	bars := baseBars(70)
	addSpike(bars, 30, 34)
	bars[60] = breakoutBar(1000)
	bars[61] = models.Bar{Open: 101.8, High: 101.9, Low: 101.2, Close: 101.35, Volume: 900}
	bars[62] = models.Bar{Open: 101.35, High: 101.5, Low: 101.25, Close: 101.4, Volume: 900}
	bars[63] = models.Bar{Open: 101.4, High: 101.7, Low: 101.3, Close: 101.6, Volume: 1200}

	// Act
	d := testEvaluator(nil).Evaluate(bars[:64], 63, testPivot, models.SideLong, 103.0, "TSLA")

	// Assert
	require.True(t, d.Confirmed, "reason: %s", d.Reason)
	assert.Equal(t, PathPullback, d.Path)
}

func TestEvaluateSustainedPath(t *testing.T) {
	// Arrange: weak break at 60, then price simply holds above the pivot
	// for the required number of bars with no volume spike.
	bars := baseBars(70)
	addSpike(bars, 30, 34)
	bars[60] = breakoutBar(1000)
	for i := 61; i <= 66; i++ {
		bars[i] = models.Bar{Open: 101.7, High: 102.0, Low: 101.4, Close: 101.9, Volume: 950}
	}

	d := testEvaluator(nil).Evaluate(bars[:67], 66, testPivot, models.SideLong, 103.0, "TSLA")

	require.True(t, d.Confirmed, "reason: %s", d.Reason)
	assert.Equal(t, PathSustained, d.Path)
}

func TestEvaluateWindowExpiry(t *testing.T) {
	// Arrange: the break bar is a full observation window behind the
	// current bar and nothing qualified meanwhile.
	bars := baseBars(95)
	bars[60] = breakoutBar(1000)
	for i := 61; i <= 90; i++ {
		bars[i] = models.Bar{Open: 101.0, High: 101.2, Low: 100.8, Close: 101.0, Volume: 950}
	}

	d := testEvaluator(nil).Evaluate(bars[:91], 90, testPivot, models.SideLong, 103.0, "TSLA")

	assert.False(t, d.Confirmed)
	assert.Equal(t, ReasonNoPathQualified, d.Reason)
}

func TestEvaluateNoBreakout(t *testing.T) {
	bars := baseBars(60)

	d := testEvaluator(nil).Evaluate(bars, 59, testPivot, models.SideLong, 103.0, "TSLA")

	assert.False(t, d.Confirmed)
	assert.Equal(t, ReasonNoBreakout, d.Reason)
}

func TestEvaluateDoesNotMutateBars(t *testing.T) {
	bars := baseBars(60)
	addSpike(bars, 22, 26)
	bars[59] = breakoutBar(1400)
	snapshot := make([]models.Bar, len(bars))
	copy(snapshot, bars)

	testEvaluator(nil).Evaluate(bars, 59, testPivot, models.SideLong, 103.0, "TSLA")

	assert.Equal(t, snapshot, bars)
}

func TestEntryPositionFilterBoundary(t *testing.T) {
	e := testEvaluator(nil)
	bars := make([]models.Bar, 41)
	for i := range bars {
		bars[i] = models.Bar{Open: 105, High: 110, Low: 100, Close: 105, Volume: 1000}
	}

	t.Run("ExactlyAtThresholdPasses", func(t *testing.T) {
		res := e.entryPositionFilter(bars, 40, models.SideLong, 107.0) // 70.0% of range

		assert.Equal(t, VerdictPass, res.Verdict)
		assert.InDelta(t, 70.0, res.PositionPct, 1e-9)
	})

	t.Run("JustAboveThresholdBlocks", func(t *testing.T) {
		res := e.entryPositionFilter(bars, 40, models.SideLong, 107.01) // 70.1%

		assert.Equal(t, VerdictBlock, res.Verdict)
	})

	t.Run("ShortMirrorsNearLow", func(t *testing.T) {
		// SHORT entry near the local low is chasing in the other direction.
		res := e.entryPositionFilter(bars, 40, models.SideShort, 102.99) // 70.1% from high

		assert.Equal(t, VerdictBlock, res.Verdict)
	})

	t.Run("InsufficientHistorySkips", func(t *testing.T) {
		res := e.entryPositionFilter(bars[:10], 9, models.SideLong, 107.0)

		assert.Equal(t, VerdictSkip, res.Verdict)
	})
}

func TestChoppyFilterBoundary(t *testing.T) {
	// Identical bars make both the trailing range and the ATR exactly 1.0.
	bars := make([]models.Bar, 40)
	for i := range bars {
		bars[i] = models.Bar{Open: 100.5, High: 101, Low: 100, Close: 100.5, Volume: 1000}
	}

	t.Run("RangeEqualToThresholdPasses", func(t *testing.T) {
		res := testEvaluator(nil).choppyFilter(bars, 39)

		assert.Equal(t, VerdictPass, res.Verdict)
		assert.InDelta(t, res.MinSpan, res.RangeSpan, 1e-9)
	})

	t.Run("RangeBelowThresholdBlocks", func(t *testing.T) {
		e := testEvaluator(func(c *config.Config) { c.Filters.ChoppyATRMultiplier = 1.01 })

		res := e.choppyFilter(bars, 39)

		assert.Equal(t, VerdictBlock, res.Verdict)
	})
}

func TestDirectionalVolumeFilter(t *testing.T) {
	e := testEvaluator(nil)

	t.Run("RedBarBlocksLong", func(t *testing.T) {
		bar := models.Bar{Open: 102, High: 102.5, Low: 101, Close: 101.2, Volume: 5000}

		res := e.directionalVolumeFilter(bar, models.SideLong)

		assert.Equal(t, VerdictBlock, res.Verdict)
	})

	t.Run("GreenBarBlocksShort", func(t *testing.T) {
		bar := models.Bar{Open: 101, High: 102.5, Low: 100.8, Close: 102.2, Volume: 5000}

		res := e.directionalVolumeFilter(bar, models.SideShort)

		assert.Equal(t, VerdictBlock, res.Verdict)
	})

	t.Run("GreenBarPassesLong", func(t *testing.T) {
		bar := models.Bar{Open: 101, High: 102.5, Low: 100.8, Close: 102.2, Volume: 5000}

		res := e.directionalVolumeFilter(bar, models.SideLong)

		assert.Equal(t, VerdictPass, res.Verdict)
	})
}

func TestRoomToRunFilter(t *testing.T) {
	e := testEvaluator(nil)

	t.Run("NoTargetSkips", func(t *testing.T) {
		res := e.roomToRunFilter(100, 0)
		assert.Equal(t, VerdictSkip, res.Verdict)
	})

	t.Run("TightTargetBlocks", func(t *testing.T) {
		res := e.roomToRunFilter(100, 100.2) // 0.2% room, min 0.5%
		assert.Equal(t, VerdictBlock, res.Verdict)
	})

	t.Run("WideTargetPasses", func(t *testing.T) {
		res := e.roomToRunFilter(100, 102)
		assert.Equal(t, VerdictPass, res.Verdict)
	})
}

func TestCalculateStop(t *testing.T) {
	t.Run("CandlePolicyUsesOppositeColoredLow", func(t *testing.T) {
		bars := baseBars(60)
		bars[57] = models.Bar{Open: 100.5, High: 100.7, Low: 99.1, Close: 100.0, Volume: 1000}
		bars[59] = breakoutBar(1400)
		e := testEvaluator(nil)

		stop := e.CalculateStop(models.SideLong, 101.9, testPivot, bars, 59)

		assert.Equal(t, 99.1, stop)
	})

	t.Run("CandlePolicyFallsBackToPivot", func(t *testing.T) {
		// Every lookback bar is bullish, so there is no opposite-colored
		// candle to anchor on.
		bars := baseBars(60)
		bars[59] = breakoutBar(1400)
		e := testEvaluator(nil)

		stop := e.CalculateStop(models.SideLong, 101.9, testPivot, bars, 59)

		assert.Equal(t, testPivot, stop)
	})

	t.Run("CandlePolicyShortUsesBullishHigh", func(t *testing.T) {
		bars := baseBars(60) // base bars are bullish with high 100.8
		e := testEvaluator(nil)

		stop := e.CalculateStop(models.SideShort, 99.0, 99.5, bars, 59)

		assert.Equal(t, 100.8, stop)
	})

	t.Run("ATRPolicyUsesBucketTable", func(t *testing.T) {
		// ATR of 1.0 on a 100 entry is 1.0% which lands in the 1.5% bucket.
		bars := make([]models.Bar, 40)
		for i := range bars {
			bars[i] = models.Bar{Open: 100.5, High: 101, Low: 100, Close: 100.5, Volume: 1000}
		}
		e := testEvaluator(func(c *config.Config) { c.Stops.Policy = "atr" })

		stop := e.CalculateStop(models.SideLong, 100.0, testPivot, bars, 39)

		assert.InDelta(t, 98.5, stop, 1e-9)
	})
}
