package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"breakout-trader-go/internal/models"
)

// recordingJournal captures closed trades handed to the journal.
type recordingJournal struct {
	trades []*models.ClosedTrade
}

func (j *recordingJournal) RecordClose(trade *models.ClosedTrade) error {
	j.trades = append(j.trades, trade)
	return nil
}

func newTestManager() (*Manager, *recordingJournal) {
	journal := &recordingJournal{}
	return NewManager(journal, zap.NewNop()), journal
}

func TestCreatePosition(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m, _ := newTestManager()

		p, err := m.CreatePosition("TSLA", models.SideLong, 250.0, 100, 249.5, 255.0, 260.0)

		require.NoError(t, err)
		assert.Equal(t, 1.0, p.Remaining)
		assert.Equal(t, 250.0, p.Highest, "LONG seeds the highest-price tracker")
		assert.Zero(t, p.Lowest, "LONG must not track a lowest price")
	})

	t.Run("ShortTracksLowestOnly", func(t *testing.T) {
		m, _ := newTestManager()

		p, err := m.CreatePosition("TSLA", models.SideShort, 250.0, 100, 250.5, 245.0, 0)

		require.NoError(t, err)
		assert.Equal(t, 250.0, p.Lowest)
		assert.Zero(t, p.Highest)
	})

	t.Run("DuplicateFails", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.CreatePosition("TSLA", models.SideLong, 250.0, 100, 249.5, 255.0, 260.0)
		require.NoError(t, err)

		_, err = m.CreatePosition("TSLA", models.SideLong, 251.0, 100, 249.5, 255.0, 260.0)

		assert.ErrorIs(t, err, ErrPositionExists)
	})
}

func TestTakePartial(t *testing.T) {
	t.Run("RemainingTracksSumOfPartials", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
		require.NoError(t, err)

		exit1, err := m.TakePartial("TSLA", 102.0, 0.5, "target1")
		require.NoError(t, err)
		exit2, err := m.TakePartial("TSLA", 104.0, 0.25, "target2")
		require.NoError(t, err)

		p, ok := m.GetPosition("TSLA")
		require.True(t, ok)
		assert.InDelta(t, 0.25, p.Remaining, 1e-9)
		assert.Equal(t, 2.0, exit1.Gain)
		assert.Equal(t, 4.0, exit2.Gain)
	})

	t.Run("ShortGainIsSignAdjusted", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.CreatePosition("TSLA", models.SideShort, 100.0, 100, 100.5, 97.0, 0)
		require.NoError(t, err)

		exit, err := m.TakePartial("TSLA", 97.0, 0.5, "target1")

		require.NoError(t, err)
		assert.Equal(t, 3.0, exit.Gain)
	})

	t.Run("OverAllocationRejected", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
		require.NoError(t, err)
		_, err = m.TakePartial("TSLA", 102.0, 0.8, "target1")
		require.NoError(t, err)

		_, err = m.TakePartial("TSLA", 104.0, 0.3, "target2")

		assert.ErrorIs(t, err, ErrOverAllocated)
		p, _ := m.GetPosition("TSLA")
		assert.InDelta(t, 0.2, p.Remaining, 1e-9, "a rejected partial must not mutate the position")
	})

	t.Run("UnknownSymbolFails", func(t *testing.T) {
		m, _ := newTestManager()

		_, err := m.TakePartial("NVDA", 100.0, 0.5, "target1")

		assert.ErrorIs(t, err, ErrNoPosition)
	})
}

func TestCalculatePnL(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
	require.NoError(t, err)

	// Realized: 50 shares at +2 = 100. Unrealized at 103: 50 shares at +3 = 150.
	_, err = m.TakePartial("TSLA", 102.0, 0.5, "target1")
	require.NoError(t, err)

	p, ok := m.GetPosition("TSLA")
	require.True(t, ok)
	assert.InDelta(t, 250.0, CalculatePnL(&p, 103.0), 1e-9)
}

func TestClosePosition(t *testing.T) {
	t.Run("ComputesTotalPnLAndJournals", func(t *testing.T) {
		m, journal := newTestManager()
		_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
		require.NoError(t, err)
		_, err = m.TakePartial("TSLA", 102.0, 0.5, "target1")
		require.NoError(t, err)

		trade, err := m.ClosePosition("TSLA", 103.0, "trailing_stop")

		require.NoError(t, err)
		assert.InDelta(t, 250.0, trade.PnL, 1e-9)
		assert.Equal(t, "trailing_stop", trade.ExitReason)
		require.Len(t, journal.trades, 1)
		assert.Equal(t, trade.PnL, journal.trades[0].PnL)

		_, ok := m.GetPosition("TSLA")
		assert.False(t, ok, "closed position must leave the open set")
	})

	t.Run("IncrementsAttemptCounterWinOrLose", func(t *testing.T) {
		m, _ := newTestManager()

		// Losing attempt.
		_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
		require.NoError(t, err)
		_, err = m.ClosePosition("TSLA", 99.0, "stop_loss")
		require.NoError(t, err)

		// Winning attempt at the same level.
		_, err = m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
		require.NoError(t, err)
		_, err = m.ClosePosition("TSLA", 102.0, "target1")
		require.NoError(t, err)

		assert.Equal(t, 2, m.GetAttemptCount("TSLA", 99.5))
	})

	t.Run("AttemptCounterRoundsPivot", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.503, 102.0, 104.0)
		require.NoError(t, err)
		_, err = m.ClosePosition("TSLA", 99.0, "stop_loss")
		require.NoError(t, err)

		assert.Equal(t, 1, m.GetAttemptCount("TSLA", 99.5009), "nearby pivots share a counter")
	})
}

func TestGetDailySummary(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
	require.NoError(t, err)
	_, err = m.ClosePosition("TSLA", 102.0, "target1")
	require.NoError(t, err)

	_, err = m.CreatePosition("NVDA", models.SideLong, 200.0, 50, 199.5, 204.0, 208.0)
	require.NoError(t, err)
	_, err = m.ClosePosition("NVDA", 198.0, "stop_loss")
	require.NoError(t, err)

	s := m.GetDailySummary()

	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.Winners)
	assert.Equal(t, 1, s.Losers)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 100.0, s.DailyPnL, 1e-9) // +200 on TSLA, -100 on NVDA
}

func TestUpdateExtremes(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
	require.NoError(t, err)

	m.UpdateExtremes("TSLA", 103.0)
	m.UpdateExtremes("TSLA", 101.0) // retrace must not lower the tracker

	p, _ := m.GetPosition("TSLA")
	assert.Equal(t, 103.0, p.Highest)
}

func TestExportIsDeepCopy(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
	require.NoError(t, err)
	_, err = m.TakePartial("TSLA", 102.0, 0.5, "target1")
	require.NoError(t, err)
	m.RecordBlock("choppy")
	m.RecordPath("momentum")

	positions, attempts, analytics := m.Export()

	// Mutating the export must not leak back into the manager.
	positions["TSLA"].Remaining = 0
	positions["TSLA"].Partials[0].Pct = 0.9
	attempts["TSLA@99.50"] = 42
	analytics.FilterBlockCount["choppy"] = 42

	p, _ := m.GetPosition("TSLA")
	assert.InDelta(t, 0.5, p.Remaining, 1e-9)
	assert.InDelta(t, 0.5, p.Partials[0].Pct, 1e-9)
	assert.Equal(t, 0, m.GetAttemptCount("TSLA", 99.5))
	_, _, analytics2 := m.Export()
	assert.Equal(t, 1, analytics2.FilterBlockCount["choppy"])
	assert.Equal(t, 1, analytics2.EntryPathCount["momentum"])
}

func TestCloseRecordsDuration(t *testing.T) {
	m, _ := newTestManager()
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	_, err := m.CreatePosition("TSLA", models.SideLong, 100.0, 100, 99.5, 102.0, 104.0)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(45 * time.Minute) }
	trade, err := m.ClosePosition("TSLA", 102.0, "target1")

	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, trade.Duration)
}
