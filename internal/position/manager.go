// Package position owns the lifecycle of open positions, per-level attempt
// counters and the session's running analytics. All shared state lives
// behind one mutex; the manager never talks to the gateway itself.
package position

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"breakout-trader-go/internal/models"
)

var (
	// ErrPositionExists is returned when a position for the symbol is
	// already open.
	ErrPositionExists = errors.New("position already exists for symbol")

	// ErrNoPosition is returned when no open position exists for the symbol.
	ErrNoPosition = errors.New("no open position for symbol")

	// ErrOverAllocated is returned when a partial exit would take more than
	// the remaining fraction of the position.
	ErrOverAllocated = errors.New("partial exit exceeds remaining position")
)

// Journal receives every closed trade for durable record-keeping. The
// manager tolerates a nil journal.
type Journal interface {
	RecordClose(trade *models.ClosedTrade) error
}

// Manager is the single owner of all open positions and attempt counters.
// It is safe for concurrent use by the per-symbol workers and the state
// saver.
type Manager struct {
	mu        sync.Mutex
	positions map[string]*models.Position
	attempts  map[string]int
	analytics *models.DailyAnalytics
	journal   Journal
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates an empty position manager.
func NewManager(journal Journal, logger *zap.Logger) *Manager {
	return &Manager{
		positions: make(map[string]*models.Position),
		attempts:  make(map[string]int),
		analytics: models.NewDailyAnalytics(),
		journal:   journal,
		logger:    logger.Named("position-manager"),
		now:       time.Now,
	}
}

// attemptKey buckets attempt counters by symbol and pivot rounded to cents,
// so re-tests of the same level share a counter across small float noise.
func attemptKey(symbol string, pivot float64) string {
	return fmt.Sprintf("%s@%.2f", symbol, math.Round(pivot*100)/100)
}

// CreatePosition opens a new position for the symbol. Fails when one
// already exists. The favorable-excursion tracker is seeded single-sided:
// LONG tracks only its highest price, SHORT only its lowest.
func (m *Manager) CreatePosition(symbol string, side models.Side, entryPrice float64, shares int, pivot, target1, target2 float64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[symbol]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	p := &models.Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		EntryTime:  m.now(),
		Shares:     shares,
		Remaining:  1.0,
		Pivot:      pivot,
		Target1:    target1,
		Target2:    target2,
	}
	if p.IsLong() {
		p.Highest = entryPrice
	} else {
		p.Lowest = entryPrice
	}

	m.positions[symbol] = p
	m.logger.Info("Position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("entry", entryPrice),
		zap.Int("shares", shares),
		zap.Float64("pivot", pivot),
	)
	return p, nil
}

// RestorePosition re-inserts a position reconstructed during crash
// recovery, replacing any same-symbol entry.
func (m *Manager) RestorePosition(p *models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// GetPosition returns a copy of the open position for the symbol.
func (m *Manager) GetPosition(symbol string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// OpenPositions returns copies of all open positions keyed by symbol.
func (m *Manager) OpenPositions() map[string]models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Position, len(m.positions))
	for sym, p := range m.positions {
		out[sym] = *p
	}
	return out
}

// UpdateExtremes advances the favorable-excursion tracker for the symbol.
func (m *Manager) UpdateExtremes(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		p.UpdateExtremes(price)
	}
}

// SetStopOrder records the resting protective order protecting the position.
func (m *Manager) SetStopOrder(symbol, orderID string, stopPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		p.StopOrderID = orderID
		p.StopPrice = stopPrice
	}
}

// SetEntryPath tags the position with the entry path that confirmed it.
func (m *Manager) SetEntryPath(symbol, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		p.EntryPath = path
	}
}

// TakePartial records a partial exit of pct of the original size at the
// given price. Exits that would push the remaining fraction negative are
// rejected outright.
func (m *Manager) TakePartial(symbol string, price, pct float64, reason string) (models.PartialExit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return models.PartialExit{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if pct > p.Remaining {
		return models.PartialExit{}, fmt.Errorf("%w: requested %.2f, remaining %.2f", ErrOverAllocated, pct, p.Remaining)
	}

	exit := models.PartialExit{
		Price:     price,
		Pct:       pct,
		Gain:      p.GainPerShare(price),
		Reason:    reason,
		Timestamp: m.now(),
	}
	p.Partials = append(p.Partials, exit)
	p.Remaining -= pct

	m.logger.Info("Partial exit taken",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("pct", pct),
		zap.Float64("gain_per_share", exit.Gain),
		zap.Float64("remaining", p.Remaining),
		zap.String("reason", reason),
	)
	return exit, nil
}

// CalculatePnL values the position at exitPrice: realized gain on every
// recorded partial plus unrealized gain on the still-open fraction.
func CalculatePnL(p *models.Position, exitPrice float64) float64 {
	pnl := 0.0
	for _, partial := range p.Partials {
		pnl += partial.Gain * partial.Pct * float64(p.Shares)
	}
	pnl += p.GainPerShare(exitPrice) * p.Remaining * float64(p.Shares)
	return pnl
}

// ClosePosition fully exits the position at exitPrice, folds the trade into
// the daily analytics, bumps the attempt counter for its pivot level and
// hands the closed trade to the journal.
func (m *Manager) ClosePosition(symbol string, exitPrice float64, reason string) (*models.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	now := m.now()
	trade := &models.ClosedTrade{
		Position:   *p,
		ExitPrice:  exitPrice,
		ExitTime:   now,
		ExitReason: reason,
		Duration:   now.Sub(p.EntryTime),
		PnL:        CalculatePnL(p, exitPrice),
	}

	delete(m.positions, symbol)

	// Every close counts against the level, win or lose: the whipsaw guard
	// caps re-entries at a pivot that keeps failing regardless of outcome.
	m.attempts[attemptKey(symbol, p.Pivot)]++

	m.analytics.TotalTrades++
	m.analytics.DailyPnL += trade.PnL
	if trade.PnL >= 0 {
		m.analytics.Winners++
	} else {
		m.analytics.Losers++
	}

	if m.journal != nil {
		if err := m.journal.RecordClose(trade); err != nil {
			m.logger.Error("Failed to journal closed trade", zap.Error(err), zap.String("symbol", symbol))
		}
	}

	m.logger.Info("Position closed",
		zap.String("symbol", symbol),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", trade.PnL),
		zap.Duration("duration", trade.Duration),
		zap.String("reason", reason),
	)
	return trade, nil
}

// GetAttemptCount returns how many times a position at this level has
// already been closed today.
func (m *Manager) GetAttemptCount(symbol string, pivot float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[attemptKey(symbol, pivot)]
}

// RecordBlock counts a filter block for the session analytics.
func (m *Manager) RecordBlock(filter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics.FilterBlockCount[filter]++
}

// RecordPath counts a confirmed entry path for the session analytics.
func (m *Manager) RecordPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics.EntryPathCount[path]++
}

// GetDailySummary returns the session roll-up.
func (m *Manager) GetDailySummary() models.DailySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := models.DailySummary{
		TotalTrades: m.analytics.TotalTrades,
		Winners:     m.analytics.Winners,
		Losers:      m.analytics.Losers,
		DailyPnL:    m.analytics.DailyPnL,
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Winners) / float64(s.TotalTrades)
	}
	return s
}

// Export returns a deep-copied, mutually consistent view of everything the
// state manager persists: positions, attempt counters and analytics, all
// captured under one lock acquisition.
func (m *Manager) Export() (map[string]*models.Position, map[string]int, models.DailyAnalytics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make(map[string]*models.Position, len(m.positions))
	for sym, p := range m.positions {
		cp := *p
		cp.Partials = append([]models.PartialExit(nil), p.Partials...)
		positions[sym] = &cp
	}

	attempts := make(map[string]int, len(m.attempts))
	for k, v := range m.attempts {
		attempts[k] = v
	}

	analytics := *m.analytics
	analytics.FilterBlockCount = make(map[string]int, len(m.analytics.FilterBlockCount))
	for k, v := range m.analytics.FilterBlockCount {
		analytics.FilterBlockCount[k] = v
	}
	analytics.EntryPathCount = make(map[string]int, len(m.analytics.EntryPathCount))
	for k, v := range m.analytics.EntryPathCount {
		analytics.EntryPathCount[k] = v
	}

	return positions, attempts, analytics
}

// Import replaces the manager's state with a recovered snapshot. Used only
// during startup reconciliation, before workers start.
func (m *Manager) Import(positions map[string]*models.Position, attempts map[string]int, analytics *models.DailyAnalytics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions = make(map[string]*models.Position, len(positions))
	for sym, p := range positions {
		cp := *p
		m.positions[sym] = &cp
	}
	if attempts != nil {
		m.attempts = attempts
	}
	if analytics != nil {
		if analytics.FilterBlockCount == nil {
			analytics.FilterBlockCount = make(map[string]int)
		}
		if analytics.EntryPathCount == nil {
			analytics.EntryPathCount = make(map[string]int)
		}
		m.analytics = analytics
	}
}
