// Package state persists the trader's full in-memory state to disk and
// reconstructs it after a crash by reconciling the local snapshot against
// the gateway's live portfolio.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"breakout-trader-go/internal/models"
	"breakout-trader-go/internal/position"
	"breakout-trader-go/internal/resilience"
)

const dateLayout = "2006-01-02"

// Manager owns the snapshot file and the startup reconciliation. It only
// ever reads trader state through the position manager's locked accessors.
type Manager struct {
	path         string
	backupPath   string
	saveInterval time.Duration
	positions    *position.Manager
	guard        *resilience.Guard
	watchlist    map[string]models.PivotLevels
	logger       *zap.Logger
	now          func() time.Time
}

// NewManager creates a state manager persisting to path, with the backup
// written to path + ".bak".
func NewManager(path string, saveInterval time.Duration, positions *position.Manager, guard *resilience.Guard, watchlist map[string]models.PivotLevels, logger *zap.Logger) *Manager {
	return &Manager{
		path:         path,
		backupPath:   path + ".bak",
		saveInterval: saveInterval,
		positions:    positions,
		guard:        guard,
		watchlist:    watchlist,
		logger:       logger.Named("state-manager"),
		now:          time.Now,
	}
}

// SaveState writes a consistent snapshot of all trader state. The write is
// crash-safe: the snapshot lands in a temp file first, the previous
// snapshot is kept as a single backup, and the final rename is atomic, so a
// reader never observes a partially-written file.
func (m *Manager) SaveState() error {
	positions, attempts, analytics := m.positions.Export()

	snap := &models.Snapshot{
		Version:       models.SnapshotVersion,
		TradingDate:   m.now().Format(dateLayout),
		SavedAt:       m.now(),
		Positions:     positions,
		AttemptCounts: attempts,
		Analytics:     &analytics,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}

	// Keep the superseded snapshot as the single backup. A missing current
	// file just means this is the first save.
	if err := os.Rename(m.path, m.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate snapshot backup: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	m.logger.Debug("State saved",
		zap.Int("positions", len(positions)),
		zap.Int("attempt_counters", len(attempts)),
	)
	return nil
}

// LoadState reads the persisted snapshot. It returns nil (not an error)
// when no snapshot exists, when the snapshot is from a different trading
// date, or when both the primary and the backup are unreadable. A corrupt
// primary falls back once to the backup.
func (m *Manager) LoadState() *models.Snapshot {
	snap := m.loadFile(m.path)
	if snap == nil {
		snap = m.loadFile(m.backupPath)
		if snap != nil {
			m.logger.Warn("Primary snapshot unusable, recovered from backup")
		}
	}
	if snap == nil {
		return nil
	}

	today := m.now().Format(dateLayout)
	if snap.TradingDate != today {
		m.logger.Warn("Ignoring stale snapshot from a different trading date",
			zap.String("snapshot_date", snap.TradingDate),
			zap.String("today", today),
		)
		return nil
	}

	return snap
}

func (m *Manager) loadFile(path string) *models.Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Failed to read snapshot file", zap.String("path", path), zap.Error(err))
		}
		return nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.logger.Warn("Snapshot file is corrupt", zap.String("path", path), zap.Error(err))
		return nil
	}
	if snap.Version != models.SnapshotVersion {
		m.logger.Warn("Snapshot version mismatch",
			zap.String("path", path),
			zap.Int("version", snap.Version),
		)
		return nil
	}
	return &snap
}

// RecoverFromGateway queries the venue's live portfolio, filtered to
// symbols on today's watchlist. The second return distinguishes a failed
// query from a genuinely empty portfolio; callers must not reconcile
// against a failed one.
func (m *Manager) RecoverFromGateway(ctx context.Context) (map[string]models.GatewayPosition, bool) {
	live, ok := m.guard.SafeGetPositions(ctx)
	if !ok {
		return nil, false
	}

	out := make(map[string]models.GatewayPosition)
	for _, gp := range live {
		if _, watched := m.watchlist[gp.Symbol]; watched {
			out[gp.Symbol] = gp
		} else {
			m.logger.Info("Ignoring gateway position outside today's watchlist",
				zap.String("symbol", gp.Symbol))
		}
	}
	return out, true
}

// RecoverFullState performs the three-way reconciliation between local
// intent, persisted state and the venue, then installs the merged result in
// the position manager. The gateway is ground truth for existence and share
// count; the local snapshot supplies the rich metadata.
func (m *Manager) RecoverFullState(ctx context.Context) error {
	snap := m.LoadState()

	// A failed portfolio query must not look like an empty portfolio:
	// merging local positions against "nothing held" would silently erase
	// them. Bail out and leave the snapshot on disk for the next attempt.
	live, ok := m.RecoverFromGateway(ctx)
	if !ok {
		return fmt.Errorf("gateway portfolio query failed, refusing to reconcile")
	}

	var localPositions map[string]*models.Position
	var attempts map[string]int
	var analytics *models.DailyAnalytics
	if snap != nil {
		localPositions = snap.Positions
		attempts = snap.AttemptCounts
		analytics = snap.Analytics
	}

	merged := make(map[string]*models.Position)

	for sym, local := range localPositions {
		gp, held := live[sym]
		if !held {
			// The venue no longer holds it: closed or stopped out during
			// downtime. Never resurrect it locally.
			m.logger.Warn("Dropping local position absent at gateway",
				zap.String("symbol", sym),
				zap.Int("local_shares", local.Shares),
			)
			continue
		}

		restored := *local
		if gp.Shares != local.Shares {
			m.logger.Warn("Share count mismatch, trusting gateway",
				zap.String("symbol", sym),
				zap.Int("local_shares", local.Shares),
				zap.Int("gateway_shares", gp.Shares),
			)
			restored.Shares = gp.Shares
		}
		merged[sym] = &restored
	}

	for sym, gp := range live {
		if _, ok := merged[sym]; ok {
			continue
		}
		// Present at the venue with no local record: rebuild a minimal
		// position from gateway data and flag it for conservative handling.
		levels := m.watchlist[sym]
		p := &models.Position{
			Symbol:     sym,
			Side:       gp.Side,
			EntryPrice: gp.AvgCost,
			EntryTime:  m.now(),
			Shares:     gp.Shares,
			Remaining:  1.0,
			Pivot:      levels.PivotFor(gp.Side),
			Target1:    levels.Target1,
			Target2:    levels.Target2,
			Recovered:  true,
		}
		if p.IsLong() {
			p.Highest = gp.AvgCost
		} else {
			p.Lowest = gp.AvgCost
		}
		m.logger.Warn("Reconstructed position from gateway data alone",
			zap.String("symbol", sym),
			zap.Int("shares", gp.Shares),
			zap.Float64("avg_cost", gp.AvgCost),
		)
		merged[sym] = p
	}

	m.positions.Import(merged, attempts, analytics)
	m.logger.Info("State recovery complete",
		zap.Int("recovered_positions", len(merged)),
		zap.Bool("had_snapshot", snap != nil),
	)
	return nil
}

// Run periodically saves state until the context is cancelled, then writes
// one final snapshot on the way out.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.SaveState(); err != nil {
				m.logger.Error("Final state save failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := m.SaveState(); err != nil {
				m.logger.Error("Periodic state save failed", zap.Error(err))
			}
		}
	}
}
