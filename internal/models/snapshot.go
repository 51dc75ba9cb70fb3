package models

import "time"

// SnapshotVersion guards against loading state written by an incompatible
// build.
const SnapshotVersion = 1

// Snapshot is a point-in-time serialization of everything the trader needs
// to survive a restart. It is written atomically and superseded on every
// save, with the immediately-previous snapshot kept as a single backup.
type Snapshot struct {
	Version       int                  `json:"version"`
	TradingDate   string               `json:"trading_date"` // YYYY-MM-DD
	SavedAt       time.Time            `json:"saved_at"`
	Positions     map[string]*Position `json:"positions"`
	AttemptCounts map[string]int       `json:"attempt_counts"`
	Analytics     *DailyAnalytics      `json:"analytics"`
}
