package models

import "gorm.io/gorm"

// TradeRecord is the journal row persisted for every closed trade.
type TradeRecord struct {
	gorm.Model
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Shares     int     `json:"shares"`
	Pivot      float64 `json:"pivot"`
	EntryPath  string  `json:"entry_path"`
	ExitReason string  `json:"exit_reason"`
	PnL        float64 `json:"pnl"`
	DurationMs int64   `json:"duration_ms"`
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
}

// FromClosedTrade maps a closed trade onto its journal row.
func FromClosedTrade(t *ClosedTrade) *TradeRecord {
	return &TradeRecord{
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Shares:     t.Shares,
		Pivot:      t.Pivot,
		EntryPath:  t.EntryPath,
		ExitReason: t.ExitReason,
		PnL:        t.PnL,
		DurationMs: t.Duration.Milliseconds(),
		EntryTime:  t.EntryTime.Unix(),
		ExitTime:   t.ExitTime.Unix(),
	}
}
