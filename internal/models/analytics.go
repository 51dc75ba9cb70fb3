package models

// DailyAnalytics aggregates session-wide counters. Lifecycle is one trading
// day; a snapshot from a different date is never honored on restart.
type DailyAnalytics struct {
	DailyPnL         float64        `json:"daily_pnl"`
	TotalTrades      int            `json:"total_trades"`
	Winners          int            `json:"winners"`
	Losers           int            `json:"losers"`
	FilterBlockCount map[string]int `json:"filter_block_counts"`
	EntryPathCount   map[string]int `json:"entry_path_counts"`
}

// NewDailyAnalytics returns a zeroed analytics record with allocated maps.
func NewDailyAnalytics() *DailyAnalytics {
	return &DailyAnalytics{
		FilterBlockCount: make(map[string]int),
		EntryPathCount:   make(map[string]int),
	}
}

// DailySummary is the point-in-time roll-up exposed to operators.
type DailySummary struct {
	TotalTrades int     `json:"total_trades"`
	Winners     int     `json:"winners"`
	Losers      int     `json:"losers"`
	WinRate     float64 `json:"win_rate"`
	DailyPnL    float64 `json:"daily_pnl"`
}
