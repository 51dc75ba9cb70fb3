package models

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// PivotLevels is one row of the scanner's watchlist: the breakout level and
// its pre-computed targets. This system only reads it.
type PivotLevels struct {
	Symbol     string  `json:"symbol"`
	Resistance float64 `json:"resistance"`
	Support    float64 `json:"support"`
	Target1    float64 `json:"target1"`
	Target2    float64 `json:"target2"`
	Downside1  float64 `json:"downside1"`
}

// PivotFor returns the breakout level for the given side: resistance for
// LONG, support for SHORT.
func (p PivotLevels) PivotFor(side Side) float64 {
	if side == SideLong {
		return p.Resistance
	}
	return p.Support
}

// PartialExit is an immutable record of a partial position exit.
type PartialExit struct {
	Price     float64   `json:"price"`
	Pct       float64   `json:"pct"`  // fraction of the original size exited
	Gain      float64   `json:"gain"` // per-share price delta, sign-adjusted for side
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is one currently-held instrument. At most one exists per symbol.
type Position struct {
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	EntryPrice  float64       `json:"entry_price"`
	EntryTime   time.Time     `json:"entry_time"`
	Shares      int           `json:"shares"`    // original size
	Remaining   float64       `json:"remaining"` // fraction of original size still held
	Pivot       float64       `json:"pivot"`
	StopPrice   float64       `json:"stop_price"`
	Target1     float64       `json:"target1"`
	Target2     float64       `json:"target2"`
	Highest     float64       `json:"highest_price,omitempty"` // favorable excursion, LONG only
	Lowest      float64       `json:"lowest_price,omitempty"`  // favorable excursion, SHORT only
	Partials    []PartialExit `json:"partials"`
	StopOrderID string        `json:"stop_order_id,omitempty"`

	// Recovered marks a position rebuilt from gateway data alone after a
	// crash, with no local metadata; such positions get conservative handling.
	Recovered bool `json:"recovered,omitempty"`

	EntryPath string `json:"entry_path,omitempty"`
}

// IsLong reports whether the position is on the long side.
func (p *Position) IsLong() bool {
	return p.Side == SideLong
}

// UpdateExtremes advances the single-sided favorable-excursion tracker.
// A LONG position tracks only its highest price, a SHORT only its lowest.
func (p *Position) UpdateExtremes(price float64) {
	if p.IsLong() {
		if price > p.Highest {
			p.Highest = price
		}
	} else if price < p.Lowest || p.Lowest == 0 {
		p.Lowest = price
	}
}

// GainPerShare returns the per-share price delta at the given exit price,
// sign-adjusted so that favorable moves are positive for either side.
func (p *Position) GainPerShare(exitPrice float64) float64 {
	if p.IsLong() {
		return exitPrice - p.EntryPrice
	}
	return p.EntryPrice - exitPrice
}

// ClosedTrade is the terminal record derived from a Position at close time.
type ClosedTrade struct {
	Position
	ExitPrice  float64       `json:"exit_price"`
	ExitTime   time.Time     `json:"exit_time"`
	ExitReason string        `json:"exit_reason"`
	Duration   time.Duration `json:"duration"`
	PnL        float64       `json:"pnl"`
}

// GatewayPosition is the broker's own view of a held instrument, used as
// ground truth for existence and share count during recovery.
type GatewayPosition struct {
	Symbol  string  `json:"symbol"`
	Side    Side    `json:"side"`
	Shares  int     `json:"shares"`
	AvgCost float64 `json:"avg_cost"`
}
