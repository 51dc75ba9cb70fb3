package strategy

// EntryPath identifies which confirmation path qualified a breakout.
type EntryPath string

const (
	PathNone      EntryPath = ""
	PathMomentum  EntryPath = "momentum"
	PathPullback  EntryPath = "pullback_retest"
	PathSustained EntryPath = "sustained_break"
)

// Verdict is the outcome of a single filter evaluation.
type Verdict string

const (
	VerdictPass     Verdict = "PASS"
	VerdictBlock    Verdict = "BLOCK"
	VerdictSkip     Verdict = "SKIP"     // not enough history to evaluate
	VerdictDisabled Verdict = "DISABLED" // toggled off in config
)

// Blocked reports whether the verdict blocks the entry.
func (v Verdict) Blocked() bool { return v == VerdictBlock }

// EntryPositionResult is the anti-chasing filter outcome: where the entry
// price sits inside the trailing high-low range, in percent.
type EntryPositionResult struct {
	Enabled     bool    `json:"enabled"`
	Verdict     Verdict `json:"verdict"`
	PositionPct float64 `json:"position_pct"`
	MaxPct      float64 `json:"max_pct"`
	RangeHigh   float64 `json:"range_high"`
	RangeLow    float64 `json:"range_low"`
}

// ChoppyResult is the choppy-market filter outcome: trailing range measured
// against a multiple of ATR.
type ChoppyResult struct {
	Enabled   bool    `json:"enabled"`
	Verdict   Verdict `json:"verdict"`
	RangeSpan float64 `json:"range_span"`
	MinSpan   float64 `json:"min_span"` // choppyATRMultiplier x ATR
	ATR       float64 `json:"atr"`
}

// DirectionalVolumeResult reports whether the triggering bar closed in the
// trade's direction.
type DirectionalVolumeResult struct {
	Enabled  bool    `json:"enabled"`
	Verdict  Verdict `json:"verdict"`
	BarOpen  float64 `json:"bar_open"`
	BarClose float64 `json:"bar_close"`
}

// RoomToRunResult reports the percentage distance from entry to target.
type RoomToRunResult struct {
	Enabled bool    `json:"enabled"`
	Verdict Verdict `json:"verdict"`
	RoomPct float64 `json:"room_pct"`
	MinPct  float64 `json:"min_pct"`
	Target  float64 `json:"target"`
}

// StochasticResult reports the %K value against the side's allowed band.
type StochasticResult struct {
	Enabled bool    `json:"enabled"`
	Verdict Verdict `json:"verdict"`
	K       float64 `json:"k"`
	BandMin float64 `json:"band_min"`
	BandMax float64 `json:"band_max"`
}

// CVDResult reports the normalized cumulative-volume-delta imbalance.
type CVDResult struct {
	Enabled   bool    `json:"enabled"`
	Verdict   Verdict `json:"verdict"`
	Imbalance float64 `json:"imbalance"`
	Threshold float64 `json:"threshold"`
}

// MomentumIndicatorsResult reports RSI/MACD alignment with the trade side.
type MomentumIndicatorsResult struct {
	Enabled  bool    `json:"enabled"`
	Verdict  Verdict `json:"verdict"`
	RSI      float64 `json:"rsi"`
	MACDHist float64 `json:"macd_hist"`
}

// Diagnostics is the fixed-shape structured payload describing every filter
// evaluated for an entry candidate. It is what the decision log records.
type Diagnostics struct {
	VolumeRatio   float64 `json:"volume_ratio"`
	CandleBodyPct float64 `json:"candle_body_pct"`
	ATR           float64 `json:"atr"`

	EntryPosition     EntryPositionResult      `json:"entry_position"`
	Choppy            ChoppyResult             `json:"choppy"`
	DirectionalVolume DirectionalVolumeResult  `json:"directional_volume"`
	RoomToRun         RoomToRunResult          `json:"room_to_run"`
	Stochastic        StochasticResult         `json:"stochastic"`
	CVD               CVDResult                `json:"cvd"`
	Momentum          MomentumIndicatorsResult `json:"momentum_indicators"`
}

// Filter-chain names, in evaluation order. Used for block analytics and the
// decision log.
const (
	FilterEntryPosition     = "entry_position"
	FilterChoppy            = "choppy"
	FilterDirectionalVolume = "directional_volume"
	FilterRoomToRun         = "room_to_run"
	FilterStochastic        = "stochastic"
	FilterCVD               = "cvd"
	FilterMomentum          = "momentum_indicators"
)

// Non-filter rejection reasons.
const (
	ReasonNoBreakout      = "NO_BREAKOUT"
	ReasonAwaiting        = "AWAITING_CONFIRMATION"
	ReasonNoPathQualified = "NO_PATH_QUALIFIED"
)

// Decision is the result of evaluating one bar for one symbol.
type Decision struct {
	Confirmed     bool        `json:"confirmed"`
	Path          EntryPath   `json:"path"`
	Reason        string      `json:"reason"`
	BlockedFilter string      `json:"blocked_filter,omitempty"`
	Diagnostics   Diagnostics `json:"diagnostics"`
}
