package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Gateway    Gateway    `mapstructure:"gateway"`
	Trading    Trading    `mapstructure:"trading"`
	Entry      Entry      `mapstructure:"entry"`
	Filters    Filters    `mapstructure:"filters"`
	Stops      Stops      `mapstructure:"stops"`
	Resilience Resilience `mapstructure:"resilience"`
	State      State      `mapstructure:"state"`
	Logger     Logger     `mapstructure:"logger"`
	Database   Database   `mapstructure:"database"`
}

// Gateway holds the configuration for the broker gateway API.
type Gateway struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Paper          bool    `mapstructure:"paper"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds the session-level trading parameters.
type Trading struct {
	Watchlist           []string `mapstructure:"watchlist"`
	WatchlistPath       string   `mapstructure:"watchlist_path"`
	SharesPerTrade      int      `mapstructure:"shares_per_trade"`
	BarIntervalSeconds  int      `mapstructure:"bar_interval_seconds"`
	MaxAttemptsPerLevel int      `mapstructure:"max_attempts_per_level"`
	Target1PartialPct   float64  `mapstructure:"target1_partial_pct"`
	Target2PartialPct   float64  `mapstructure:"target2_partial_pct"`
	TrailingPct         float64  `mapstructure:"trailing_pct"`
	DryRun              bool     `mapstructure:"dry_run"`
	DecisionLogPath     string   `mapstructure:"decision_log_path"`

	// FlattenAt is the UTC wall-clock time ("15:04" layout) after which no
	// new entries are taken and open positions are closed out. Empty
	// disables the cutoff.
	FlattenAt string `mapstructure:"flatten_at"`
}

// Entry holds thresholds for the breakout confirmation paths.
type Entry struct {
	MomentumVolumeThreshold float64 `mapstructure:"momentum_volume_threshold"`
	MomentumCandleMinPct    float64 `mapstructure:"momentum_candle_min_pct"`
	MomentumCandleMinATR    float64 `mapstructure:"momentum_candle_min_atr"`
	PullbackTolerancePct    float64 `mapstructure:"pullback_tolerance_pct"`
	PullbackVolumeThreshold float64 `mapstructure:"pullback_volume_threshold"`
	PullbackRecrossMinPct   float64 `mapstructure:"pullback_recross_min_pct"`
	SustainedHoldBars       int     `mapstructure:"sustained_hold_bars"`
	ObservationWindowBars   int     `mapstructure:"observation_window_bars"`
	VolumeLookbackBars      int     `mapstructure:"volume_lookback_bars"`
	ATRPeriod               int     `mapstructure:"atr_period"`
}

// Filters holds per-filter toggles and thresholds for the entry filter chain.
type Filters struct {
	EntryPositionEnabled bool    `mapstructure:"entry_position_enabled"`
	MaxEntryPositionPct  float64 `mapstructure:"max_entry_position_pct"`
	PositionLookbackBars int     `mapstructure:"position_lookback_bars"`

	DirectionalVolumeEnabled bool `mapstructure:"directional_volume_enabled"`

	ChoppyEnabled       bool    `mapstructure:"choppy_enabled"`
	ChoppyLookbackBars  int     `mapstructure:"choppy_lookback_bars"`
	ChoppyATRMultiplier float64 `mapstructure:"choppy_atr_multiplier"`

	RoomToRunEnabled   bool    `mapstructure:"room_to_run_enabled"`
	MinRoomToTargetPct float64 `mapstructure:"min_room_to_target_pct"`

	StochasticEnabled bool    `mapstructure:"stochastic_enabled"`
	StochasticKPeriod int     `mapstructure:"stochastic_k_period"`
	StochasticLongMin float64 `mapstructure:"stochastic_long_min"`
	StochasticLongMax float64 `mapstructure:"stochastic_long_max"`

	CVDEnabled            bool    `mapstructure:"cvd_enabled"`
	CVDLookbackBars       int     `mapstructure:"cvd_lookback_bars"`
	CVDImbalanceThreshold float64 `mapstructure:"cvd_imbalance_threshold"`

	MomentumIndicatorsEnabled bool `mapstructure:"momentum_indicators_enabled"`
	RSIPeriod                 int  `mapstructure:"rsi_period"`
}

// Stops holds the protective-stop calculation parameters.
type Stops struct {
	Policy       string `mapstructure:"policy"` // "candle" or "atr"
	LookbackBars int    `mapstructure:"lookback_bars"`
}

// Resilience holds retry, backoff and circuit-breaker parameters.
type Resilience struct {
	MaxRetries           int     `mapstructure:"max_retries"`
	BaseDelaySeconds     float64 `mapstructure:"base_delay_seconds"`
	CheckIntervalSeconds int     `mapstructure:"check_interval_seconds"`
	ErrorThreshold       int     `mapstructure:"error_threshold"`
	CooldownSeconds      int     `mapstructure:"cooldown_seconds"`
}

// State holds the crash-recovery persistence parameters.
type State struct {
	FilePath            string `mapstructure:"file_path"`
	SaveIntervalSeconds int    `mapstructure:"save_interval_seconds"`
}

// Database holds the configuration for the trade journal database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("gateway.rate_limit", 10) // requests per second
	viper.SetDefault("gateway.rate_limit_burst", 5)
	viper.SetDefault("gateway.paper", true)

	viper.SetDefault("trading.shares_per_trade", 100)
	viper.SetDefault("trading.bar_interval_seconds", 5)
	viper.SetDefault("trading.max_attempts_per_level", 2)
	viper.SetDefault("trading.target1_partial_pct", 0.5)
	viper.SetDefault("trading.target2_partial_pct", 0.25)
	viper.SetDefault("trading.trailing_pct", 1.0)
	viper.SetDefault("trading.decision_log_path", "decisions.jsonl")
	viper.SetDefault("trading.watchlist_path", "watchlist.json")

	viper.SetDefault("entry.momentum_volume_threshold", 1.3)
	viper.SetDefault("entry.momentum_candle_min_pct", 0.5)
	viper.SetDefault("entry.momentum_candle_min_atr", 1.2)
	viper.SetDefault("entry.pullback_tolerance_pct", 0.3)
	viper.SetDefault("entry.pullback_volume_threshold", 1.1)
	viper.SetDefault("entry.pullback_recross_min_pct", 0.5)
	viper.SetDefault("entry.sustained_hold_bars", 6)
	viper.SetDefault("entry.observation_window_bars", 30)
	viper.SetDefault("entry.volume_lookback_bars", 20)
	viper.SetDefault("entry.atr_period", 14)

	viper.SetDefault("filters.entry_position_enabled", true)
	viper.SetDefault("filters.max_entry_position_pct", 70)
	viper.SetDefault("filters.directional_volume_enabled", true)
	viper.SetDefault("filters.position_lookback_bars", 40)
	viper.SetDefault("filters.choppy_enabled", true)
	viper.SetDefault("filters.choppy_lookback_bars", 30)
	viper.SetDefault("filters.choppy_atr_multiplier", 1.0)
	viper.SetDefault("filters.room_to_run_enabled", true)
	viper.SetDefault("filters.min_room_to_target_pct", 0.5)
	viper.SetDefault("filters.stochastic_enabled", false)
	viper.SetDefault("filters.stochastic_k_period", 14)
	viper.SetDefault("filters.stochastic_long_min", 20)
	viper.SetDefault("filters.stochastic_long_max", 80)
	viper.SetDefault("filters.cvd_enabled", false)
	viper.SetDefault("filters.cvd_lookback_bars", 20)
	viper.SetDefault("filters.cvd_imbalance_threshold", 0.15)
	viper.SetDefault("filters.momentum_indicators_enabled", false)
	viper.SetDefault("filters.rsi_period", 14)

	viper.SetDefault("stops.policy", "candle")
	viper.SetDefault("stops.lookback_bars", 10)

	viper.SetDefault("resilience.max_retries", 5)
	viper.SetDefault("resilience.base_delay_seconds", 1)
	viper.SetDefault("resilience.check_interval_seconds", 30)
	viper.SetDefault("resilience.error_threshold", 5)
	viper.SetDefault("resilience.cooldown_seconds", 60)

	viper.SetDefault("state.file_path", "trader_state.json")
	viper.SetDefault("state.save_interval_seconds", 10)
}
