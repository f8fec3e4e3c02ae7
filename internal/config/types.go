package config

// Config is the full configuration for one mystocks process. The App, KIS,
// Universe, Market and Notify sections are fixed at startup; Strategy can be
// updated at runtime through the control API and the config-file watcher.
type Config struct {
	App      AppConfig      `toml:"app"`
	KIS      KISConfig      `toml:"kis"`
	Universe UniverseConfig `toml:"universe"`
	Market   MarketConfig   `toml:"market"`
	Strategy StrategyConfig `toml:"strategy"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	DataDir      string `toml:"data_dir"`
	HolidaysPath string `toml:"holidays_path"`
}

// KISCredentials identify one KIS OpenAPI app. Mock and real accounts are
// fully separate: different keys, different account, different endpoint.
type KISCredentials struct {
	AppKey    string `toml:"app_key"`
	AppSecret string `toml:"app_secret"`
	AccountNo string `toml:"account_no"`
	BaseURL   string `toml:"base_url"`
}

type KISConfig struct {
	Mock           KISCredentials `toml:"mock"`
	Real           KISCredentials `toml:"real"`
	TimeoutSeconds int            `toml:"timeout_seconds"`
}

// UniverseConfig screens the prior session for candidates.
type UniverseConfig struct {
	// UpperLimitRate is the prior-session return (%) that qualifies as
	// exceptional momentum. 29.5 catches KRX limit-up closes.
	UpperLimitRate float64 `toml:"upper_limit_rate"`
	// MinMarketCap is in eokwon.
	MinMarketCap float64 `toml:"min_market_cap"`
	// MinTradingValue is the prior-session turnover floor in eokwon.
	MinTradingValue float64 `toml:"min_trading_value"`
	// BuildCron schedules the nightly prebuild, after the evening cutover.
	BuildCron string `toml:"build_cron"`
}

// MarketConfig controls the index moving-average entry filter.
type MarketConfig struct {
	FilterEnabled bool   `toml:"filter_enabled"`
	IndexCode     string `toml:"index_code"`
	MADays        int    `toml:"ma_days"`
}

// StrategyConfig holds every runtime-tunable parameter of the trading
// engine. The json tags mirror the toml ones so the control API speaks the
// same field names as the config file.
type StrategyConfig struct {
	// Entry signal.
	GapThreshold    float64 `toml:"gap_threshold" json:"gap_threshold"`         // % over prev close
	GapConfirmCount int     `toml:"gap_confirm_count" json:"gap_confirm_count"` // consecutive ticks
	MaxRiseRate     float64 `toml:"max_rise_rate" json:"max_rise_rate"`         // % over prev close; anti-chase

	// Exit conditions, evaluated in ExitOrder until one fires.
	TakeProfitRate   float64  `toml:"take_profit_rate" json:"take_profit_rate"`     // %
	StopLossRate     float64  `toml:"stop_loss_rate" json:"stop_loss_rate"`         // %, negative
	TrailingStopRate float64  `toml:"trailing_stop_rate" json:"trailing_stop_rate"` // % below high-water mark
	ExitOrder        []string `toml:"exit_order" json:"exit_order"`

	// Risk.
	MaxPositions     int     `toml:"max_positions" json:"max_positions"`
	MaxDailyLossRate float64 `toml:"max_daily_loss_rate" json:"max_daily_loss_rate"` // %, positive magnitude
	DailyLossLatched bool    `toml:"daily_loss_latched" json:"daily_loss_latched"`

	// Sizing and orders.
	AllocationPercent     float64 `toml:"allocation_percent" json:"allocation_percent"`
	SlippageTicks         int     `toml:"slippage_ticks" json:"slippage_ticks"`
	OrderTimeoutSec       int     `toml:"order_timeout_sec" json:"order_timeout_sec"`
	OrderRetryCount       int     `toml:"order_retry_count" json:"order_retry_count"`
	OrderRetryDelayMs     int     `toml:"order_retry_delay_ms" json:"order_retry_delay_ms"`
	PendingFillTimeoutSec int     `toml:"pending_fill_timeout_sec" json:"pending_fill_timeout_sec"`

	// Session clock, "HH:MM" local exchange time.
	PrepareStart string `toml:"prepare_start" json:"prepare_start"`
	EntryStart   string `toml:"entry_start" json:"entry_start"`
	EntryEnd     string `toml:"entry_end" json:"entry_end"`
	EODStart     string `toml:"eod_start" json:"eod_start"`
	EODEnd       string `toml:"eod_end" json:"eod_end"`
}

// Exit condition names accepted in ExitOrder.
const (
	ExitTakeProfit   = "take_profit"
	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
)

type NotifyConfig struct {
	Ntfy NtfyConfig `toml:"ntfy"`
}

type NtfyConfig struct {
	Enabled  bool   `toml:"enabled"`
	TopicURL string `toml:"topic_url"`
}

// Credentials returns the credentials for the given mode ("mock"/"real").
func (k KISConfig) Credentials(mock bool) KISCredentials {
	if mock {
		return k.Mock
	}
	return k.Real
}
