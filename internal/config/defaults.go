package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9990"
	defaultAppDataDir  = "data"

	defaultKISMockURL = "https://openapivts.koreainvestment.com:29443"
	defaultKISRealURL = "https://openapi.koreainvestment.com:9443"
	defaultKISTimeout = 10

	defaultUpperLimitRate  = 29.5
	defaultMinMarketCap    = 1000
	defaultMinTradingValue = 300
	defaultBuildCron       = "0 18 * * *"

	defaultIndexCode = "0001"
	defaultMADays    = 5

	defaultGapThreshold    = 2.0
	defaultGapConfirms     = 2
	defaultMaxRiseRate     = 8.0
	defaultTakeProfit      = 10.0
	defaultStopLoss        = -4.0
	defaultMaxPositions    = 5
	defaultMaxDailyLoss    = 5.0
	defaultAllocationPct   = 80.0
	defaultSlippageTicks   = 2
	defaultOrderTimeout    = 5
	defaultOrderRetries    = 3
	defaultOrderRetryDelay = 500
	defaultPendingTimeout  = 60

	defaultPrepareStart = "08:40"
	defaultEntryStart   = "09:00"
	defaultEntryEnd     = "09:03"
	defaultEODStart     = "15:20"
	defaultEODEnd       = "15:28"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.KIS.applyDefaults(keys)
	c.Universe.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
	if a.DataDir == "" {
		a.DataDir = defaultAppDataDir
	}
}

func (k *KISConfig) applyDefaults(keys keySet) {
	if k.Mock.BaseURL == "" {
		k.Mock.BaseURL = defaultKISMockURL
	}
	if k.Real.BaseURL == "" {
		k.Real.BaseURL = defaultKISRealURL
	}
	if k.TimeoutSeconds <= 0 {
		k.TimeoutSeconds = defaultKISTimeout
	}
}

func (u *UniverseConfig) applyDefaults(keys keySet) {
	if !keys.isSet("universe.upper_limit_rate") && u.UpperLimitRate == 0 {
		u.UpperLimitRate = defaultUpperLimitRate
	}
	if !keys.isSet("universe.min_market_cap") && u.MinMarketCap == 0 {
		u.MinMarketCap = defaultMinMarketCap
	}
	if !keys.isSet("universe.min_trading_value") && u.MinTradingValue == 0 {
		u.MinTradingValue = defaultMinTradingValue
	}
	if u.BuildCron == "" {
		u.BuildCron = defaultBuildCron
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if !keys.isSet("market.filter_enabled") {
		m.FilterEnabled = true
	}
	if m.IndexCode == "" {
		m.IndexCode = defaultIndexCode
	}
	if m.MADays <= 0 {
		m.MADays = defaultMADays
	}
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s.GapThreshold == 0 {
		s.GapThreshold = defaultGapThreshold
	}
	if s.GapConfirmCount <= 0 {
		s.GapConfirmCount = defaultGapConfirms
	}
	if s.MaxRiseRate == 0 {
		s.MaxRiseRate = defaultMaxRiseRate
	}
	if s.TakeProfitRate == 0 {
		s.TakeProfitRate = defaultTakeProfit
	}
	if s.StopLossRate == 0 {
		s.StopLossRate = defaultStopLoss
	}
	if len(s.ExitOrder) == 0 {
		s.ExitOrder = []string{ExitTakeProfit, ExitStopLoss}
	}
	if s.MaxPositions <= 0 {
		s.MaxPositions = defaultMaxPositions
	}
	if s.MaxDailyLossRate == 0 {
		s.MaxDailyLossRate = defaultMaxDailyLoss
	}
	if !keys.isSet("strategy.daily_loss_latched") {
		s.DailyLossLatched = true
	}
	if s.AllocationPercent == 0 {
		s.AllocationPercent = defaultAllocationPct
	}
	if !keys.isSet("strategy.slippage_ticks") && s.SlippageTicks == 0 {
		s.SlippageTicks = defaultSlippageTicks
	}
	if s.OrderTimeoutSec <= 0 {
		s.OrderTimeoutSec = defaultOrderTimeout
	}
	if !keys.isSet("strategy.order_retry_count") && s.OrderRetryCount == 0 {
		s.OrderRetryCount = defaultOrderRetries
	}
	if s.OrderRetryDelayMs <= 0 {
		s.OrderRetryDelayMs = defaultOrderRetryDelay
	}
	if s.PendingFillTimeoutSec <= 0 {
		s.PendingFillTimeoutSec = defaultPendingTimeout
	}
	if s.PrepareStart == "" {
		s.PrepareStart = defaultPrepareStart
	}
	if s.EntryStart == "" {
		s.EntryStart = defaultEntryStart
	}
	if s.EntryEnd == "" {
		s.EntryEnd = defaultEntryEnd
	}
	if s.EODStart == "" {
		s.EODStart = defaultEODStart
	}
	if s.EODEnd == "" {
		s.EODEnd = defaultEODEnd
	}
}
