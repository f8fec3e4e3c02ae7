package config

import (
	"fmt"
	"strconv"
	"strings"
)

func validate(c *Config) error {
	if err := c.Universe.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	return nil
}

func (u *UniverseConfig) validate() error {
	if u.UpperLimitRate <= 0 {
		return fmt.Errorf("universe.upper_limit_rate must be > 0")
	}
	if u.MinMarketCap < 0 {
		return fmt.Errorf("universe.min_market_cap must be >= 0")
	}
	if u.MinTradingValue < 0 {
		return fmt.Errorf("universe.min_trading_value must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.FilterEnabled && m.MADays < 2 {
		return fmt.Errorf("market.ma_days must be >= 2 when the filter is enabled")
	}
	return nil
}

// Validate bounds-checks the strategy parameters. It is also invoked on every
// runtime update, so a bad PATCH can never reach the engine.
func (s *StrategyConfig) Validate() error {
	if s.GapThreshold <= 0 || s.GapThreshold > 30 {
		return fmt.Errorf("strategy.gap_threshold must be in (0, 30]")
	}
	if s.GapConfirmCount < 1 || s.GapConfirmCount > 100 {
		return fmt.Errorf("strategy.gap_confirm_count must be in [1, 100]")
	}
	if s.MaxRiseRate <= 0 {
		return fmt.Errorf("strategy.max_rise_rate must be > 0")
	}
	if s.TakeProfitRate <= 0 {
		return fmt.Errorf("strategy.take_profit_rate must be > 0")
	}
	if s.StopLossRate >= 0 {
		return fmt.Errorf("strategy.stop_loss_rate must be negative")
	}
	if s.TrailingStopRate < 0 {
		return fmt.Errorf("strategy.trailing_stop_rate must be >= 0")
	}
	for _, name := range s.ExitOrder {
		switch name {
		case ExitTakeProfit, ExitStopLoss, ExitTrailingStop:
		default:
			return fmt.Errorf("strategy.exit_order contains unknown condition %q", name)
		}
	}
	if s.MaxPositions < 1 || s.MaxPositions > 50 {
		return fmt.Errorf("strategy.max_positions must be in [1, 50]")
	}
	if s.MaxDailyLossRate <= 0 || s.MaxDailyLossRate > 100 {
		return fmt.Errorf("strategy.max_daily_loss_rate must be in (0, 100]")
	}
	if s.AllocationPercent <= 0 || s.AllocationPercent > 100 {
		return fmt.Errorf("strategy.allocation_percent must be in (0, 100]")
	}
	if s.SlippageTicks < 0 {
		return fmt.Errorf("strategy.slippage_ticks must be >= 0")
	}
	if s.OrderRetryCount < 0 {
		return fmt.Errorf("strategy.order_retry_count must be >= 0")
	}
	if s.PendingFillTimeoutSec < 1 {
		return fmt.Errorf("strategy.pending_fill_timeout_sec must be >= 1")
	}
	times := []struct {
		key string
		val string
	}{
		{"prepare_start", s.PrepareStart},
		{"entry_start", s.EntryStart},
		{"entry_end", s.EntryEnd},
		{"eod_start", s.EODStart},
		{"eod_end", s.EODEnd},
	}
	prev := -1
	for _, tv := range times {
		m, err := ParseClock(tv.val)
		if err != nil {
			return fmt.Errorf("strategy.%s: %w", tv.key, err)
		}
		if m <= prev {
			return fmt.Errorf("strategy.%s (%s) must come after the preceding boundary", tv.key, tv.val)
		}
		prev = m
	}
	return nil
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
