package engine

import (
	"mystocks/internal/config"
)

// entryAction is the outcome of one entry-window tick for a WATCHING
// position.
type entryAction int

const (
	entryNone entryAction = iota
	entryTrigger
	entrySkipChase
)

// evaluateEntry folds one price tick into the gap confirmation counter.
// A price at or beyond the anti-chase ceiling skips the instrument outright.
// A non-confirming tick resets the counter to zero: one wick back under the
// threshold disqualifies the run so far. Entry triggers the instant the
// counter reaches the configured count.
func evaluateEntry(p *Position, price float64, cfg config.StrategyConfig) entryAction {
	if p.PrevClose <= 0 || price <= 0 {
		return entryNone
	}
	if cfg.MaxRiseRate > 0 && price >= p.PrevClose*(1+cfg.MaxRiseRate/100) {
		return entrySkipChase
	}
	gapRate := (price - p.PrevClose) / p.PrevClose * 100
	if gapRate >= cfg.GapThreshold {
		p.GapConfirms++
	} else {
		p.GapConfirms = 0
	}
	if p.GapConfirms >= cfg.GapConfirmCount {
		return entryTrigger
	}
	return entryNone
}

// evaluateExit walks the configured exit conditions in order and returns the
// first that fires. The high-water mark must already reflect the current
// price.
func evaluateExit(p *Position, cfg config.StrategyConfig) (string, bool) {
	for _, cond := range cfg.ExitOrder {
		switch cond {
		case config.ExitTakeProfit:
			if cfg.TakeProfitRate > 0 && p.UnrealizedPnlRate >= cfg.TakeProfitRate {
				return config.ExitTakeProfit, true
			}
		case config.ExitStopLoss:
			if cfg.StopLossRate < 0 && p.UnrealizedPnlRate <= cfg.StopLossRate {
				return config.ExitStopLoss, true
			}
		case config.ExitTrailingStop:
			if cfg.TrailingStopRate > 0 && p.HighWaterMark > 0 &&
				p.CurrentPrice <= p.HighWaterMark*(1-cfg.TrailingStopRate/100) {
				return config.ExitTrailingStop, true
			}
		}
	}
	return "", false
}
