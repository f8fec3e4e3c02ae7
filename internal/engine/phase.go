package engine

import (
	"fmt"
	"time"

	"mystocks/internal/config"
)

// Phase is the scheduler's position in the trading day.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhasePreparing   Phase = "PREPARING"
	PhaseEntryWindow Phase = "ENTRY_WINDOW"
	PhaseMonitoring  Phase = "MONITORING"
	PhaseEODClosing  Phase = "EOD_CLOSING"
	PhaseClosed      Phase = "CLOSED"
)

// Clock carries the session boundaries as minutes since midnight.
type Clock struct {
	PrepareStart int
	EntryStart   int
	EntryEnd     int
	EODStart     int
	EODEnd       int
}

// ClockFromConfig parses the HH:MM boundaries out of the strategy config.
func ClockFromConfig(cfg config.StrategyConfig) (Clock, error) {
	var (
		clk Clock
		err error
	)
	parse := func(name, v string, dst *int) {
		if err != nil {
			return
		}
		var m int
		if m, err = config.ParseClock(v); err != nil {
			err = fmt.Errorf("engine: %s: %w", name, err)
			return
		}
		*dst = m
	}
	parse("prepare_start", cfg.PrepareStart, &clk.PrepareStart)
	parse("entry_start", cfg.EntryStart, &clk.EntryStart)
	parse("entry_end", cfg.EntryEnd, &clk.EntryEnd)
	parse("eod_start", cfg.EODStart, &clk.EODStart)
	parse("eod_end", cfg.EODEnd, &clk.EODEnd)
	return clk, err
}

// DeterminePhase maps wall-clock time onto the session phase. It is a pure
// function of its inputs; the loop re-evaluates it every tick and never
// latches the result.
func DeterminePhase(now time.Time, isTradingDay bool, clk Clock) Phase {
	if !isTradingDay {
		return PhaseIdle
	}
	m := now.Hour()*60 + now.Minute()
	switch {
	case m < clk.PrepareStart:
		return PhaseIdle
	case m < clk.EntryStart:
		return PhasePreparing
	case m < clk.EntryEnd:
		return PhaseEntryWindow
	case m < clk.EODStart:
		return PhaseMonitoring
	case m < clk.EODEnd:
		return PhaseEODClosing
	default:
		return PhaseClosed
	}
}

// TickInterval is the poll period per phase: sub-second while the entry
// window is open, coarse when nothing can happen.
func TickInterval(p Phase) time.Duration {
	switch p {
	case PhaseEntryWindow:
		return 500 * time.Millisecond
	case PhaseEODClosing:
		return time.Second
	case PhaseMonitoring:
		return 2 * time.Second
	case PhasePreparing:
		return 5 * time.Second
	default:
		return 30 * time.Second
	}
}
