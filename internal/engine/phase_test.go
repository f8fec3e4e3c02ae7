package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mystocks/internal/config"
)

func testClock(t *testing.T) Clock {
	t.Helper()
	clk, err := ClockFromConfig(config.StrategyConfig{
		PrepareStart: "08:40",
		EntryStart:   "09:00",
		EntryEnd:     "09:03",
		EODStart:     "15:20",
		EODEnd:       "15:28",
	})
	require.NoError(t, err)
	return clk
}

func hm(hour, min int) time.Time {
	return time.Date(2026, 8, 31, hour, min, 0, 0, time.Local)
}

func TestDeterminePhase(t *testing.T) {
	clk := testClock(t)
	cases := []struct {
		at   time.Time
		want Phase
	}{
		{hm(0, 0), PhaseIdle},
		{hm(8, 39), PhaseIdle},
		{hm(8, 40), PhasePreparing},
		{hm(8, 59), PhasePreparing},
		{hm(9, 0), PhaseEntryWindow},
		{hm(9, 2), PhaseEntryWindow},
		{hm(9, 3), PhaseMonitoring},
		{hm(15, 19), PhaseMonitoring},
		{hm(15, 20), PhaseEODClosing},
		{hm(15, 27), PhaseEODClosing},
		{hm(15, 28), PhaseClosed},
		{hm(23, 59), PhaseClosed},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DeterminePhase(c.at, true, clk), "at %s", c.at.Format("15:04"))
	}
}

func TestDeterminePhaseNonTradingDay(t *testing.T) {
	clk := testClock(t)
	for _, at := range []time.Time{hm(0, 0), hm(9, 1), hm(15, 25), hm(23, 0)} {
		assert.Equal(t, PhaseIdle, DeterminePhase(at, false, clk))
	}
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, TickInterval(PhaseEntryWindow))
	assert.Equal(t, time.Second, TickInterval(PhaseEODClosing))
	assert.Equal(t, 2*time.Second, TickInterval(PhaseMonitoring))
	assert.Equal(t, 5*time.Second, TickInterval(PhasePreparing))
	assert.Equal(t, 30*time.Second, TickInterval(PhaseIdle))
	assert.Equal(t, 30*time.Second, TickInterval(PhaseClosed))
}
