// Package risk gates new entries on position capacity and the daily loss
// breaker.
package risk

import (
	"sync"

	"mystocks/internal/broker"
	"mystocks/internal/config"
	"mystocks/internal/logger"
)

// Manager tracks the day's realized pnl against the day-start asset baseline
// and enforces the entry gates. Safe for concurrent use; the HTTP surface
// reads it while the engine loop writes.
type Manager struct {
	mu       sync.Mutex
	cfg      config.StrategyConfig
	date     string
	baseline float64
	realized float64
	tripped  bool
}

func NewManager(cfg config.StrategyConfig) *Manager {
	return &Manager{cfg: cfg}
}

// StartDay resets pnl tracking for a new session. baseline is the total
// asset value at session start; zero disables the loss breaker for the day.
func (m *Manager) StartDay(date string, baseline float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.date = date
	m.baseline = baseline
	m.realized = 0
	m.tripped = false
}

// UpdateConfig swaps in new strategy parameters. An unlatched breaker
// re-evaluates against the new threshold on the next check; a latched trip
// stays latched.
func (m *Manager) UpdateConfig(cfg config.StrategyConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// RecordPnl adds one closed trade's realized pnl and re-evaluates the
// breaker.
func (m *Manager) RecordPnl(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realized += pnl
	if m.breachedLocked() && !m.tripped {
		m.tripped = true
		logger.Warnf("risk: daily loss breaker tripped (%.2f%% <= -%.2f%%)", m.lossRateLocked(), m.cfg.MaxDailyLossRate)
	}
}

// Trip forces the breaker latch, used when a restart restores a session
// whose breaker had already fired. The net pnl alone cannot reproduce the
// trip: exits keep realizing pnl after it, so the day may have recovered
// above the threshold by the time the snapshot was written.
func (m *Manager) Trip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tripped {
		m.tripped = true
		logger.Warnf("risk: daily loss breaker restored as tripped (%.2f%%)", m.lossRateLocked())
	}
}

func (m *Manager) lossRateLocked() float64 {
	if m.baseline <= 0 {
		return 0
	}
	return m.realized / m.baseline * 100
}

func (m *Manager) breachedLocked() bool {
	return m.cfg.MaxDailyLossRate > 0 && m.lossRateLocked() <= -m.cfg.MaxDailyLossRate
}

// DailyPnl returns the realized pnl and its rate against the baseline.
func (m *Manager) DailyPnl() (pnl, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realized, m.lossRateLocked()
}

// BreakerTripped reports whether new entries are halted by the loss breaker.
// Latched mode holds the trip until StartDay; unlatched mode re-evaluates
// the current loss rate.
func (m *Manager) BreakerTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.DailyLossLatched {
		return m.tripped
	}
	return m.breachedLocked()
}

// CanEnter checks every entry gate for a prospective new position. active is
// the count of positions currently entered or with an entry order in flight.
func (m *Manager) CanEnter(active int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active >= m.cfg.MaxPositions {
		return broker.Faultf(broker.FaultCapacity, "risk",
			"position limit reached (%d/%d)", active, m.cfg.MaxPositions)
	}
	tripped := m.tripped
	if !m.cfg.DailyLossLatched {
		tripped = m.breachedLocked()
	}
	if tripped {
		return broker.Faultf(broker.FaultCapacity, "risk",
			"daily loss breaker active (%.2f%%)", m.lossRateLocked())
	}
	return nil
}
