package engine

import (
	"time"
)

// PositionState is one instrument's place in its lifecycle.
type PositionState string

const (
	PosWatching     PositionState = "WATCHING"
	PosEntryPending PositionState = "ENTRY_PENDING"
	PosEntered      PositionState = "ENTERED"
	PosExitPending  PositionState = "EXIT_PENDING"
	PosClosed       PositionState = "CLOSED"
	PosSkipped      PositionState = "SKIPPED"
	PosError        PositionState = "ERROR"
)

// Terminal reports whether the state admits no further transitions today.
func (s PositionState) Terminal() bool {
	return s == PosClosed || s == PosSkipped || s == PosError
}

// Position is the per-instrument state machine record. All mutation happens
// on the engine loop goroutine.
type Position struct {
	Code  string        `json:"code"`
	Name  string        `json:"name"`
	State PositionState `json:"state"`

	PrevClose    float64 `json:"prev_close"`
	CurrentPrice float64 `json:"current_price"`
	EntryPrice   float64 `json:"entry_price"`
	// HighWaterMark is the highest price seen since entry, for the trailing
	// stop.
	HighWaterMark float64 `json:"high_water_mark"`

	Quantity        int     `json:"quantity"`
	PendingQuantity int     `json:"pending_quantity"`
	LimitOrderPrice float64 `json:"limit_order_price"`

	UnrealizedPnl     float64 `json:"unrealized_pnl"`
	UnrealizedPnlRate float64 `json:"unrealized_pnl_rate"`

	OrderID   string    `json:"order_id"`
	OrderTime time.Time `json:"order_time"`

	GapConfirms int `json:"gap_confirms"`

	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	ExitReason   string    `json:"exit_reason"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
}

// markPrice folds a fresh price into the position's derived fields.
func (p *Position) markPrice(price float64) {
	p.CurrentPrice = price
	if p.State == PosEntered || p.State == PosExitPending {
		if price > p.HighWaterMark {
			p.HighWaterMark = price
		}
		if p.EntryPrice > 0 {
			p.UnrealizedPnl = (price - p.EntryPrice) * float64(p.Quantity)
			p.UnrealizedPnlRate = (price - p.EntryPrice) / p.EntryPrice * 100
		}
	}
}

// LogEntry is one line of the bounded in-memory event ring shown by the
// control API.
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Event   string    `json:"event"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

const logRingCap = 200

// State is the whole per-mode strategy state. The engine goroutine owns it;
// everyone else sees copies via Snapshot.
type State struct {
	Mode        string    `json:"mode"`
	Phase       Phase     `json:"phase"`
	TradingDate string    `json:"trading_date"`
	Running     bool      `json:"running"`
	LastUpdate  time.Time `json:"last_update"`

	TotalAsset    float64 `json:"total_asset"`
	AvailableCash float64 `json:"available_cash"`
	DailyPnl      float64 `json:"daily_pnl"`
	DailyPnlRate  float64 `json:"daily_pnl_rate"`

	// BreakerTripped and EntryAllowed mirror the loop's gate state so a
	// same-day resume cannot re-enable entries the session had shut off.
	BreakerTripped bool `json:"breaker_tripped"`
	EntryAllowed   bool `json:"entry_allowed"`

	Positions map[string]*Position `json:"positions"`

	// EntryOrder is the universe's market-cap-descending rank; entry signals
	// are evaluated in this order so capacity goes to the highest rank.
	EntryOrder []string `json:"entry_order,omitempty"`

	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	Logs []LogEntry `json:"logs"`
}

func newState(mode, date string) *State {
	return &State{
		Mode:         mode,
		Phase:        PhaseIdle,
		TradingDate:  date,
		EntryAllowed: true,
		Positions:    map[string]*Position{},
	}
}

func (s *State) appendLog(e LogEntry) {
	s.Logs = append(s.Logs, e)
	if len(s.Logs) > logRingCap {
		s.Logs = s.Logs[len(s.Logs)-logRingCap:]
	}
}

// activePositions counts entries that occupy risk capacity: filled positions
// plus entry orders still in flight.
func (s *State) activePositions() int {
	n := 0
	for _, p := range s.Positions {
		if p.State == PosEntered || p.State == PosEntryPending {
			n++
		}
	}
	return n
}

// clone deep-copies the state for lock-free readers.
func (s *State) clone() *State {
	cp := *s
	cp.Positions = make(map[string]*Position, len(s.Positions))
	for code, p := range s.Positions {
		pc := *p
		cp.Positions[code] = &pc
	}
	cp.EntryOrder = append([]string(nil), s.EntryOrder...)
	cp.Logs = append([]LogEntry(nil), s.Logs...)
	return &cp
}
