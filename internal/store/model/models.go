// Package model declares the gorm table models for the trading store.
package model

import "gorm.io/datatypes"

// TradeModel is one row of the append-only trade ledger. Rows are never
// updated or deleted; the ledger is the only state that outlives a trading
// day.
type TradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	Mode       string  `gorm:"column:mode;index:idx_trades_mode_date,priority:1"`
	TradeDate  string  `gorm:"column:trade_date;index:idx_trades_mode_date,priority:2"`
	Code       string  `gorm:"column:code"`
	Name       string  `gorm:"column:name"`
	Side       string  `gorm:"column:side"`
	Quantity   int     `gorm:"column:quantity"`
	Price      float64 `gorm:"column:price"`
	Amount     float64 `gorm:"column:amount"`
	ExitReason string  `gorm:"column:exit_reason"`
	Pnl        float64 `gorm:"column:pnl"`
	PnlRate    float64 `gorm:"column:pnl_rate"`
	CreatedAt  int64   `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// UniverseModel records one instrument of a day's built universe, kept for
// audit independent of the live position map.
type UniverseModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	Mode       string  `gorm:"column:mode;uniqueIndex:idx_universe,priority:1"`
	Date       string  `gorm:"column:date;uniqueIndex:idx_universe,priority:2"`
	Code       string  `gorm:"column:code;uniqueIndex:idx_universe,priority:3"`
	Name       string  `gorm:"column:name"`
	PrevClose  float64 `gorm:"column:prev_close"`
	PrevHigh   float64 `gorm:"column:prev_high"`
	ChangeRate float64 `gorm:"column:change_rate"`
	MarketCap  float64 `gorm:"column:market_cap"`
	CreatedAt  int64   `gorm:"column:created_at"`
}

func (UniverseModel) TableName() string { return "universe_history" }

// EventModel is the structured engine event log.
type EventModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Mode      string         `gorm:"column:mode;index:idx_events_mode_date,priority:1"`
	Date      string         `gorm:"column:date;index:idx_events_mode_date,priority:2"`
	Level     string         `gorm:"column:level"`
	Phase     string         `gorm:"column:phase"`
	Code      string         `gorm:"column:code"`
	Event     string         `gorm:"column:event"`
	Message   string         `gorm:"column:message"`
	Data      datatypes.JSON `gorm:"column:data;type:TEXT"`
	CreatedAt int64          `gorm:"column:created_at"`
}

func (EventModel) TableName() string { return "engine_events" }

// DailyBarModel holds one instrument's daily OHLCV, fed by the external data
// pipeline and read by the universe builder and the index filter.
type DailyBarModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	Date       string  `gorm:"column:date;uniqueIndex:idx_bars,priority:1"`
	Code       string  `gorm:"column:code;uniqueIndex:idx_bars,priority:2"`
	Name       string  `gorm:"column:name"`
	Open       float64 `gorm:"column:open"`
	High       float64 `gorm:"column:high"`
	Low        float64 `gorm:"column:low"`
	Close      float64 `gorm:"column:close"`
	Volume     int64   `gorm:"column:volume"`
	ChangeRate float64 `gorm:"column:change_rate"`
}

func (DailyBarModel) TableName() string { return "daily_bars" }
