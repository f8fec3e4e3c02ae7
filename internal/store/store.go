// Package store persists trades, universe snapshots, engine events and daily
// bars in a single SQLite database shared by both engine modes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mystocks/internal/store/model"
)

// TradeRecord is one completed order fill.
type TradeRecord struct {
	Mode       string    `json:"mode"`
	TradeDate  string    `json:"trade_date"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Side       string    `json:"side"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	ExitReason string    `json:"exit_reason,omitempty"`
	Pnl        float64   `json:"pnl"`
	PnlRate    float64   `json:"pnl_rate"`
	At         time.Time `json:"at"`
}

// UniverseRecord is one candidate selected by the nightly universe build.
type UniverseRecord struct {
	Mode       string  `json:"mode"`
	Date       string  `json:"date"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	PrevClose  float64 `json:"prev_close"`
	PrevHigh   float64 `json:"prev_high"`
	ChangeRate float64 `json:"change_rate"`
	MarketCap  float64 `json:"market_cap"`
}

// EventRecord is one structured engine event.
type EventRecord struct {
	Mode    string         `json:"mode"`
	Date    string         `json:"date"`
	Level   string         `json:"level"`
	Phase   string         `json:"phase,omitempty"`
	Code    string         `json:"code,omitempty"`
	Event   string         `json:"event"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// DailyBar is one instrument's daily OHLCV row.
type DailyBar struct {
	Date       string  `json:"date"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	ChangeRate float64 `json:"change_rate"`
}

// Store wraps the gorm handle. Safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	// mattn/go-sqlite3 parameter names; the modernc `_pragma=` form is
	// silently ignored by this driver.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.TradeModel{},
		&model.UniverseModel{},
		&model.EventModel{},
		&model.DailyBarModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendTrade records one fill in the trade ledger.
func (s *Store) AppendTrade(ctx context.Context, rec TradeRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	row := model.TradeModel{
		Mode:       rec.Mode,
		TradeDate:  rec.TradeDate,
		Code:       rec.Code,
		Name:       rec.Name,
		Side:       rec.Side,
		Quantity:   rec.Quantity,
		Price:      rec.Price,
		Amount:     rec.Amount,
		ExitReason: rec.ExitReason,
		Pnl:        rec.Pnl,
		PnlRate:    rec.PnlRate,
		CreatedAt:  at.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListTrades returns the ledger for mode between from and to (inclusive,
// YYYY-MM-DD). Empty bounds are open-ended.
func (s *Store) ListTrades(ctx context.Context, mode, from, to string) ([]TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&model.TradeModel{}).Where("mode = ?", mode)
	if from != "" {
		q = q.Where("trade_date >= ?", from)
	}
	if to != "" {
		q = q.Where("trade_date <= ?", to)
	}
	var rows []model.TradeModel
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, TradeRecord{
			Mode:       r.Mode,
			TradeDate:  r.TradeDate,
			Code:       r.Code,
			Name:       r.Name,
			Side:       r.Side,
			Quantity:   r.Quantity,
			Price:      r.Price,
			Amount:     r.Amount,
			ExitReason: r.ExitReason,
			Pnl:        r.Pnl,
			PnlRate:    r.PnlRate,
			At:         time.UnixMilli(r.CreatedAt),
		})
	}
	return out, nil
}

// SaveUniverse replaces mode's universe snapshot for date.
func (s *Store) SaveUniverse(ctx context.Context, mode, date string, recs []UniverseRecord) error {
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mode = ? AND date = ?", mode, date).
			Delete(&model.UniverseModel{}).Error; err != nil {
			return err
		}
		for _, rec := range recs {
			row := model.UniverseModel{
				Mode:       mode,
				Date:       date,
				Code:       rec.Code,
				Name:       rec.Name,
				PrevClose:  rec.PrevClose,
				PrevHigh:   rec.PrevHigh,
				ChangeRate: rec.ChangeRate,
				MarketCap:  rec.MarketCap,
				CreatedAt:  now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "mode"}, {Name: "date"}, {Name: "code"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUniverse returns mode's universe snapshot for date, ordered by market
// cap descending, which is also the entry priority order.
func (s *Store) ListUniverse(ctx context.Context, mode, date string) ([]UniverseRecord, error) {
	var rows []model.UniverseModel
	err := s.db.WithContext(ctx).
		Where("mode = ? AND date = ?", mode, date).
		Order("market_cap DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]UniverseRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, UniverseRecord{
			Mode:       r.Mode,
			Date:       r.Date,
			Code:       r.Code,
			Name:       r.Name,
			PrevClose:  r.PrevClose,
			PrevHigh:   r.PrevHigh,
			ChangeRate: r.ChangeRate,
			MarketCap:  r.MarketCap,
		})
	}
	return out, nil
}

// AppendEvent writes one structured engine event.
func (s *Store) AppendEvent(ctx context.Context, rec EventRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	var data datatypes.JSON
	if len(rec.Data) > 0 {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("store: marshal event data: %w", err)
		}
		data = datatypes.JSON(raw)
	}
	row := model.EventModel{
		Mode:      rec.Mode,
		Date:      rec.Date,
		Level:     rec.Level,
		Phase:     rec.Phase,
		Code:      rec.Code,
		Event:     rec.Event,
		Message:   rec.Message,
		Data:      data,
		CreatedAt: at.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListEvents returns up to limit most recent events for mode on date, newest
// first. limit <= 0 means no limit.
func (s *Store) ListEvents(ctx context.Context, mode, date string, limit int) ([]EventRecord, error) {
	q := s.db.WithContext(ctx).Model(&model.EventModel{}).
		Where("mode = ? AND date = ?", mode, date).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(rows))
	for _, r := range rows {
		rec := EventRecord{
			Mode:    r.Mode,
			Date:    r.Date,
			Level:   r.Level,
			Phase:   r.Phase,
			Code:    r.Code,
			Event:   r.Event,
			Message: r.Message,
			At:      time.UnixMilli(r.CreatedAt),
		}
		if len(r.Data) > 0 {
			_ = json.Unmarshal(r.Data, &rec.Data)
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpsertDailyBars inserts or updates daily bars keyed by (date, code).
func (s *Store) UpsertDailyBars(ctx context.Context, bars []DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]model.DailyBarModel, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, model.DailyBarModel{
			Date:       b.Date,
			Code:       b.Code,
			Name:       b.Name,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			ChangeRate: b.ChangeRate,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "code"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 200).Error
}

// DailyBars returns all instruments' bars for date.
func (s *Store) DailyBars(ctx context.Context, date string) ([]DailyBar, error) {
	var rows []model.DailyBarModel
	if err := s.db.WithContext(ctx).Where("date = ?", date).Find(&rows).Error; err != nil {
		return nil, err
	}
	return barsFromModels(rows), nil
}

// BarsForCode returns code's bars up to and including date, ascending, at
// most n rows.
func (s *Store) BarsForCode(ctx context.Context, code, date string, n int) ([]DailyBar, error) {
	var rows []model.DailyBarModel
	q := s.db.WithContext(ctx).
		Where("code = ? AND date <= ?", code, date).
		Order("date DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	// Reverse into ascending order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return barsFromModels(rows), nil
}

// IndexCloses returns the last n closes of code up to date, ascending.
func (s *Store) IndexCloses(ctx context.Context, code, date string, n int) ([]float64, error) {
	bars, err := s.BarsForCode(ctx, code, date, n)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.Close)
	}
	return closes, nil
}

func barsFromModels(rows []model.DailyBarModel) []DailyBar {
	out := make([]DailyBar, 0, len(rows))
	for _, r := range rows {
		out = append(out, DailyBar{
			Date:       r.Date,
			Code:       r.Code,
			Name:       r.Name,
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			ChangeRate: r.ChangeRate,
		})
	}
	return out
}
