// Package marketdata layers daily-bar history and the index regime filter on
// top of the store and the live quote feed.
package marketdata

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"mystocks/internal/broker"
	"mystocks/internal/logger"
	"mystocks/internal/store"
)

// Quoter is the slice of the broker the market filter needs.
type Quoter interface {
	GetQuote(ctx context.Context, code string) (broker.Quote, error)
}

// Source reads historical bars and evaluates the index filter.
type Source struct {
	store  *store.Store
	quoter Quoter
}

func New(st *store.Store, quoter Quoter) *Source {
	return &Source{store: st, quoter: quoter}
}

// Bars returns all instruments' daily bars for date (YYYY-MM-DD).
func (s *Source) Bars(ctx context.Context, date string) ([]store.DailyBar, error) {
	return s.store.DailyBars(ctx, date)
}

// IndexAboveMA reports whether the index trades above its days-day simple
// moving average. The MA is computed over stored closes up to date combined
// with the live index level. Missing history fails open: a data gap must not
// silence the whole entry window.
func (s *Source) IndexAboveMA(ctx context.Context, code, date string, days int) (bool, error) {
	if days <= 0 {
		return false, fmt.Errorf("marketdata: ma days %d", days)
	}
	quote, err := s.quoter.GetQuote(ctx, code)
	if err != nil {
		logger.Warnf("marketdata: index quote %s failed, filter passes: %v", code, err)
		return true, nil
	}
	closes, err := s.store.IndexCloses(ctx, code, date, days-1)
	if err != nil {
		return false, err
	}
	if len(closes) < days-1 {
		logger.Warnf("marketdata: only %d closes for %s, filter passes", len(closes), code)
		return true, nil
	}
	series := append(closes, quote.Price)
	ma := talib.Sma(series, days)
	last := ma[len(ma)-1]
	return quote.Price > last, nil
}
