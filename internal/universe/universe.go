// Package universe builds the daily watch list of prior-day limit-up
// instruments.
package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"mystocks/internal/broker"
	"mystocks/internal/broker/kis"
	"mystocks/internal/calendar"
	"mystocks/internal/config"
	"mystocks/internal/logger"
	"mystocks/internal/store"
)

// ErrBuildBlocked is returned between 16:00 and 18:00, when the exchange is
// finalizing the session and neither same-day nor prior-day data is reliable.
var ErrBuildBlocked = errors.New("universe: build blocked between 16:00 and 18:00")

// Quoter supplies live quotes, used here for the market cap screen.
type Quoter interface {
	GetQuote(ctx context.Context, code string) (broker.Quote, error)
}

// Ranker supplies the exchange-wide gainers list as a fallback when no local
// bar data exists for the target date.
type Ranker interface {
	FluctuationRanking(ctx context.Context) ([]kis.RankedStock, error)
}

// Builder screens candidates and persists the result per mode and date.
type Builder struct {
	store  *store.Store
	quoter Quoter
	ranker Ranker
	cal    *calendar.Calendar
	cfg    config.UniverseConfig

	// quoteDelay spaces market cap lookups to stay under the API rate limit.
	quoteDelay time.Duration
}

func NewBuilder(st *store.Store, quoter Quoter, ranker Ranker, cal *calendar.Calendar, cfg config.UniverseConfig) *Builder {
	return &Builder{
		store:      st,
		quoter:     quoter,
		ranker:     ranker,
		cal:        cal,
		cfg:        cfg,
		quoteDelay: 100 * time.Millisecond,
	}
}

// TargetDate decides which session's data the build should use. Before 16:00
// the prior trading day feeds today's session; from 18:00 the finished
// session feeds tomorrow's.
func (b *Builder) TargetDate(now time.Time) (time.Time, error) {
	switch h := now.Hour(); {
	case h >= 16 && h < 18:
		return time.Time{}, ErrBuildBlocked
	case h >= 18:
		if b.cal.IsTradingDay(now) {
			return now, nil
		}
		return b.cal.PrevTradingDay(now), nil
	default:
		return b.cal.PrevTradingDay(now), nil
	}
}

type candidate struct {
	code         string
	name         string
	prevClose    float64
	prevHigh     float64
	changeRate   float64
	tradingValue float64
}

// Build screens the target date's gainers and saves the surviving set for
// mode. The returned records are ordered by market cap descending, which is
// the engine's entry priority.
func (b *Builder) Build(ctx context.Context, mode string, now time.Time) ([]store.UniverseRecord, error) {
	target, err := b.TargetDate(now)
	if err != nil {
		return nil, err
	}
	date := target.Format("2006-01-02")
	logger.Infof("universe: building for %s (mode=%s)", date, mode)

	cands, err := b.candidatesFromBars(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 && b.ranker != nil {
		cands, err = b.candidatesFromRanking(ctx)
		if err != nil {
			return nil, fmt.Errorf("universe: ranking fallback: %w", err)
		}
	}
	logger.Infof("universe: %d limit-up candidates before screening", len(cands))

	var recs []store.UniverseRecord
	for i, c := range cands {
		if c.tradingValue < b.cfg.MinTradingValue {
			logger.Debugf("universe: %s trading value %.0f below %.0f", c.code, c.tradingValue, b.cfg.MinTradingValue)
			continue
		}
		if i > 0 && b.quoteDelay > 0 {
			time.Sleep(b.quoteDelay)
		}
		quote, err := b.quoter.GetQuote(ctx, c.code)
		if err != nil {
			logger.Warnf("universe: market cap lookup %s failed: %v", c.code, err)
			continue
		}
		if quote.MarketCap < b.cfg.MinMarketCap {
			logger.Debugf("universe: %s market cap %.0f below %.0f", c.code, quote.MarketCap, b.cfg.MinMarketCap)
			continue
		}
		recs = append(recs, store.UniverseRecord{
			Mode:       mode,
			Date:       date,
			Code:       c.code,
			Name:       c.name,
			PrevClose:  c.prevClose,
			PrevHigh:   c.prevHigh,
			ChangeRate: c.changeRate,
			MarketCap:  quote.MarketCap,
		})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].MarketCap > recs[j].MarketCap })

	if err := b.store.SaveUniverse(ctx, mode, date, recs); err != nil {
		return nil, fmt.Errorf("universe: save: %w", err)
	}
	logger.Infof("universe: built %d instruments for %s", len(recs), date)
	return recs, nil
}

// Load returns the persisted universe for mode on the session that now's
// trading day should use.
func (b *Builder) Load(ctx context.Context, mode string, now time.Time) ([]store.UniverseRecord, error) {
	date := b.cal.PrevTradingDay(now).Format("2006-01-02")
	return b.store.ListUniverse(ctx, mode, date)
}

func (b *Builder) candidatesFromBars(ctx context.Context, date string) ([]candidate, error) {
	bars, err := b.store.DailyBars(ctx, date)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, bar := range bars {
		if bar.ChangeRate < b.cfg.UpperLimitRate {
			continue
		}
		out = append(out, candidate{
			code:       bar.Code,
			name:       bar.Name,
			prevClose:  bar.Close,
			prevHigh:   bar.High,
			changeRate: bar.ChangeRate,
			// Trading value in eokwon.
			tradingValue: bar.Close * float64(bar.Volume) / 1e8,
		})
	}
	return out, nil
}

func (b *Builder) candidatesFromRanking(ctx context.Context) ([]candidate, error) {
	ranked, err := b.ranker.FluctuationRanking(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infof("universe: no local bars, screening %d ranked gainers", len(ranked))
	var out []candidate
	for _, r := range ranked {
		if r.ChangeRate < b.cfg.UpperLimitRate {
			continue
		}
		out = append(out, candidate{
			code:         r.Code,
			name:         r.Name,
			prevClose:    r.Price,
			prevHigh:     r.Price,
			changeRate:   r.ChangeRate,
			tradingValue: r.Price * float64(r.Volume) / 1e8,
		})
	}
	return out, nil
}
