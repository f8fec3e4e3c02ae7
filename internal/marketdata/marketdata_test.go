package marketdata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mystocks/internal/broker"
	"mystocks/internal/store"
)

type fakeQuoter struct {
	quote broker.Quote
	err   error
}

func (f *fakeQuoter) GetQuote(ctx context.Context, code string) (broker.Quote, error) {
	return f.quote, f.err
}

func newSource(t *testing.T, q Quoter) (*Source, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "md.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, q), st
}

func seedIndex(t *testing.T, st *store.Store, closes map[string]float64) {
	t.Helper()
	var bars []store.DailyBar
	for date, c := range closes {
		bars = append(bars, store.DailyBar{Date: date, Code: "0001", Close: c})
	}
	require.NoError(t, st.UpsertDailyBars(context.Background(), bars))
}

func TestIndexAboveMA(t *testing.T) {
	q := &fakeQuoter{quote: broker.Quote{Code: "0001", Price: 3200}}
	src, st := newSource(t, q)
	seedIndex(t, st, map[string]float64{
		"2026-08-24": 3100,
		"2026-08-25": 3120,
		"2026-08-26": 3090,
		"2026-08-27": 3150,
		"2026-08-28": 3180,
	})

	// MA5 over the last four closes plus the live 3200 level is 3148;
	// the index at 3200 is above it.
	ok, err := src.IndexAboveMA(context.Background(), "0001", "2026-08-28", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	q.quote.Price = 3000
	ok, err = src.IndexAboveMA(context.Background(), "0001", "2026-08-28", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexFilterFailsOpen(t *testing.T) {
	t.Run("quote error", func(t *testing.T) {
		src, _ := newSource(t, &fakeQuoter{err: errors.New("down")})
		ok, err := src.IndexAboveMA(context.Background(), "0001", "2026-08-28", 5)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("short history", func(t *testing.T) {
		src, st := newSource(t, &fakeQuoter{quote: broker.Quote{Price: 100}})
		seedIndex(t, st, map[string]float64{"2026-08-28": 3180})
		ok, err := src.IndexAboveMA(context.Background(), "0001", "2026-08-28", 5)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
