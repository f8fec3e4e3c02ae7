package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIsTradingDay(t *testing.T) {
	c := New()

	t.Run("weekends closed", func(t *testing.T) {
		assert.False(t, c.IsTradingDay(date("2026-08-29"))) // Saturday
		assert.False(t, c.IsTradingDay(date("2026-08-30"))) // Sunday
		assert.True(t, c.IsTradingDay(date("2026-08-31")))  // Monday
	})

	t.Run("fixed holidays closed every year", func(t *testing.T) {
		assert.False(t, c.IsTradingDay(date("2026-10-09"))) // Hangul Day, Friday
		assert.False(t, c.IsTradingDay(date("2027-12-31")))
	})

	t.Run("lunar holidays from table", func(t *testing.T) {
		assert.False(t, c.IsTradingDay(date("2026-01-28"))) // Seollal
		assert.False(t, c.IsTradingDay(date("2026-02-17"))) // substitute
		assert.True(t, c.IsTradingDay(date("2026-02-18")))
	})
}

func TestPrevTradingDay(t *testing.T) {
	c := New()

	// Monday walks back over the weekend to Friday.
	assert.Equal(t, date("2026-08-28"), c.PrevTradingDay(date("2026-08-31")))
	// Seollal run 01-28..30 plus the weekend collapses to Tuesday 01-27.
	assert.Equal(t, date("2026-01-27"), c.PrevTradingDay(date("2026-02-02")))
}

func TestLoadOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("holidays:\n  - 2027-02-08\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.False(t, c.IsTradingDay(date("2027-02-08")))
	// Built-in table still applies.
	assert.False(t, c.IsTradingDay(date("2026-05-24")))
}

func TestLoadRejectsBadDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("holidays:\n  - not-a-date\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
