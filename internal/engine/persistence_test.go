package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := snapshotPath(dir, "mock")

	st := newState("mock", "2026-08-31")
	st.Phase = PhaseMonitoring
	st.TotalAsset = 10_000_000
	st.DailyPnl = -120_000
	st.Positions["005930"] = &Position{
		Code: "005930", Name: "삼성전자", State: PosEntered,
		PrevClose: 69800, EntryPrice: 71300, Quantity: 20, HighWaterMark: 72000,
	}
	st.appendLog(LogEntry{Level: "info", Event: "entered", Code: "005930"})

	require.NoError(t, saveSnapshot(path, st))

	got, err := loadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2026-08-31", got.TradingDate)
	assert.Equal(t, PhaseMonitoring, got.Phase)
	assert.InDelta(t, -120_000, got.DailyPnl, 1e-9)
	require.Contains(t, got.Positions, "005930")
	assert.Equal(t, PosEntered, got.Positions["005930"].State)
	assert.InDelta(t, 72000, got.Positions["005930"].HighWaterMark, 1e-9)
	assert.Len(t, got.Logs, 1)
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	got, err := loadSnapshot(filepath.Join(t.TempDir(), "state_mock.json"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadSnapshotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state_mock.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))
	_, err := loadSnapshot(path)
	assert.Error(t, err)
}

func TestSaveSnapshotLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveSnapshot(snapshotPath(dir, "mock"), newState("mock", "2026-08-31")))
	require.NoError(t, saveSnapshot(snapshotPath(dir, "mock"), newState("mock", "2026-08-31")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state_mock.json", entries[0].Name())
}
