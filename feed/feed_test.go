package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketRoundTrip(t *testing.T) {
	path := MarketPath(t.TempDir(), "xrp_grid")

	snap, err := ReadMarket(path)
	require.NoError(t, err)
	assert.Nil(t, snap, "missing file must read as no data, not an error")

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, WriteMarket(path, &MarketSnapshot{Timestamp: ts, EntrySignal: true}))

	snap, err = ReadMarket(path)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.EntrySignal)
	assert.True(t, snap.Timestamp.Equal(ts))
}

func TestExecutionRoundTrip(t *testing.T) {
	path := ExecutionPath(t.TempDir(), "main", "xrp_grid")

	require.NoError(t, WriteExecution(path, &ExecutionSnapshot{
		Timestamp:       time.Now().UTC(),
		PositionSize:    12.5,
		PositionSide:    PositionLong,
		AvgEntryPrice:   2.41,
		MarkPrice:       2.43,
		OpenOrderCount:  2,
		OpenOrderPrices: []float64{2.40, 2.39},
		OpenOrderSizes:  []float64{5, 6},
	}))

	snap, err := ReadExecution(path)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 12.5, snap.PositionSize)
	assert.Equal(t, PositionLong, snap.PositionSide)
	assert.Len(t, snap.OpenOrderPrices, 2)
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := MarketPath(dir, "xrp_grid")
	require.NoError(t, WriteMarket(path, &MarketSnapshot{Timestamp: time.Now()}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "market.json", entries[0].Name())
}

func TestCorruptSnapshotIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := ReadMarket(path)
	assert.Error(t, err)
}
