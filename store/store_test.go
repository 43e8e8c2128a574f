package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrderJournalRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Orders().Record("main", "xrp_grid", "oid-1", "Buy", 0.52, 1500, "grid"))
	require.NoError(t, s.Orders().Record("main", "xrp_grid", "oid-2", "Sell", 0.55, 1500, "take_profit"))
	require.NoError(t, s.Orders().Record("main", "eth_grid", "oid-3", "Buy", 2400, 0.5, "grid"))

	records, err := s.Orders().Recent("main", "xrp_grid", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "oid-2", records[0].OrderID, "newest first")
	require.Equal(t, "take_profit", records[0].Purpose)
	require.Equal(t, 0.52, records[1].Price)
}

func TestCycleEventLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Cycles().Record("main", "xrp_grid", "entry", "placed 10/10 levels"))
	}
	events, err := s.Cycles().Recent("main", "xrp_grid", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "entry", events[0].Event)
}

func TestEquityPoints(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Equity().Record("main", "xrp_grid", 10000))
	require.NoError(t, s.Equity().Record("main", "xrp_grid", 10050))

	points, err := s.Equity().Recent("main", "xrp_grid", 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, 10050.0, points[0].Equity)
}

func TestRecentIsScopedToBot(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Cycles().Record("main", "xrp_grid", "close", ""))
	require.NoError(t, s.Cycles().Record("alt", "xrp_grid", "close", ""))

	events, err := s.Cycles().Recent("alt", "xrp_grid", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "alt", events[0].Account)
}
