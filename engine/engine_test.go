package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gridbot/config"
	"gridbot/exchange"
	"gridbot/feed"
	"gridbot/ledger"
	"gridbot/planner"
)

type placedOrder struct {
	side planner.Side
	qty  float64
}

type fakeGateway struct {
	mark   float64
	equity float64

	limitOrders     []placedOrder
	failLimitOrders int // fail this many PlaceLimitOrder calls first
	marketOrders    int
	cancelAllCalls  int
	cancelSideSide  []planner.Side

	flatAfterPolls int
	positionPolls  int
}

func (f *fakeGateway) Name() string { return "fake" }
func (f *fakeGateway) PlaceLimitOrder(side planner.Side, price, qty float64) (string, error) {
	if f.failLimitOrders > 0 {
		f.failLimitOrders--
		return "", fmt.Errorf("exchange unavailable")
	}
	f.limitOrders = append(f.limitOrders, placedOrder{side: side, qty: qty})
	return fmt.Sprintf("oid-%d", len(f.limitOrders)), nil
}
func (f *fakeGateway) PlaceMarketOrder(planner.Side, float64) error {
	f.marketOrders++
	return nil
}
func (f *fakeGateway) CancelAllOrders() error {
	f.cancelAllCalls++
	return nil
}
func (f *fakeGateway) CancelOrdersBySide(side planner.Side) error {
	f.cancelSideSide = append(f.cancelSideSide, side)
	return nil
}
func (f *fakeGateway) AccountEquity() (float64, error) { return f.equity, nil }
func (f *fakeGateway) InstrumentPrecision() (planner.Precision, error) {
	return planner.Precision{Price: 4, Quantity: 0}, nil
}
func (f *fakeGateway) Position() (*exchange.Position, error) {
	f.positionPolls++
	if f.positionPolls > f.flatAfterPolls {
		return &exchange.Position{Side: feed.PositionNone}, nil
	}
	return &exchange.Position{Size: 3, Side: feed.PositionShort}, nil
}
func (f *fakeGateway) OpenOrders() ([]exchange.Order, error) { return nil, nil }
func (f *fakeGateway) MarkPrice() (float64, error)           { return f.mark, nil }

// tpOrders counts limit orders on the exit side of a long bot.
func (f *fakeGateway) tpOrders() int {
	n := 0
	for _, o := range f.limitOrders {
		if o.side == planner.Sell {
			n++
		}
	}
	return n
}

type testRig struct {
	engine    *Engine
	gateway   *fakeGateway
	dataDir   string
	ledgerDir string
	bot       *config.BotConfig
	clock     time.Time
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	bot := &config.BotConfig{
		Name:   "xrp_grid",
		Symbol: "XRPUSDT",
		Params: config.DefaultParams(),
	}
	require.NoError(t, bot.Validate())

	dataDir := t.TempDir()
	ledgerDir := t.TempDir()
	gw := &fakeGateway{mark: 0.52, equity: 10000}
	led := ledger.New(ledgerDir, bot.Params.CommissionRate)

	rig := &testRig{
		engine:    New("main", bot, gw, led, nil, nil, dataDir),
		gateway:   gw,
		dataDir:   dataDir,
		ledgerDir: ledgerDir,
		bot:       bot,
		clock:     time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	rig.engine.now = func() time.Time { return rig.clock }
	rig.engine.sleep = func(time.Duration) {}
	return rig
}

func (r *testRig) advance(d time.Duration) {
	r.clock = r.clock.Add(d)
}

func (r *testRig) writeSignal(t *testing.T, entry bool) {
	t.Helper()
	err := feed.WriteMarket(feed.MarketPath(r.dataDir, r.bot.Name),
		&feed.MarketSnapshot{Timestamp: r.clock, EntrySignal: entry})
	require.NoError(t, err)
}

func (r *testRig) writeExec(t *testing.T, size float64, orders int, mark float64) {
	t.Helper()
	snap := &feed.ExecutionSnapshot{
		Timestamp:      r.clock,
		PositionSize:   size,
		PositionSide:   feed.PositionNone,
		AvgEntryPrice:  0.51,
		MarkPrice:      mark,
		OpenOrderCount: orders,
	}
	if size > 0 {
		snap.PositionSide = feed.PositionLong
	}
	err := feed.WriteExecution(feed.ExecutionPath(r.dataDir, "main", r.bot.Name), snap)
	require.NoError(t, err)
}

func TestFullCycleSingleTPSingleClose(t *testing.T) {
	rig := newRig(t)

	// Entry: flat book plus a fresh signal arms the grid.
	rig.writeSignal(t, true)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, PhaseGridPlaced, rig.engine.state.Phase)
	gridOrders := len(rig.gateway.limitOrders)
	require.Equal(t, rig.bot.Params.GridSize, gridOrders)
	require.Equal(t, 0, rig.gateway.tpOrders())

	// First fill places exactly one TP.
	rig.advance(time.Minute)
	rig.writeExec(t, 5, 8, 0.515)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, PhasePositionOpen, rig.engine.state.Phase)
	require.Equal(t, 1, rig.gateway.tpOrders())

	// Unchanged size is a no-op.
	rig.advance(time.Minute)
	rig.writeExec(t, 5, 8, 0.515)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 1, rig.gateway.tpOrders())

	// Close books the ledger exactly once and clears the book.
	rig.advance(time.Minute)
	rig.gateway.equity = 10050
	rig.writeExec(t, 0, 1, 0.52)
	cancels := rig.gateway.cancelAllCalls
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, PhaseIdle, rig.engine.state.Phase)
	require.Equal(t, cancels+1, rig.gateway.cancelAllCalls)

	snap, err := ledger.New(rig.ledgerDir, 0.1).Read()
	require.NoError(t, err)
	require.NotNil(t, snap.InitialBalance)
	require.Equal(t, 10050.0, *snap.InitialBalance, "first close seeds the ledger")
}

func TestResizeRespectsCooldown(t *testing.T) {
	rig := newRig(t)

	rig.writeSignal(t, true)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())

	rig.advance(time.Minute)
	rig.writeExec(t, 5, 8, 0.515)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 1, rig.gateway.tpOrders())

	// Size changed but the TP cooldown is still running.
	rig.advance(time.Minute)
	rig.writeExec(t, 8, 7, 0.512)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 1, rig.gateway.tpOrders(), "rebuild suppressed inside cooldown")

	// Past the cooldown the pending resize is applied.
	rig.advance(2 * time.Minute)
	rig.writeExec(t, 8, 7, 0.512)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 2, rig.gateway.tpOrders())
}

func TestFailedTakeProfitIsRetriedNextCycle(t *testing.T) {
	rig := newRig(t)
	rig.engine.state = State{Phase: PhaseGridPlaced, Armed: true, LastGridTime: rig.clock}

	// Exchange rejects the first TP attempt on the fill.
	rig.gateway.failLimitOrders = 1
	rig.advance(time.Minute)
	rig.writeExec(t, 5, 8, 0.515)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 0, rig.gateway.tpOrders())
	require.Equal(t, PhaseGridPlaced, rig.engine.state.Phase)
	require.Equal(t, 0.0, rig.engine.state.LastSize, "failed fill handling must not cache the size")

	// Same snapshot next cycle: the fill transition fires again.
	rig.advance(time.Minute)
	rig.writeExec(t, 5, 8, 0.515)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 1, rig.gateway.tpOrders())
	require.Equal(t, PhasePositionOpen, rig.engine.state.Phase)

	// A failed rebuild after a resize is retried the same way.
	rig.advance(3 * time.Minute)
	rig.gateway.failLimitOrders = 1
	rig.writeExec(t, 8, 7, 0.512)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 1, rig.gateway.tpOrders())
	require.Equal(t, 5.0, rig.engine.state.LastSize, "failed rebuild keeps the stale size")

	rig.advance(time.Minute)
	rig.writeExec(t, 8, 7, 0.512)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 2, rig.gateway.tpOrders())

	// The close still books the ledger once the position exits.
	rig.advance(time.Minute)
	rig.gateway.equity = 10100
	rig.writeExec(t, 0, 1, 0.52)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, PhaseIdle, rig.engine.state.Phase)
	snap, err := ledger.New(rig.ledgerDir, 0.1).Read()
	require.NoError(t, err)
	require.NotNil(t, snap.InitialBalance, "close was recorded")
}

func TestReorderThresholdBoundary(t *testing.T) {
	cases := []struct {
		name    string
		mark    float64
		reorder bool
	}{
		{"price ran away", 100.5, true},
		{"price near grid", 100.1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newRig(t)
			rig.engine.state = State{
				Phase:          PhaseGridPlaced,
				Armed:          true,
				FirstGridPrice: 100,
				LastGridTime:   rig.clock.Add(-4 * time.Minute),
			}
			rig.writeExec(t, 0, 10, tc.mark)

			require.NoError(t, rig.engine.Cycle())
			if tc.reorder {
				require.Equal(t, 1, rig.gateway.cancelAllCalls)
				require.Equal(t, PhaseIdle, rig.engine.state.Phase)
			} else {
				require.Equal(t, 0, rig.gateway.cancelAllCalls)
				require.Equal(t, PhaseGridPlaced, rig.engine.state.Phase)
			}
		})
	}
}

func TestYoungGridIsNotReordered(t *testing.T) {
	rig := newRig(t)
	rig.engine.state = State{
		Phase:          PhaseGridPlaced,
		Armed:          true,
		FirstGridPrice: 100,
		LastGridTime:   rig.clock.Add(-time.Minute),
	}
	rig.writeExec(t, 0, 10, 100.5)

	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 0, rig.gateway.cancelAllCalls)
	require.Equal(t, PhaseGridPlaced, rig.engine.state.Phase)
}

func TestWrongSideGuardStopsBot(t *testing.T) {
	rig := newRig(t)
	rig.gateway.flatAfterPolls = 2

	err := feed.WriteExecution(feed.ExecutionPath(rig.dataDir, "main", rig.bot.Name),
		&feed.ExecutionSnapshot{
			Timestamp:    rig.clock,
			PositionSize: 3,
			PositionSide: feed.PositionShort,
			MarkPrice:    0.52,
		})
	require.NoError(t, err)

	err = rig.engine.Cycle()
	require.ErrorIs(t, err, ErrWrongSide)
	require.Equal(t, 1, rig.gateway.marketOrders, "exactly one flatten order")
	require.GreaterOrEqual(t, rig.gateway.positionPolls, 3, "polled until flat")
}

func TestStartupReconciliationCancelsStaleGrid(t *testing.T) {
	rig := newRig(t)
	rig.writeExec(t, 0, 7, 0.52)

	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 1, rig.gateway.cancelAllCalls)
	require.Equal(t, PhaseIdle, rig.engine.state.Phase)
	require.Empty(t, rig.gateway.limitOrders)
}

func TestStaleSignalBlocksEntry(t *testing.T) {
	rig := newRig(t)

	rig.writeSignal(t, true)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, PhaseGridPlaced, rig.engine.state.Phase)

	// Grid cancelled externally; same snapshot timestamp means no new signal.
	rig.engine.state = State{Phase: PhaseIdle, Armed: true, LastGridTime: rig.clock.Add(-3 * time.Minute)}
	placed := len(rig.gateway.limitOrders)
	rig.advance(3 * time.Minute)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, placed, len(rig.gateway.limitOrders), "stale signal places nothing")
}

func TestEntryCooldownBlocksReentry(t *testing.T) {
	rig := newRig(t)

	rig.writeSignal(t, true)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())
	placed := len(rig.gateway.limitOrders)

	// Fresh signal one minute later, but the grid was just placed.
	rig.engine.state.Phase = PhaseIdle
	rig.advance(time.Minute)
	rig.writeSignal(t, true)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, placed, len(rig.gateway.limitOrders))
}

func TestEntryBlockedByLedgerGate(t *testing.T) {
	rig := newRig(t)
	record := `{"version":1,"initial_balance":10000,"last_balance":9000,"user_balance":-5,` +
		`"cumulative_profit":-1000,"commission_rate":0.1,"entry_allowed":false,` +
		`"last_updated":"2026-01-09T00:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(rig.ledgerDir, "ledger.json"), []byte(record), 0o644))

	rig.writeSignal(t, true)
	rig.writeExec(t, 0, 0, 0.52)
	require.NoError(t, rig.engine.Cycle())
	require.Empty(t, rig.gateway.limitOrders)
	require.Equal(t, PhaseIdle, rig.engine.state.Phase)
}

func TestMissingSnapshotIsNoop(t *testing.T) {
	rig := newRig(t)
	require.NoError(t, rig.engine.Cycle())
	require.Equal(t, 0, rig.gateway.cancelAllCalls)
	require.Empty(t, rig.gateway.limitOrders)
}
