// Package engine runs the per-minute decision loop of one bot. Every cycle
// it re-derives the truth from the latest execution snapshot and issues
// gateway actions; its own state carries timing only, so a missed cycle or a
// restart self-heals on the next pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridbot/config"
	"gridbot/exchange"
	"gridbot/feed"
	"gridbot/ledger"
	"gridbot/logger"
	"gridbot/planner"
	"gridbot/store"
)

// ErrWrongSide is returned after a position opposite to the configured
// direction has been flattened. The supervisor treats it as fatal and does
// not restart the bot.
var ErrWrongSide = errors.New("position on wrong side")

// Phase of the grid lifecycle.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseGridPlaced   Phase = "GRID_PLACED"
	PhasePositionOpen Phase = "POSITION_OPEN"
)

const (
	entryCooldown  = 2 * time.Minute
	gridMinAge     = 180 * time.Second
	cycleOffset    = 5 * time.Second // run after the recorder's minute write
	flattenPoll    = 5 * time.Second
	flattenTimeout = 5 * time.Minute
)

// State is the engine's cycle-to-cycle memory. Position and order truth come
// from the execution snapshot; only timing and the armed flag live here.
type State struct {
	Phase          Phase
	Armed          bool // a grid has been placed in this process lifetime
	LastSize       float64
	FirstGridPrice float64
	LastGridTime   time.Time
	LastTPUpdate   time.Time
}

// Notifier delivers operator alerts. A nil Notifier disables them.
type Notifier interface {
	Notify(text string)
}

// Engine drives one (account, strategy) pair.
type Engine struct {
	account  string
	bot      *config.BotConfig
	gateway  exchange.Gateway
	ledger   *ledger.Ledger
	journal  *store.Store
	notifier Notifier

	marketPath string
	execPath   string

	state        State
	lastMarketTS time.Time

	now   func() time.Time
	sleep func(time.Duration)

	flattenPollEvery time.Duration
	flattenAlertTime time.Duration
}

// New builds an engine. journal and notifier may be nil.
func New(account string, bot *config.BotConfig, gw exchange.Gateway, led *ledger.Ledger, journal *store.Store, notifier Notifier, dataDir string) *Engine {
	return &Engine{
		account:          account,
		bot:              bot,
		gateway:          gw,
		ledger:           led,
		journal:          journal,
		notifier:         notifier,
		marketPath:       feed.MarketPath(dataDir, bot.Name),
		execPath:         feed.ExecutionPath(dataDir, account, bot.Name),
		state:            State{Phase: PhaseIdle},
		now:              time.Now,
		sleep:            time.Sleep,
		flattenPollEvery: flattenPoll,
		flattenAlertTime: flattenTimeout,
	}
}

// State returns a copy of the engine memory for the status API.
func (e *Engine) State() State {
	return e.state
}

// Run executes one cycle per minute until the context ends or a fatal
// condition stops the bot. Cycles start a few seconds past the minute so the
// recorder's snapshot for that minute is already on disk.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("[Engine] %s/%s started: %s %s %s", e.account, e.bot.Name, e.bot.Symbol, e.bot.Direction, e.bot.Policy)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("[Engine] %s/%s stopped", e.account, e.bot.Name)
			return ctx.Err()
		case <-time.After(untilNextCycle(e.now())):
		}

		if err := e.Cycle(); err != nil {
			if errors.Is(err, ErrWrongSide) {
				return err
			}
			logger.Errorf("[Engine] %s/%s cycle failed: %v", e.account, e.bot.Name, err)
		}
	}
}

// untilNextCycle returns the wait to the next minute boundary plus offset.
func untilNextCycle(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute + cycleOffset)
	return next.Sub(now)
}

// Cycle performs one full decision pass. Transient failures skip the cycle;
// the only non-nil return besides ErrWrongSide is never produced.
func (e *Engine) Cycle() error {
	exec, err := feed.ReadExecution(e.execPath)
	if err != nil {
		logger.Warnf("[Engine] %s/%s: %v", e.account, e.bot.Name, err)
		return nil
	}
	if exec == nil {
		logger.Debugf("[Engine] %s/%s: no execution snapshot yet", e.account, e.bot.Name)
		return nil
	}

	// Signal staleness only blocks the entry transition; everything else
	// works off execution truth.
	signal := e.freshSignal()

	if e.wrongSide(exec) {
		return e.flattenAndStop(exec)
	}

	size := exec.PositionSize

	switch {
	case e.state.Phase == PhaseIdle && size == 0 && exec.OpenOrderCount > 0 && !e.state.Armed:
		e.reconcileStaleOrders(exec)

	case e.state.Phase == PhaseIdle && size == 0 && exec.OpenOrderCount == 0 && signal:
		e.tryEntry(exec)

	case size > 0 && e.state.LastSize == 0:
		if !e.onFirstFill(exec) {
			return nil // retry the TP next cycle before caching the size
		}

	case e.state.Phase == PhasePositionOpen && size > 0 && size != e.state.LastSize:
		if e.now().Sub(e.state.LastTPUpdate) < time.Duration(e.bot.Params.TPUpdateCooldown)*time.Second {
			// Keep LastSize stale so the resize is retried once the
			// cooldown expires.
			logger.Debugf("[Engine] %s/%s: TP rebuild on cooldown", e.account, e.bot.Name)
			return nil
		}
		if !e.onResize(exec) {
			return nil
		}

	case e.state.Phase == PhasePositionOpen && size == 0:
		if !e.onClose(exec) {
			return nil // retry the close next cycle
		}

	case e.state.Phase == PhaseGridPlaced && size == 0 && exec.OpenOrderCount > 0 &&
		e.now().Sub(e.state.LastGridTime) > gridMinAge:
		e.maybeReorder(exec)
	}

	e.state.LastSize = size
	return nil
}

// freshSignal reads the market snapshot and reports whether it carries a new
// entry signal. The timestamp must advance; a stalled pipeline is silence.
func (e *Engine) freshSignal() bool {
	market, err := feed.ReadMarket(e.marketPath)
	if err != nil {
		logger.Warnf("[Engine] %s/%s: %v", e.account, e.bot.Name, err)
		return false
	}
	if market == nil || !market.Timestamp.After(e.lastMarketTS) {
		return false
	}
	e.lastMarketTS = market.Timestamp
	return market.EntrySignal
}

// wrongSide reports a position opposite to the configured direction.
func (e *Engine) wrongSide(exec *feed.ExecutionSnapshot) bool {
	if exec.PositionSize == 0 {
		return false
	}
	if e.bot.Direction == config.DirectionShort {
		return exec.PositionSide == feed.PositionLong
	}
	return exec.PositionSide == feed.PositionShort
}

// flattenAndStop market-closes the wrong-side position, waits until the
// exchange confirms zero size and stops the bot for good. The wait is
// unbounded; past the alert timeout the operator is paged while it keeps
// polling.
func (e *Engine) flattenAndStop(exec *feed.ExecutionSnapshot) error {
	logger.Errorf("[Engine] %s/%s: wrong-side position %s size=%v, flattening",
		e.account, e.bot.Name, exec.PositionSide, exec.PositionSize)
	e.notify(fmt.Sprintf("🚨 %s/%s: wrong-side %s position (size %v), flattening and stopping",
		e.account, e.bot.Name, exec.PositionSide, exec.PositionSize))

	closeSide := planner.Buy
	if exec.PositionSide == feed.PositionLong {
		closeSide = planner.Sell
	}
	if err := e.gateway.PlaceMarketOrder(closeSide, exec.PositionSize); err != nil {
		logger.Errorf("[Engine] %s/%s: flatten order failed: %v", e.account, e.bot.Name, err)
	}
	e.journalCycle("wrong_side", fmt.Sprintf("flatten %s size=%v", exec.PositionSide, exec.PositionSize))

	start := e.now()
	alerted := false
	for {
		pos, err := e.gateway.Position()
		if err == nil && pos.Size == 0 {
			break
		}
		if err != nil {
			logger.Warnf("[Engine] %s/%s: flatten poll: %v", e.account, e.bot.Name, err)
		}
		if !alerted && e.now().Sub(start) > e.flattenAlertTime {
			alerted = true
			e.notify(fmt.Sprintf("🚨 %s/%s: still not flat after %s, check the exchange",
				e.account, e.bot.Name, e.flattenAlertTime))
		}
		e.sleep(e.flattenPollEvery)
	}

	logger.Errorf("[Engine] %s/%s: flat, stopping bot", e.account, e.bot.Name)
	return ErrWrongSide
}

// reconcileStaleOrders clears a grid inherited from a previous process.
func (e *Engine) reconcileStaleOrders(exec *feed.ExecutionSnapshot) {
	logger.Infof("[Engine] %s/%s: %d stale orders at startup, cancelling",
		e.account, e.bot.Name, exec.OpenOrderCount)
	if err := e.gateway.CancelAllOrders(); err != nil {
		logger.Warnf("[Engine] %s/%s: cancel stale orders: %v", e.account, e.bot.Name, err)
		return
	}
	e.journalCycle("reconcile", fmt.Sprintf("cancelled %d stale orders", exec.OpenOrderCount))
}

// tryEntry places a fresh grid when the ledger gate and the entry cooldown
// allow it.
func (e *Engine) tryEntry(exec *feed.ExecutionSnapshot) {
	allowed, err := e.ledger.EntryAllowed()
	if err != nil {
		logger.Warnf("[Engine] %s/%s: ledger gate: %v", e.account, e.bot.Name, err)
		return
	}
	if !allowed {
		logger.Infof("[Engine] %s/%s: entry blocked by ledger", e.account, e.bot.Name)
		return
	}
	if !e.state.LastGridTime.IsZero() && e.now().Sub(e.state.LastGridTime) < entryCooldown {
		logger.Debugf("[Engine] %s/%s: entry cooldown active", e.account, e.bot.Name)
		return
	}

	if err := e.gateway.CancelAllOrders(); err != nil {
		logger.Warnf("[Engine] %s/%s: cancel stray orders: %v", e.account, e.bot.Name, err)
		return
	}

	mark, err := e.gateway.MarkPrice()
	if err != nil {
		logger.Warnf("[Engine] %s/%s: mark price: %v", e.account, e.bot.Name, err)
		return
	}
	equity, err := e.gateway.AccountEquity()
	if err != nil {
		logger.Warnf("[Engine] %s/%s: account equity: %v", e.account, e.bot.Name, err)
		return
	}
	prec, err := e.gateway.InstrumentPrecision()
	if err != nil {
		logger.Warnf("[Engine] %s/%s: precision: %v", e.account, e.bot.Name, err)
		return
	}

	capital := equity * e.bot.Params.CapitalPercent
	plan := planner.BuildGrid(mark, capital, e.bot, prec)
	if len(plan) == 0 {
		e.journalCycle("skip", "empty grid plan")
		return
	}

	placed := 0
	for _, intent := range plan {
		orderID, err := e.gateway.PlaceLimitOrder(intent.Side, intent.Price, intent.Quantity)
		if err != nil {
			logger.Warnf("[Engine] %s/%s: place grid level %v@%v: %v",
				e.account, e.bot.Name, intent.Quantity, intent.Price, err)
			continue
		}
		placed++
		e.journalOrder(orderID, intent, "grid")
	}
	if placed == 0 {
		logger.Warnf("[Engine] %s/%s: no grid levels placed", e.account, e.bot.Name)
		return
	}

	e.state.FirstGridPrice = firstGridPrice(mark, e.bot)
	e.state.LastGridTime = e.now()
	e.state.Armed = true
	e.state.Phase = PhaseGridPlaced
	e.journalCycle("entry", fmt.Sprintf("placed %d/%d levels, ref=%v", placed, len(plan), mark))
	logger.Infof("[Engine] %s/%s: grid placed, %d/%d levels at ref %v",
		e.account, e.bot.Name, placed, len(plan), mark)
}

// firstGridPrice offsets the reference price toward the ladder.
func firstGridPrice(mark float64, bot *config.BotConfig) float64 {
	if bot.Direction == config.DirectionShort {
		return mark * (1 + bot.Params.Offset)
	}
	return mark * (1 - bot.Params.Offset)
}

// onFirstFill places the take-profit once the grid starts filling. Returns
// false when placement failed and the fill must be re-handled next cycle.
func (e *Engine) onFirstFill(exec *feed.ExecutionSnapshot) bool {
	if !e.placeTakeProfit(exec) {
		return false
	}
	e.state.Phase = PhasePositionOpen
	e.state.LastTPUpdate = e.now()
	e.journalCycle("tp_placed", fmt.Sprintf("size=%v avg=%v", exec.PositionSize, exec.AvgEntryPrice))
	return true
}

// onResize rebuilds the take-profit after additional grid levels filled.
// Returns false when the rebuild failed and must be retried next cycle.
func (e *Engine) onResize(exec *feed.ExecutionSnapshot) bool {
	if !e.placeTakeProfit(exec) {
		return false
	}
	e.state.LastTPUpdate = e.now()
	e.journalCycle("tp_rebuilt", fmt.Sprintf("size=%v avg=%v", exec.PositionSize, exec.AvgEntryPrice))
	return true
}

// placeTakeProfit cancels the resting exit and rests a fresh one for the
// current size and average entry.
func (e *Engine) placeTakeProfit(exec *feed.ExecutionSnapshot) bool {
	prec, err := e.gateway.InstrumentPrecision()
	if err != nil {
		logger.Warnf("[Engine] %s/%s: precision: %v", e.account, e.bot.Name, err)
		return false
	}

	tp := planner.BuildTakeProfit(exec.AvgEntryPrice, exec.PositionSize,
		e.bot.Params.ProfitTarget, e.bot.Direction, prec)

	if err := e.gateway.CancelOrdersBySide(tp.Side); err != nil {
		logger.Warnf("[Engine] %s/%s: cancel old TP: %v", e.account, e.bot.Name, err)
		return false
	}
	orderID, err := e.gateway.PlaceLimitOrder(tp.Side, tp.Price, tp.Quantity)
	if err != nil {
		logger.Warnf("[Engine] %s/%s: place TP: %v", e.account, e.bot.Name, err)
		return false
	}
	e.journalOrder(orderID, tp, "take_profit")
	logger.Infof("[Engine] %s/%s: TP %s %v@%v", e.account, e.bot.Name, tp.Side, tp.Quantity, tp.Price)
	return true
}

// onClose books the realized balance into the ledger and clears the book.
// Returns false when the equity read failed and the close must be retried.
func (e *Engine) onClose(exec *feed.ExecutionSnapshot) bool {
	equity, err := e.gateway.AccountEquity()
	if err != nil {
		logger.Warnf("[Engine] %s/%s: account equity on close: %v", e.account, e.bot.Name, err)
		return false
	}

	snap, err := e.ledger.RecordClose(equity)
	if err != nil {
		logger.Errorf("[Engine] %s/%s: ledger close: %v", e.account, e.bot.Name, err)
		return false
	}
	if !snap.EntryAllowed {
		e.notify(fmt.Sprintf("⛔ %s/%s: virtual float %.2f below zero, new entries blocked",
			e.account, e.bot.Name, snap.UserBalance))
	}

	if err := e.gateway.CancelAllOrders(); err != nil {
		logger.Warnf("[Engine] %s/%s: cancel after close: %v", e.account, e.bot.Name, err)
	}

	e.state.Phase = PhaseIdle
	e.journalCycle("close", fmt.Sprintf("equity=%.2f float=%.2f profit=%.2f", equity, snap.UserBalance, snap.CumulativeProfit))
	e.journalEquity(equity)
	logger.Infof("[Engine] %s/%s: cycle closed, equity=%.2f float=%.2f",
		e.account, e.bot.Name, equity, snap.UserBalance)
	return true
}

// maybeReorder cancels an aged unfilled grid once price runs away from it.
func (e *Engine) maybeReorder(exec *feed.ExecutionSnapshot) {
	threshold := e.bot.Params.ReorderThreshold
	runaway := exec.MarkPrice > e.state.FirstGridPrice*(1+threshold)
	if e.bot.Direction == config.DirectionShort {
		runaway = exec.MarkPrice < e.state.FirstGridPrice*(1-threshold)
	}
	if !runaway {
		return
	}

	logger.Infof("[Engine] %s/%s: price %v ran away from grid at %v, reordering",
		e.account, e.bot.Name, exec.MarkPrice, e.state.FirstGridPrice)
	if err := e.gateway.CancelAllOrders(); err != nil {
		logger.Warnf("[Engine] %s/%s: cancel for reorder: %v", e.account, e.bot.Name, err)
		return
	}
	e.state.Phase = PhaseIdle
	e.journalCycle("reorder", fmt.Sprintf("mark=%v first=%v", exec.MarkPrice, e.state.FirstGridPrice))
}

func (e *Engine) notify(text string) {
	if e.notifier != nil {
		e.notifier.Notify(text)
	}
}

func (e *Engine) journalOrder(orderID string, intent planner.OrderIntent, purpose string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Orders().Record(e.account, e.bot.Name, orderID,
		string(intent.Side), intent.Price, intent.Quantity, purpose); err != nil {
		logger.Warnf("[Engine] %s/%s: journal order: %v", e.account, e.bot.Name, err)
	}
}

func (e *Engine) journalCycle(event, detail string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Cycles().Record(e.account, e.bot.Name, event, detail); err != nil {
		logger.Warnf("[Engine] %s/%s: journal cycle: %v", e.account, e.bot.Name, err)
	}
}

func (e *Engine) journalEquity(equity float64) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Equity().Record(e.account, e.bot.Name, equity); err != nil {
		logger.Warnf("[Engine] %s/%s: journal equity: %v", e.account, e.bot.Name, err)
	}
}
