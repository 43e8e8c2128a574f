// Package manager supervises every bot in the process: one engine plus one
// recorder per (account, strategy). Crashed bots are restarted after a delay;
// a fatal stop (wrong-side position) parks the bot for good.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gridbot/config"
	"gridbot/engine"
	"gridbot/exchange"
	"gridbot/ledger"
	"gridbot/logger"
	"gridbot/recorder"
	"gridbot/store"

	"github.com/google/uuid"
)

const restartDelay = 60 * time.Second

// BotStatus is one supervised bot as shown by the status API.
type BotStatus struct {
	ID        string       `json:"id"`
	Account   string       `json:"account"`
	Bot       string       `json:"bot"`
	Symbol    string       `json:"symbol"`
	Exchange  string       `json:"exchange"`
	Status    string       `json:"status"` // running | restarting | stopped | stopped_fatal
	Restarts  int          `json:"restarts"`
	Phase     engine.Phase `json:"phase"`
	StartedAt time.Time    `json:"started_at"`
}

// supervised bundles one bot's runtime pieces.
type supervised struct {
	id       string
	account  string
	bot      *config.BotConfig
	exchange string
	engine   *engine.Engine
	recorder *recorder.Recorder
	ledger   *ledger.Ledger

	mu        sync.Mutex
	status    string
	restarts  int
	startedAt time.Time
}

func (b *supervised) setStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

// Manager owns the supervised bots.
type Manager struct {
	mu           sync.RWMutex
	bots         map[string]*supervised // account/bot -> supervised
	wg           sync.WaitGroup
	restartDelay time.Duration
}

// NewManager creates an empty supervisor.
func NewManager() *Manager {
	return &Manager{
		bots:         make(map[string]*supervised),
		restartDelay: restartDelay,
	}
}

// Add registers one bot. journal and notifier may be nil.
func (m *Manager) Add(account *config.AccountConfig, bot *config.BotConfig, gw exchange.Gateway,
	led *ledger.Ledger, journal *store.Store, notifier engine.Notifier, dataDir string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := account.Name + "/" + bot.Name
	m.bots[key] = &supervised{
		id:       uuid.New().String(),
		account:  account.Name,
		bot:      bot,
		exchange: account.Exchange,
		engine:   engine.New(account.Name, bot, gw, led, journal, notifier, dataDir),
		recorder: recorder.New(account.Name, bot, gw, dataDir),
		ledger:   led,
		status:   "stopped",
	}
}

// Start launches every registered bot and returns. Stop by cancelling ctx;
// Wait blocks until all bots exited.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logger.Infof("[Manager] starting %d bots", len(m.bots))
	for _, b := range m.bots {
		bot := b
		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			bot.recorder.Run(ctx)
		}()
		go func() {
			defer m.wg.Done()
			m.supervise(ctx, bot)
		}()
	}
}

// Wait blocks until every bot goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// supervise runs the engine loop, restarting after crashes. A wrong-side
// stop is final; the position was already flattened and a human must look.
func (m *Manager) supervise(ctx context.Context, b *supervised) {
	for {
		b.mu.Lock()
		b.status = "running"
		b.startedAt = time.Now()
		b.mu.Unlock()

		err := m.runEngine(ctx, b)

		switch {
		case ctx.Err() != nil:
			b.setStatus("stopped")
			return
		case errors.Is(err, engine.ErrWrongSide):
			b.setStatus("stopped_fatal")
			logger.Errorf("[Manager] %s/%s stopped for good: %v", b.account, b.bot.Name, err)
			return
		default:
			b.mu.Lock()
			b.status = "restarting"
			b.restarts++
			b.mu.Unlock()
			logger.Errorf("[Manager] %s/%s crashed (%v), restart in %s", b.account, b.bot.Name, err, m.restartDelay)

			select {
			case <-ctx.Done():
				b.setStatus("stopped")
				return
			case <-time.After(m.restartDelay):
			}
		}
	}
}

// runEngine isolates one engine run so a panic turns into a restart instead
// of taking the process down.
func (m *Manager) runEngine(ctx context.Context, b *supervised) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return b.engine.Run(ctx)
}

// Status reports every supervised bot, for the API.
func (m *Manager) Status() []BotStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []BotStatus
	for _, b := range m.bots {
		b.mu.Lock()
		out = append(out, BotStatus{
			ID:        b.id,
			Account:   b.account,
			Bot:       b.bot.Name,
			Symbol:    b.bot.Symbol,
			Exchange:  b.exchange,
			Status:    b.status,
			Restarts:  b.restarts,
			Phase:     b.engine.State().Phase,
			StartedAt: b.startedAt,
		})
		b.mu.Unlock()
	}
	return out
}

// Ledger returns the ledger of one bot, or nil when unknown.
func (m *Manager) Ledger(account, bot string) *ledger.Ledger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bots[account+"/"+bot]; ok {
		return b.ledger
	}
	return nil
}
