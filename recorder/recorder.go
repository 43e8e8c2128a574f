// Package recorder keeps the execution snapshot current. Once per minute it
// polls the gateway for position, open orders and mark price and atomically
// replaces the on-disk snapshot the engine reads a few seconds later.
package recorder

import (
	"context"
	"sort"
	"time"

	"gridbot/config"
	"gridbot/exchange"
	"gridbot/feed"
	"gridbot/logger"
)

const retryDelay = 2 * time.Second

// Recorder polls one gateway and writes one execution snapshot file.
type Recorder struct {
	account string
	bot     *config.BotConfig
	gateway exchange.Gateway
	path    string

	sleep func(time.Duration)
}

// New builds a recorder for one (account, strategy) pair.
func New(account string, bot *config.BotConfig, gw exchange.Gateway, dataDir string) *Recorder {
	return &Recorder{
		account: account,
		bot:     bot,
		gateway: gw,
		path:    feed.ExecutionPath(dataDir, account, bot.Name),
		sleep:   time.Sleep,
	}
}

// Run writes one snapshot per minute boundary until the context ends.
func (r *Recorder) Run(ctx context.Context) {
	logger.Infof("[Recorder] %s/%s started", r.account, r.bot.Name)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("[Recorder] %s/%s stopped", r.account, r.bot.Name)
			return
		case <-time.After(untilNextMinute(time.Now())):
		}

		if err := r.RecordOnce(); err != nil {
			logger.Warnf("[Recorder] %s/%s: %v", r.account, r.bot.Name, err)
		}
	}
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// RecordOnce polls the gateway and replaces the snapshot. A read showing no
// position while orders still rest can be the exchange mid-settlement, so it
// is re-read once after a short delay before being trusted.
func (r *Recorder) RecordOnce() error {
	snap, err := r.poll()
	if err != nil {
		return err
	}

	if snap.PositionSize == 0 && snap.OpenOrderCount > 0 {
		r.sleep(retryDelay)
		again, err := r.poll()
		if err == nil {
			snap = again
		}
	}

	if err := feed.WriteExecution(r.path, snap); err != nil {
		return err
	}
	logger.Debugf("[Recorder] %s/%s: size=%v orders=%d mark=%v",
		r.account, r.bot.Name, snap.PositionSize, snap.OpenOrderCount, snap.MarkPrice)
	return nil
}

func (r *Recorder) poll() (*feed.ExecutionSnapshot, error) {
	pos, err := r.gateway.Position()
	if err != nil {
		return nil, err
	}
	orders, err := r.gateway.OpenOrders()
	if err != nil {
		return nil, err
	}
	mark, err := r.gateway.MarkPrice()
	if err != nil {
		return nil, err
	}

	// Stable order for downstream consumers: closest to the mark first.
	sort.Slice(orders, func(i, j int) bool {
		return absDiff(orders[i].Price, mark) < absDiff(orders[j].Price, mark)
	})

	snap := &feed.ExecutionSnapshot{
		Timestamp:      time.Now().UTC(),
		PositionSize:   pos.Size,
		PositionSide:   pos.Side,
		AvgEntryPrice:  pos.AvgEntryPrice,
		MarkPrice:      mark,
		OpenOrderCount: len(orders),
	}
	for _, o := range orders {
		snap.OpenOrderPrices = append(snap.OpenOrderPrices, o.Price)
		snap.OpenOrderSizes = append(snap.OpenOrderSizes, o.Quantity)
	}
	return snap, nil
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
