// Package ledger tracks the virtual, commission-adjusted sub-balance that
// gates grid entries. One durable record exists per (account, strategy); it
// is the only state of the engine that survives restarts.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gridbot/logger"
)

const (
	fileName       = "ledger.json"
	currentVersion = 1

	// seedFraction of the first realized balance becomes the virtual float.
	seedFraction = 0.1
)

// Snapshot is the persisted ledger record.
type Snapshot struct {
	Version          int      `json:"version"`
	InitialBalance   *float64 `json:"initial_balance"`
	LastBalance      *float64 `json:"last_balance"`
	UserBalance      float64  `json:"user_balance"`
	CumulativeProfit float64  `json:"cumulative_profit"`
	CommissionRate   float64  `json:"commission_rate"`
	EntryAllowed     bool     `json:"entry_allowed"`
	LastUpdated      string   `json:"last_updated"`
}

// Ledger owns one durable record. All methods re-read the file so concurrent
// restarts of the owning process always see the latest gate.
type Ledger struct {
	path           string
	commissionRate float64

	mu sync.Mutex
}

// New creates a ledger rooted at dir. The record itself is created lazily on
// first read; commissionRate seeds new records only, an existing record keeps
// the rate it was created with.
func New(dir string, commissionRate float64) *Ledger {
	return &Ledger{
		path:           filepath.Join(dir, fileName),
		commissionRate: commissionRate,
	}
}

// Path returns the record location.
func (l *Ledger) Path() string {
	return l.path
}

// Read returns the current durable snapshot, lazily initialized with
// defaults when no record exists yet.
func (l *Ledger) Read() (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// EntryAllowed reports whether new grid entries are permitted. It reflects
// durable state, never a cached copy.
func (l *Ledger) EntryAllowed() (bool, error) {
	snap, err := l.Read()
	if err != nil {
		return false, err
	}
	return snap.EntryAllowed, nil
}

// RecordClose feeds one realized account balance into the ledger after a
// position closes, persists the updated record atomically and returns it.
//
// The first call ever seeds the record: initial and last balance become the
// realized balance and the virtual float starts at 10% of it, with no profit
// or commission computed. Every later call books the delta against the last
// balance: winning cycles pay commission out of the virtual float, losing
// cycles pass through into cumulative profit without touching the float.
func (l *Ledger) RecordClose(realizedBalance float64) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.load()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if snap.InitialBalance == nil {
		seed := realizedBalance
		snap.InitialBalance = &seed
		snap.LastBalance = &seed
		snap.UserBalance = round2(realizedBalance * seedFraction)
		snap.EntryAllowed = snap.UserBalance >= 0
		snap.LastUpdated = now
		if err := l.persist(snap); err != nil {
			return nil, err
		}
		logger.Infof("[Ledger] seeded: balance=%.2f virtual float=%.2f", realizedBalance, snap.UserBalance)
		return snap, nil
	}

	profit := round2(realizedBalance - *snap.LastBalance)
	if profit > 0 {
		commission := round2(profit * snap.CommissionRate)
		snap.UserBalance = round2(snap.UserBalance - commission)
		snap.CumulativeProfit = round2(snap.CumulativeProfit + profit)
		logger.Infof("[Ledger] win cycle: profit=%.2f commission=%.2f float=%.2f", profit, commission, snap.UserBalance)
	} else {
		// Losses pass through in full; the float is only ever reduced by
		// commission on winning cycles.
		snap.CumulativeProfit = round2(snap.CumulativeProfit + profit)
		logger.Infof("[Ledger] losing cycle: profit=%.2f float=%.2f", profit, snap.UserBalance)
	}

	last := realizedBalance
	snap.LastBalance = &last
	snap.EntryAllowed = snap.UserBalance >= 0
	snap.LastUpdated = now

	if err := l.persist(snap); err != nil {
		return nil, err
	}
	if !snap.EntryAllowed {
		logger.Warnf("[Ledger] virtual float %.2f below zero, new entries blocked", snap.UserBalance)
	}
	return snap, nil
}

// load reads the record from disk, returning defaults when it does not exist.
func (l *Ledger) load() (*Snapshot, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{
			Version:        currentVersion,
			CommissionRate: l.commissionRate,
			EntryAllowed:   true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", l.path, err)
	}
	if snap.Version == 0 {
		snap.Version = currentVersion
	}
	return &snap, nil
}

// persist writes the record through a temp file and renames it into place so
// a crash mid-write never leaves a torn record behind.
func (l *Ledger) persist(snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger temp: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
