// Package feed defines the two input snapshots the engine consumes each
// cycle and the atomic file stores they travel through. Writers replace the
// visible file via a temp file and rename, so concurrent readers only ever
// observe a fully-written snapshot.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PositionSide reports which side of the book a position sits on.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionNone  PositionSide = "none"
)

// MarketSnapshot is the newest output of the signal pipeline. The engine
// reads only the latest record; a timestamp that has not advanced means no
// new information.
type MarketSnapshot struct {
	Timestamp   time.Time `json:"ts"`
	EntrySignal bool      `json:"entry_signal"`
}

// ExecutionSnapshot reflects exchange ground truth as last observed by the
// recorder, never engine-internal belief.
type ExecutionSnapshot struct {
	Timestamp       time.Time    `json:"ts"`
	PositionSize    float64      `json:"position_size"`
	PositionSide    PositionSide `json:"position_side"`
	AvgEntryPrice   float64      `json:"avg_price"`
	MarkPrice       float64      `json:"mark_price"`
	OpenOrderCount  int          `json:"order_count"`
	OpenOrderPrices []float64    `json:"order_prices"`
	OpenOrderSizes  []float64    `json:"order_sizes"`
}

// MarketPath returns the shared per-strategy market snapshot location. One
// feature pipeline feeds every account trading the strategy.
func MarketPath(dataDir, botName string) string {
	return filepath.Join(dataDir, "strategy_data", botName, "market.json")
}

// ExecutionPath returns the per-(account, strategy) execution snapshot
// location.
func ExecutionPath(dataDir, accountName, botName string) string {
	return filepath.Join(dataDir, "accounts", accountName, botName, "executions.json")
}

// ReadMarket loads the latest market snapshot. A missing file is not an
// error: it returns (nil, nil) and the caller skips signal-driven work.
func ReadMarket(path string) (*MarketSnapshot, error) {
	var snap MarketSnapshot
	ok, err := readJSON(path, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

// ReadExecution loads the latest execution snapshot, (nil, nil) when the
// recorder has not produced one yet.
func ReadExecution(path string) (*ExecutionSnapshot, error) {
	var snap ExecutionSnapshot
	ok, err := readJSON(path, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

// WriteMarket atomically replaces the market snapshot.
func WriteMarket(path string, snap *MarketSnapshot) error {
	return writeJSON(path, snap)
}

// WriteExecution atomically replaces the execution snapshot.
func WriteExecution(path string, snap *ExecutionSnapshot) error {
	return writeJSON(path, snap)
}

func readJSON(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
