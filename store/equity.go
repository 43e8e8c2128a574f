package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EquityStore records realized account equity at each cycle close (for
// plotting return curves).
type EquityStore struct {
	db *sql.DB
}

// EquityPoint is one realized equity observation.
type EquityPoint struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Bot       string    `json:"bot"`
	Equity    float64   `json:"equity"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *EquityStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS equity_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			bot TEXT NOT NULL,
			equity REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_bot_time ON equity_points(account, bot, created_at DESC)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("execute SQL: %w", err)
		}
	}
	return nil
}

// Record stores one realized equity observation.
func (s *EquityStore) Record(account, bot string, equity float64) error {
	_, err := s.db.Exec(
		`INSERT INTO equity_points (account, bot, equity) VALUES (?, ?, ?)`,
		account, bot, equity)
	if err != nil {
		return fmt.Errorf("record equity: %w", err)
	}
	return nil
}

// Recent returns the newest equity observations for one bot, newest first.
func (s *EquityStore) Recent(account, bot string, limit int) ([]EquityPoint, error) {
	rows, err := s.db.Query(
		`SELECT id, account, bot, equity, created_at
		 FROM equity_points WHERE account = ? AND bot = ? ORDER BY id DESC LIMIT ?`,
		account, bot, limit)
	if err != nil {
		return nil, fmt.Errorf("query equity: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.ID, &p.Account, &p.Bot, &p.Equity, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan equity: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
