package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CycleStore journals the decision the engine took each cycle that acted.
type CycleStore struct {
	db *sql.DB
}

// CycleEvent is one journaled decision.
type CycleEvent struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Bot       string    `json:"bot"`
	Event     string    `json:"event"` // entry | tp_placed | tp_rebuilt | close | reorder | reconcile | wrong_side | skip
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *CycleStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			bot TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_bot_time ON cycle_events(account, bot, created_at DESC)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("execute SQL: %w", err)
		}
	}
	return nil
}

// Record journals one cycle decision.
func (s *CycleStore) Record(account, bot, event, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO cycle_events (account, bot, event, detail) VALUES (?, ?, ?, ?)`,
		account, bot, event, detail)
	if err != nil {
		return fmt.Errorf("record cycle event: %w", err)
	}
	return nil
}

// Recent returns the newest events for one bot, newest first.
func (s *CycleStore) Recent(account, bot string, limit int) ([]CycleEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, account, bot, event, detail, created_at
		 FROM cycle_events WHERE account = ? AND bot = ? ORDER BY id DESC LIMIT ?`,
		account, bot, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycle events: %w", err)
	}
	defer rows.Close()

	var events []CycleEvent
	for rows.Next() {
		var e CycleEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Account, &e.Bot, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cycle event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
