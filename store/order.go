package store

import (
	"database/sql"
	"fmt"
	"time"
)

// OrderStore journals every order the engines placed.
type OrderStore struct {
	db *sql.DB
}

// OrderRecord is one journaled order.
type OrderRecord struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Bot       string    `json:"bot"`
	OrderID   string    `json:"order_id"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Purpose   string    `json:"purpose"` // grid | take_profit | flatten
	CreatedAt time.Time `json:"created_at"`
}

func (s *OrderStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			bot TEXT NOT NULL,
			order_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			purpose TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_bot_time ON orders(account, bot, created_at DESC)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("execute SQL: %w", err)
		}
	}
	return nil
}

// Record journals one placed order.
func (s *OrderStore) Record(account, bot, orderID, side string, price, quantity float64, purpose string) error {
	_, err := s.db.Exec(
		`INSERT INTO orders (account, bot, order_id, side, price, quantity, purpose) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account, bot, orderID, side, price, quantity, purpose)
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

// Recent returns the newest orders for one bot, newest first.
func (s *OrderStore) Recent(account, bot string, limit int) ([]OrderRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, account, bot, order_id, side, price, quantity, purpose, created_at
		 FROM orders WHERE account = ? AND bot = ? ORDER BY id DESC LIMIT ?`,
		account, bot, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.Account, &r.Bot, &r.OrderID, &r.Side,
			&r.Price, &r.Quantity, &r.Purpose, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
