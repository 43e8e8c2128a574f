// Package store is the sqlite journal of everything the bots did: placed
// orders, cycle decisions and realized equity. All database operations go
// through this package.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"gridbot/logger"
)

// Store is the unified journal handle shared by every bot in the process.
type Store struct {
	db *sql.DB

	// Sub-stores (lazy initialization)
	orders *OrderStore
	cycles *CycleStore
	equity *EquityStore

	mu sync.Mutex
}

// New opens (or creates) the journal database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite handles are not safe for concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize tables: %w", err)
	}

	logger.Infof("✅ [Store] journal ready at %s", dbPath)
	return s, nil
}

func (s *Store) initTables() error {
	for _, sub := range []interface{ initTables() error }{
		&OrderStore{db: s.db},
		&CycleStore{db: s.db},
		&EquityStore{db: s.db},
	} {
		if err := sub.initTables(); err != nil {
			return err
		}
	}
	return nil
}

// Orders gets order journal storage.
func (s *Store) Orders() *OrderStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders == nil {
		s.orders = &OrderStore{db: s.db}
	}
	return s.orders
}

// Cycles gets cycle decision storage.
func (s *Store) Cycles() *CycleStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycles == nil {
		s.cycles = &CycleStore{db: s.db}
	}
	return s.cycles
}

// Equity gets equity snapshot storage.
func (s *Store) Equity() *EquityStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.equity == nil {
		s.equity = &EquityStore{db: s.db}
	}
	return s.equity
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw connection for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}
