package cooldown

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryStore keeps markers for the lifetime of the process. Useful for tests.
type MemoryStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]time.Time)}
}

func (s *MemoryStore) Last(key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[key]
	return t, ok, nil
}

func (s *MemoryStore) Set(key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[key] = at
	return nil
}

// SQLiteStore is a durable local key-value store, so cooldowns survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cooldown db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cooldown db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cooldowns (
			key       TEXT PRIMARY KEY,
			last_nano INTEGER NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cooldown db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Last(key string) (time.Time, bool, error) {
	var nanos int64
	err := s.db.QueryRow(`SELECT last_nano FROM cooldowns WHERE key = ?`, key).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *SQLiteStore) Set(key string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO cooldowns (key, last_nano) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET last_nano = excluded.last_nano
	`, key, at.UnixNano())
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
