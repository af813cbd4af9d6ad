package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	_ "modernc.org/sqlite"

	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/migration"
	"github.com/julianstephens/hagotchi/migrations"
)

const lruSize = 256

// KV is a durable byte store partitioned by user.
type KV interface {
	Get(userID, key string) ([]byte, bool, error)
	// PutMany writes all entries atomically.
	PutMany(userID string, entries map[string][]byte) error
	// Update reads keys and writes the entries fn returns in one
	// transaction. No other writer can commit between the read and the write.
	// Absent keys are missing from the map fn gets.
	Update(userID string, keys []string, fn func(current map[string][]byte) (map[string][]byte, error)) error
	Delete(userID, key string) error
	DeleteUser(userID string) error
	Close() error
}

// SQLiteKV stores cache entries in a local sqlite database. Reads are served
// from an LRU of raw values once a key has been seen. Other processes may
// write the same file; the LRU is dropped whenever sqlite reports a commit
// from another connection.
type SQLiteKV struct {
	path string
	db   *sql.DB
	lru  *lru.Cache

	mu      stdsync.Mutex
	version int64 // PRAGMA data_version the LRU matches
}

func NewSQLiteKV(path string) *SQLiteKV {
	c, _ := lru.New(lruSize)
	return &SQLiteKV{
		path: path,
		lru:  c,
	}
}

// Open creates the database file if needed and applies migrations.
func (s *SQLiteKV) Open() error {
	if s.db != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	// data_version is per connection, so the one connection is also kept.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	// a sync loop and one-off commands may share the file
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to configure cache database: %w", err)
		}
	}

	runner := migration.New(db, migrations.SQLite(), migration.SQLite, logger.With("component", "cache-migrations"))
	if _, err := runner.Up(context.Background()); err != nil {
		db.Close()
		return fmt.Errorf("failed to run cache migrations: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteKV) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func lruKey(userID, key string) string {
	return userID + "\x00" + key
}

func (s *SQLiteKV) Get(userID, key string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, fmt.Errorf("cache database not open")
	}
	if err := s.revalidate(); err != nil {
		return nil, false, err
	}
	if v, ok := s.lru.Get(lruKey(userID, key)); ok {
		return v.([]byte), true, nil
	}

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM cache_entries WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	s.lru.Add(lruKey(userID, key), value)
	return value, true, nil
}

// revalidate purges the LRU when another connection committed since the
// last check.
func (s *SQLiteKV) revalidate() error {
	var v int64
	if err := s.db.QueryRow(`PRAGMA data_version`).Scan(&v); err != nil {
		return fmt.Errorf("failed to check cache version: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v != s.version {
		s.lru.Purge()
		s.version = v
	}
	return nil
}

func (s *SQLiteKV) PutMany(userID string, entries map[string][]byte) error {
	return s.Update(userID, nil, func(map[string][]byte) (map[string][]byte, error) {
		return entries, nil
	})
}

func (s *SQLiteKV) Update(userID string, keys []string, fn func(map[string][]byte) (map[string][]byte, error)) error {
	if s.db == nil {
		return fmt.Errorf("cache database not open")
	}

	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE takes the write lock before the reads
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_, _ = conn.ExecContext(ctx, `ROLLBACK`)
		}
	}()

	current := make(map[string][]byte, len(keys))
	for _, key := range keys {
		var value []byte
		err := conn.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read cache key %s: %w", key, err)
		default:
			current[key] = value
		}
	}

	entries, err := fn(current)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range entries {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO cache_entries (user_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			userID, key, value, now)
		if err != nil {
			return fmt.Errorf("failed to write cache key %s: %w", key, err)
		}
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("failed to commit cache write: %w", err)
	}
	done = true

	// publish after the commit so a failed write never leaves a value
	// readable that is not on disk
	for key, value := range entries {
		s.lru.Add(lruKey(userID, key), value)
	}
	return nil
}

func (s *SQLiteKV) Delete(userID, key string) error {
	if s.db == nil {
		return fmt.Errorf("cache database not open")
	}
	s.lru.Remove(lruKey(userID, key))
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE user_id = ? AND key = ?`, userID, key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) DeleteUser(userID string) error {
	if s.db == nil {
		return fmt.Errorf("cache database not open")
	}
	s.lru.Purge()
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear cache for user: %w", err)
	}
	return nil
}

// MemoryKV is a process-local KV. It backs tests and runs where no cache
// file is configured.
type MemoryKV struct {
	mu   stdsync.Mutex
	data map[string][]byte
	// FailWrites makes every write return an error.
	FailWrites bool
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string][]byte{}}
}

func (m *MemoryKV) Get(userID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[lruKey(userID, key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) PutMany(userID string, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("memory cache write failed")
	}
	for key, value := range entries {
		m.data[lruKey(userID, key)] = append([]byte(nil), value...)
	}
	return nil
}

func (m *MemoryKV) Update(userID string, keys []string, fn func(map[string][]byte) (map[string][]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := m.data[lruKey(userID, key)]; ok {
			current[key] = append([]byte(nil), v...)
		}
	}
	entries, err := fn(current)
	if err != nil {
		return err
	}
	if m.FailWrites {
		return fmt.Errorf("memory cache write failed")
	}
	for key, value := range entries {
		m.data[lruKey(userID, key)] = append([]byte(nil), value...)
	}
	return nil
}

func (m *MemoryKV) Delete(userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, lruKey(userID, key))
	return nil
}

func (m *MemoryKV) DeleteUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := userID + "\x00"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *MemoryKV) Close() error { return nil }
