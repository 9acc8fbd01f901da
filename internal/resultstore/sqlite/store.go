// Package sqlite stores per-split results in a single SQLite database so many
// runners on a shared filesystem can write without one file per split.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kingrea/splitflow/internal/resultstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	split_id   TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store is a SQLite-backed result store.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	now    func() time.Time
	closed bool
}

var _ resultstore.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("resultstore/sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("resultstore/sqlite: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("resultstore/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("resultstore/sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("resultstore/sqlite: init schema: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put upserts the result for id.
func (s *Store) Put(ctx context.Context, id string, payload []byte) error {
	if err := resultstore.CheckID(id); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return resultstore.ErrClosed
	}
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (split_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(split_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		id, payload, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("resultstore/sqlite: put %s: %w", id, err)
	}
	return nil
}

// Get returns the stored result for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, resultstore.ErrClosed
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM results WHERE split_id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resultstore/sqlite: get %s: %w", id, err)
	}
	return payload, true, nil
}

// ListIDs returns every stored split id in sorted order.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, resultstore.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT split_id FROM results ORDER BY split_id`)
	if err != nil {
		return nil, fmt.Errorf("resultstore/sqlite: list: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("resultstore/sqlite: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
