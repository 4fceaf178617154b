package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"tonaccess/pkg/fleet"

	_ "modernc.org/sqlite"
)

// Schema holds the single-row snapshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS fleet_snapshot (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    fetched_at DATETIME NOT NULL,
    node_count INTEGER NOT NULL,
    payload    TEXT NOT NULL,
    saved_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore keeps the last good snapshot in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrDatabaseError)
	}

	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	ctx := context.Background()

	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabaseError, err)
	}

	store := &SQLiteStore{db: database}
	if err := store.Initialize(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}

	return store, nil
}

// Initialize creates the database schema.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the persisted snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snapshot *fleet.Snapshot) error {
	payload, err := Encode(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fleet_snapshot (id, fetched_at, node_count, payload, saved_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at, node_count = excluded.node_count,
		 payload = excluded.payload, saved_at = excluded.saved_at`,
		snapshot.FetchedAt().UTC(), snapshot.Len(), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// Load returns the persisted snapshot, or nil when the table is empty.
func (s *SQLiteStore) Load(ctx context.Context) (*fleet.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM fleet_snapshot WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return Decode([]byte(payload))
}
