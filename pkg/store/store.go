package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tonaccess/pkg/fleet"
	"tonaccess/pkg/models"
)

var (
	// ErrDatabaseError is returned when a backing store operation fails.
	ErrDatabaseError = errors.New("database error")

	// ErrCorruptSnapshot is returned when a persisted snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt persisted snapshot")

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Driver names accepted by Open.
const (
	DriverNone   = "none"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Store persists the last good fleet snapshot so a restart can serve it
// while the manager is unreachable.
type Store interface {
	// Load returns the persisted snapshot, or nil when nothing was saved yet.
	Load(ctx context.Context) (*fleet.Snapshot, error)

	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snapshot *fleet.Snapshot) error

	Close() error
}

// record is the persisted form of a snapshot.
type record struct {
	FetchedAt time.Time           `json:"fetched_at"`
	Nodes     []models.NodeRecord `json:"nodes"`
}

// Encode serializes a snapshot to JSON.
func Encode(snapshot *fleet.Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrCorruptSnapshot)
	}
	return json.Marshal(record{
		FetchedAt: snapshot.FetchedAt(),
		Nodes:     snapshot.Nodes(),
	})
}

// Decode rebuilds a snapshot from its JSON form, keeping the original fetch time.
func Decode(data []byte) (*fleet.Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if rec.FetchedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing fetched_at", ErrCorruptSnapshot)
	}

	snapshot, err := fleet.NewSnapshot(rec.Nodes, rec.FetchedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return snapshot, nil
}

// Options selects and configures a store backend.
type Options struct {
	Driver    string
	Path      string
	RedisAddr string
	RedisKey  string
}

// Open builds the store named by opts.Driver. The none driver returns a nil store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		sqliteStore, err := NewSQLiteStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return sqliteStore, nil
	case DriverRedis:
		redisStore, err := NewRedisStoreFromAddr(ctx, opts.RedisAddr, opts.RedisKey)
		if err != nil {
			return nil, err
		}
		return redisStore, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
