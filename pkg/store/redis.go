package store

import (
	"context"
	"errors"
	"fmt"

	"tonaccess/pkg/fleet"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the shared snapshot.
const DefaultRedisKey = "tonaccess:fleet:snapshot"

// RedisStore shares the last good snapshot between resolver instances.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps an existing client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// NewRedisStoreFromAddr connects to addr and verifies the connection with PING.
func NewRedisStoreFromAddr(ctx context.Context, addr, key string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty redis address", ErrDatabaseError)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", ErrDatabaseError, addr, err)
	}
	return NewRedisStore(client, key), nil
}

// Key returns the redis key used for the snapshot.
func (r *RedisStore) Key() string {
	return r.key
}

func (r *RedisStore) Save(ctx context.Context, snapshot *fleet.Snapshot) error {
	data, err := Encode(snapshot)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (*fleet.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return Decode(data)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
