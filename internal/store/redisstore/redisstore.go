// Package redisstore implements store.KeyValueStore on top of
// go-redis/v9, used as the production cache backend for QueueStore and
// ProviderAdapter (spec.md §6). The teacher's own event bus sketches a
// Redis backend (internal/eventbus) but never wires the client; this
// package wires it for real against the actual go-redis API.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/latoulicious/voicecast/internal/store"
	"github.com/redis/go-redis/v9"
)

// Store is a store.KeyValueStore backed by a single Redis instance.
type Store struct {
	client *redis.Client
}

var _ store.KeyValueStore = (*Store)(nil)

// New parses addr as a redis:// URL and returns a connected Store.
func New(addr string) (*Store, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, err
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewWithOptions builds a Store from already-resolved redis.Options,
// for callers that assemble pool size/timeouts themselves.
func NewWithOptions(opts *redis.Options) *Store {
	return &Store{client: redis.NewClient(opts)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

// Ping verifies connectivity, used by the health-check surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
