// Package memstore implements store.KeyValueStore in-process, for
// local development and tests where a Redis instance is not available.
// It mirrors the expirable-LRU pattern internal/provider uses for its
// own adapter cache.
package memstore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/latoulicious/voicecast/internal/store"
)

const defaultMax = 2000

// Store is an in-memory store.KeyValueStore. Every entry expires after
// the default TTL given to New or is evicted by capacity, whichever
// comes first; the ttl passed to Set is ignored, so ttl==0 does not
// mean "no expiration" here.
type Store struct {
	lru *expirable.LRU[string, []byte]
}

var _ store.KeyValueStore = (*Store)(nil)

// New builds a Store whose entries all expire after defaultTTL (one
// hour when defaultTTL is not positive); the underlying LRU has no
// per-entry TTL, so Set's ttl argument has no effect.
func New(defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{lru: expirable.NewLRU[string, []byte](defaultMax, nil, defaultTTL)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(key)
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.lru.Add(key, value)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}
