// Package memory provides an in-process Store backed by bigcache.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/fruitsalade/assetgateway/internal/storage"
)

// Config holds in-process cache settings.
type Config struct {
	// LifeWindow bounds how long bigcache keeps an entry. It should be at
	// least the longest TTL the cache layer writes.
	LifeWindow  time.Duration
	CleanWindow time.Duration
	MaxSizeMB   int
}

// Store implements storage.Store in memory.
type Store struct {
	cache *bigcache.BigCache
}

// New creates an in-process store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = 24 * time.Hour
	}
	if cfg.CleanWindow <= 0 {
		cfg.CleanWindow = 5 * time.Minute
	}

	bc := bigcache.DefaultConfig(cfg.LifeWindow)
	bc.Shards = 64
	bc.MaxEntriesInWindow = 10000
	bc.MaxEntrySize = 2048
	bc.CleanWindow = cfg.CleanWindow
	bc.HardMaxCacheSize = cfg.MaxSizeMB
	bc.Verbose = false

	cache, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("create bigcache: %w", err)
	}
	return &Store{cache: cache}, nil
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	b, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return storage.Entry{}, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	e, err := storage.DecodeEntry(b)
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return e, true, nil
}

// Put stores value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if err := s.cache.Set(key, storage.EncodeEntry(value, expiresAt)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Type returns "memory".
func (s *Store) Type() string {
	return "memory"
}

// Close releases the cache.
func (s *Store) Close() error {
	return s.cache.Close()
}
