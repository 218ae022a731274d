// Package redis provides a Store backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fruitsalade/assetgateway/internal/storage"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Store implements storage.Store on Redis. Entries carry a native TTL as
// well as the framed expiry, so Redis evicts what the cache would reject.
type Store struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.Entry{}, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	e, err := storage.DecodeEntry(b)
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return e, true, nil
}

// Put stores value under key. Already-expired entries are not written.
func (s *Store) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, key, storage.EncodeEntry(value, expiresAt), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Type returns "redis".
func (s *Store) Type() string {
	return "redis"
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
