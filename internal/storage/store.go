// Package storage defines the key-value Store the cache layer persists to.
// Implementations live in subpackages (memory, redis, s3, dynamodb,
// postgres); factory picks one from configuration.
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/fruitsalade/assetgateway/internal/metrics"
)

// ErrCorruptEntry is returned when a stored entry cannot be decoded.
var ErrCorruptEntry = errors.New("storage: corrupt entry")

// Entry is a stored value with its absolute expiry.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer valid at now. An entry
// expiring exactly at now is expired.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is the interface for cache persistence backends. Stores may drop
// entries early; they must never return an entry under the wrong key.
type Store interface {
	// Get returns the entry for key. A missing key is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Put writes value under key. Last writer wins.
	Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Type returns the backend type identifier ("memory", "redis", ...).
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Purger is implemented by stores without native expiry.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// EncodeEntry frames value with its expiry for stores that only hold bytes.
func EncodeEntry(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt.UnixNano()))
	copy(buf[8:], value)
	return buf
}

// DecodeEntry is the inverse of EncodeEntry.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < 8 {
		return Entry{}, ErrCorruptEntry
	}
	nanos := int64(binary.BigEndian.Uint64(b[:8]))
	value := make([]byte, len(b)-8)
	copy(value, b[8:])
	return Entry{Value: value, ExpiresAt: time.Unix(0, nanos)}, nil
}

type instrumented struct {
	Store
}

// WithMetrics wraps s so every operation is recorded.
func WithMetrics(s Store) Store {
	return &instrumented{Store: s}
}

func (i *instrumented) Get(ctx context.Context, key string) (Entry, bool, error) {
	start := time.Now()
	e, ok, err := i.Store.Get(ctx, key)
	metrics.RecordStoreOperation(i.Type(), "get", time.Since(start), err == nil)
	return e, ok, err
}

func (i *instrumented) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	start := time.Now()
	err := i.Store.Put(ctx, key, value, expiresAt)
	metrics.RecordStoreOperation(i.Type(), "put", time.Since(start), err == nil)
	return err
}

// PurgeExpired forwards to the wrapped store when it supports purging.
func (i *instrumented) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	p, ok := i.Store.(Purger)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	n, err := p.PurgeExpired(ctx, now)
	metrics.RecordStoreOperation(i.Type(), "purge", time.Since(start), err == nil)
	return n, err
}
