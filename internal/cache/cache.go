// Package cache is the read-through response cache and the path map, both
// persisted through a storage.Store.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/metrics"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/storage"
	"github.com/fruitsalade/assetgateway/internal/tree"
)

const (
	responsePrefix = "response:"
	pathMapPrefix  = "pathmap:"
)

// Config holds cache configuration.
type Config struct {
	// Host is the backend host; keys are namespaced by its digest.
	Host string

	ResponseTTL time.Duration
	PathMapTTL  time.Duration

	// ForceNoCache makes every response lookup a miss. Writes still happen.
	ForceNoCache bool

	// DisablePathMapReads makes every path map lookup a miss.
	DisablePathMapReads bool

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Layer is the cache. A nil store turns it into a pass-through.
type Layer struct {
	store storage.Store
	cfg   Config
	ns    string
	now   func() time.Time
}

// New creates a cache layer over store.
func New(store storage.Store, cfg Config) *Layer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Layer{store: store, cfg: cfg, ns: Namespace(cfg.Host), now: now}
}

// Namespace returns the key namespace for a backend host.
func Namespace(host string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(host)))
	return hex.EncodeToString(sum[:12])
}

// RequestOptions tune one lookup.
type RequestOptions struct {
	// Bypass skips the cache read; the fresh result is still written.
	Bypass bool
}

// ResolverFunc produces the asset on a miss.
type ResolverFunc func(ctx context.Context) (*models.Asset, error)

// GetOrResolve returns the cached asset for requestKey or resolves and
// caches it. Hits are copies with Cached set. Resolver errors are returned
// as-is and never cached.
func (l *Layer) GetOrResolve(ctx context.Context, requestKey string, resolve ResolverFunc, opts RequestOptions) (*models.Asset, error) {
	key := responsePrefix + l.ns + requestKey

	if opts.Bypass || l.cfg.ForceNoCache {
		metrics.RecordCacheLookup("response", "bypass")
	} else if a, ok := l.lookup(ctx, key); ok {
		return a, nil
	}

	asset, err := resolve(ctx)
	if err != nil {
		return nil, err
	}
	if Substantial(asset) {
		l.persist(ctx, key, asset)
	}
	return asset, nil
}

func (l *Layer) lookup(ctx context.Context, key string) (*models.Asset, bool) {
	value, result := l.read(ctx, key)
	if result != "hit" {
		metrics.RecordCacheLookup("response", result)
		return nil, false
	}

	var a models.Asset
	if err := json.Unmarshal(value, &a); err != nil {
		logging.WithContext(ctx).Warn("undecodable cache entry", logging.String("key", key), logging.Err(err))
		metrics.RecordCacheLookup("response", "error")
		return nil, false
	}
	metrics.RecordCacheLookup("response", "hit")
	a.Cached = true
	return &a, true
}

// read fetches a live entry. result is "hit", "miss", "expired" or "error".
func (l *Layer) read(ctx context.Context, key string) ([]byte, string) {
	if l.store == nil {
		return nil, "miss"
	}
	e, ok, err := l.store.Get(ctx, key)
	switch {
	case err != nil:
		logging.WithContext(ctx).Warn("cache read failed", logging.String("key", key), logging.Err(err))
		return nil, "error"
	case !ok:
		return nil, "miss"
	case e.Expired(l.now()):
		return nil, "expired"
	}
	return e.Value, "hit"
}

func (l *Layer) persist(ctx context.Context, key string, asset *models.Asset) {
	if l.store == nil {
		return
	}
	stored := *asset
	stored.Cached = false
	b, err := json.Marshal(&stored)
	if err != nil {
		logging.WithContext(ctx).Warn("cache encode failed", logging.String("key", key), logging.Err(err))
		return
	}
	l.write(ctx, key, b, l.cfg.ResponseTTL)
}

func (l *Layer) write(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := l.store.Put(ctx, key, value, l.now().Add(ttl)); err != nil {
		logging.WithContext(ctx).Warn("cache write failed", logging.String("key", key), logging.Err(err))
	}
}

// Substantial reports whether an asset is worth caching: a folder with at
// least one child, or a file with an id and a source URL.
func Substantial(a *models.Asset) bool {
	if a == nil {
		return false
	}
	switch a.Kind {
	case models.KindFolder:
		return len(a.Children) > 0
	case models.KindFile:
		return a.MediaID != "" && a.SourceURL != ""
	default:
		return false
	}
}

// PathMap returns the path map backed by this layer's store.
func (l *Layer) PathMap() *PathMap {
	return &PathMap{layer: l}
}

// PathMap remembers which backend location each path resolved to.
type PathMap struct {
	layer *Layer
}

func (p *PathMap) key(path string) string {
	return pathMapPrefix + p.layer.ns + "/" + tree.Clean(path)
}

// Lookup returns the remembered location of path.
func (p *PathMap) Lookup(ctx context.Context, path string) (models.Location, bool) {
	if p.layer.cfg.DisablePathMapReads {
		metrics.RecordCacheLookup("pathmap", "bypass")
		return models.Location{}, false
	}

	value, result := p.layer.read(ctx, p.key(path))
	if result != "hit" {
		metrics.RecordCacheLookup("pathmap", result)
		return models.Location{}, false
	}

	var loc models.Location
	if err := json.Unmarshal(value, &loc); err != nil || loc.ID == "" {
		metrics.RecordCacheLookup("pathmap", "error")
		return models.Location{}, false
	}
	metrics.RecordCacheLookup("pathmap", "hit")
	return loc, true
}

// Remember records the location of path.
func (p *PathMap) Remember(ctx context.Context, path string, loc models.Location) {
	if p.layer.store == nil || loc.ID == "" {
		return
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return
	}
	p.layer.write(ctx, p.key(path), b, p.layer.cfg.PathMapTTL)
}
