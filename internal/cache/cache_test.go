package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fruitsalade/assetgateway/internal/apperr"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	m       map[string]storage.Entry
	failGet bool
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]storage.Entry)}
}

func (s *memStore) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return storage.Entry{}, false, errors.New("store down")
	}
	e, ok := s.m[key]
	return e, ok, nil
}

func (s *memStore) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("store down")
	}
	s.m[key] = storage.Entry{Value: value, ExpiresAt: expiresAt}
	return nil
}

func (s *memStore) Type() string { return "test" }
func (s *memStore) Close() error { return nil }

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func fileAsset(id string) *models.Asset {
	return &models.Asset{MediaID: id, Kind: models.KindFile, Name: id + ".pdf", AssetType: "item", SourceURL: "https://gw/f/" + id}
}

type countingResolver struct {
	calls int
	asset *models.Asset
	err   error
}

func (r *countingResolver) resolve(ctx context.Context) (*models.Asset, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.asset.Clone(), nil
}

func newLayer(store storage.Store, c *clock) *Layer {
	return New(store, Config{
		Host:        "dam.example.com",
		ResponseTTL: time.Hour,
		PathMapTTL:  24 * time.Hour,
		Now:         c.Now,
	})
}

func TestGetOrResolveHitAndMiss(t *testing.T) {
	store := newMemStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLayer(store, c)
	r := &countingResolver{asset: fileAsset("abc")}
	ctx := context.Background()

	first, err := l.GetOrResolve(ctx, "/a/abc", r.resolve, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("fresh result must not be marked cached")
	}

	second, err := l.GetOrResolve(ctx, "/a/abc", r.resolve, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.MediaID != "abc" {
		t.Errorf("expected cached copy, got %+v", second)
	}
	if r.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", r.calls)
	}

	for key, e := range store.m {
		if strings.Contains(string(e.Value), `"cached"`) {
			t.Errorf("entry %s persisted the cached flag: %s", key, e.Value)
		}
	}
}

func TestTTLBoundary(t *testing.T) {
	store := newMemStore()
	start := time.Unix(1_700_000_000, 0)
	c := &clock{t: start}
	l := newLayer(store, c)
	r := &countingResolver{asset: fileAsset("abc")}
	ctx := context.Background()

	l.GetOrResolve(ctx, "/a/abc", r.resolve, RequestOptions{})

	c.t = start.Add(time.Hour - time.Nanosecond)
	a, _ := l.GetOrResolve(ctx, "/a/abc", r.resolve, RequestOptions{})
	if !a.Cached || r.calls != 1 {
		t.Errorf("just before expiry: cached=%v calls=%d", a.Cached, r.calls)
	}

	c.t = start.Add(time.Hour)
	a, _ = l.GetOrResolve(ctx, "/a/abc", r.resolve, RequestOptions{})
	if a.Cached || r.calls != 2 {
		t.Errorf("at expiry: cached=%v calls=%d", a.Cached, r.calls)
	}
}

func TestBypassSkipsReadButWrites(t *testing.T) {
	store := newMemStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLayer(store, c)
	ctx := context.Background()

	old := &countingResolver{asset: fileAsset("abc")}
	l.GetOrResolve(ctx, "/a/abc", old.resolve, RequestOptions{})

	updated := fileAsset("abc")
	updated.MimeType = "application/pdf"
	fresh := &countingResolver{asset: updated}

	a, _ := l.GetOrResolve(ctx, "/a/abc", fresh.resolve, RequestOptions{Bypass: true})
	if a.Cached || fresh.calls != 1 {
		t.Fatalf("bypass should resolve: cached=%v calls=%d", a.Cached, fresh.calls)
	}

	a, _ = l.GetOrResolve(ctx, "/a/abc", fresh.resolve, RequestOptions{})
	if !a.Cached || a.MimeType != "application/pdf" {
		t.Errorf("bypass result should have been written, got %+v", a)
	}
}

func TestForceNoCache(t *testing.T) {
	store := newMemStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(store, Config{Host: "h", ResponseTTL: time.Hour, ForceNoCache: true, Now: c.Now})
	r := &countingResolver{asset: fileAsset("abc")}

	for i := 0; i < 2; i++ {
		l.GetOrResolve(context.Background(), "/a/abc", r.resolve, RequestOptions{})
	}
	if r.calls != 2 {
		t.Errorf("resolver calls = %d, want 2", r.calls)
	}
	if len(store.m) != 1 {
		t.Errorf("writes should still happen, store has %d entries", len(store.m))
	}
}

func TestInsubstantialNotCached(t *testing.T) {
	tests := []*models.Asset{
		{MediaID: "f1", Kind: models.KindFolder, Name: "empty"},
		{MediaID: "x", Kind: models.KindFile, Name: "nosrc"},
		{Kind: models.KindFile, SourceURL: "https://gw/f/"},
	}
	for _, asset := range tests {
		store := newMemStore()
		l := newLayer(store, &clock{t: time.Now()})
		r := &countingResolver{asset: asset}
		if _, err := l.GetOrResolve(context.Background(), "/a/x", r.resolve, RequestOptions{}); err != nil {
			t.Fatal(err)
		}
		if len(store.m) != 0 {
			t.Errorf("asset %+v should not be cached", asset)
		}
	}

	folder := &models.Asset{MediaID: "f1", Kind: models.KindFolder, Children: []*models.Asset{fileAsset("c")}}
	if !Substantial(folder) {
		t.Error("folder with a child is substantial")
	}
}

func TestResolverErrorsAreNotCached(t *testing.T) {
	store := newMemStore()
	l := newLayer(store, &clock{t: time.Now()})
	r := &countingResolver{err: apperr.NotFound("no such item", "x")}

	_, err := l.GetOrResolve(context.Background(), "/a/x", r.resolve, RequestOptions{})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(store.m) != 0 {
		t.Error("errors must not be cached")
	}
}

func TestStoreFailuresAreMisses(t *testing.T) {
	store := newMemStore()
	store.failGet, store.failPut = true, true
	l := newLayer(store, &clock{t: time.Now()})
	r := &countingResolver{asset: fileAsset("abc")}

	a, err := l.GetOrResolve(context.Background(), "/a/abc", r.resolve, RequestOptions{})
	if err != nil || a.MediaID != "abc" {
		t.Fatalf("GetOrResolve = %+v, %v", a, err)
	}
}

func TestNilStorePassesThrough(t *testing.T) {
	l := New(nil, Config{Host: "h", ResponseTTL: time.Hour})
	r := &countingResolver{asset: fileAsset("abc")}
	l.GetOrResolve(context.Background(), "/a/abc", r.resolve, RequestOptions{})
	l.GetOrResolve(context.Background(), "/a/abc", r.resolve, RequestOptions{})
	if r.calls != 2 {
		t.Errorf("resolver calls = %d, want 2", r.calls)
	}

	pm := l.PathMap()
	pm.Remember(context.Background(), "a", models.Location{ID: "1", Kind: models.KindFile})
	if _, ok := pm.Lookup(context.Background(), "a"); ok {
		t.Error("nil store should never hit")
	}
}

func TestPathMap(t *testing.T) {
	store := newMemStore()
	start := time.Unix(1_700_000_000, 0)
	c := &clock{t: start}
	l := newLayer(store, c)
	pm := l.PathMap()
	ctx := context.Background()

	want := models.Location{ID: "f-2024", Kind: models.KindFolder}
	pm.Remember(ctx, "/reports/2024/", want)

	got, ok := pm.Lookup(ctx, "reports/2024")
	if !ok || got != want {
		t.Fatalf("Lookup = %+v, %v", got, ok)
	}

	c.t = start.Add(24 * time.Hour)
	if _, ok := pm.Lookup(ctx, "reports/2024"); ok {
		t.Error("entry should expire at now >= expiresAt")
	}

	other := New(store, Config{Host: "other.example.com", PathMapTTL: time.Hour, Now: c.Now}).PathMap()
	other.Remember(ctx, "reports/2024", models.Location{ID: "elsewhere", Kind: models.KindFolder})
	c.t = start
	if got, _ := pm.Lookup(ctx, "reports/2024"); got.ID != "f-2024" {
		t.Errorf("namespaces collided: %+v", got)
	}
}

func TestDisablePathMapReads(t *testing.T) {
	store := newMemStore()
	l := New(store, Config{Host: "h", PathMapTTL: time.Hour, DisablePathMapReads: true})
	pm := l.PathMap()
	ctx := context.Background()

	pm.Remember(ctx, "a", models.Location{ID: "1", Kind: models.KindFile})
	if len(store.m) != 1 {
		t.Error("writes should still happen")
	}
	if _, ok := pm.Lookup(ctx, "a"); ok {
		t.Error("reads should be disabled")
	}
}
