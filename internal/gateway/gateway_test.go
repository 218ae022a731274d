package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fruitsalade/assetgateway/internal/apperr"
	"github.com/fruitsalade/assetgateway/internal/cache"
	"github.com/fruitsalade/assetgateway/internal/dam"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/resolve"
	"github.com/fruitsalade/assetgateway/internal/storage/memory"
)

// damServer fakes the DAM: root -> reports -> 2024 -> summary (abc123).
type damServer struct {
	listings atomic.Int32
	probes   atomic.Int32
}

var listings = map[string]string{
	"":          `{"response":{"folder":[{"folderuuid":"f-reports","name":"reports"}],"resource":[]}}`,
	"f-reports": `{"response":{"folderuuid":"f-reports","name":"reports","folder":[{"folderuuid":"f-2024","name":"2024"}],"resource":[]}}`,
	"f-2024":    `{"response":{"folderuuid":"f-2024","name":"2024","folder":[],"resource":[{"resourceuuid":"abc123","title":"summary","sha1":"deadbeef"}]}}`,
}

func (d *damServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch r.URL.Path {
	case "/webapp/1.0/login":
		http.SetCookie(w, &http.Cookie{Name: "track", Value: "1"})
		w.Write([]byte(`{"apikey":"key","useruuid":"user"}`))
	case "/webapp/1.0/search":
		if q.Get("searchterm") == "abc123" {
			w.Write([]byte(`{"numFound":"1","doc":[{"resourceuuid":"abc123","title":"summary","sha1":"deadbeef"}]}`))
			return
		}
		w.Write([]byte(`{"numFound":"0","doc":[]}`))
	case "/webapp/1.0/resources":
		if q.Get("p10") != "key" {
			w.Write([]byte(`{"message":"Invalid user name or password. Please try again."}`))
			return
		}
		if id := q.Get("fileuuid"); id != "" {
			if r.Method == http.MethodHead {
				d.probes.Add(1)
			}
			w.Header().Set("Content-Type", "application/pdf")
			if r.Method == http.MethodGet {
				w.Write([]byte("%PDF-" + id))
			}
			return
		}
		d.listings.Add(1)
		body, ok := listings[q.Get("folderuuid")]
		if !ok {
			w.Write([]byte(`{"message":"A server error occurred"}`))
			return
		}
		w.Write([]byte(body))
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	gw     *Gateway
	dam    *damServer
	client *dam.Client
	paths  *cache.PathMap
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	d := &damServer{}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	client := dam.New(dam.Config{BaseURL: srv.URL, PublicURL: "https://gw.example.com"},
		dam.NewSession(dam.Credentials{Username: "gw", Password: "secret", Platform: "acme"}))

	store, err := memory.New(context.Background(), memory.Config{LifeWindow: time.Hour, MaxSizeMB: 8})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	layer := cache.New(store, cache.Config{Host: client.Host(), ResponseTTL: time.Hour, PathMapTTL: time.Hour})
	paths := layer.PathMap()
	engine := resolve.New(client, paths, resolve.Config{})

	return &fixture{gw: New(client, engine, layer, cfg), dam: d, client: client, paths: paths}
}

func TestResolveAssetInfoEndToEnd(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	a, aerr := f.gw.ResolveAssetInfo(ctx, "reports/2024/summary", false)
	if aerr != nil {
		t.Fatalf("ResolveAssetInfo: %v", aerr)
	}
	if a.MediaID != "abc123" || a.Kind != models.KindFile || a.Cached {
		t.Fatalf("unexpected asset: %+v", a)
	}
	if a.Checksum == nil || a.Checksum.Algorithm != "sha1" || a.Checksum.Value != "deadbeef" {
		t.Errorf("Checksum = %+v", a.Checksum)
	}
	if a.SourceURL != "https://gw.example.com/f/abc123" {
		t.Errorf("SourceURL = %q", a.SourceURL)
	}
	if n := f.dam.listings.Load(); n != 3 {
		t.Errorf("expected 3 folder listings, got %d", n)
	}

	for path, want := range map[string]models.Location{
		"reports":              {ID: "f-reports", Kind: models.KindFolder},
		"reports/2024":         {ID: "f-2024", Kind: models.KindFolder},
		"reports/2024/summary": {ID: "abc123", Kind: models.KindFile},
	} {
		got, ok := f.paths.Lookup(ctx, path)
		if !ok || got != want {
			t.Errorf("path map %q = %+v, %v; want %+v", path, got, ok, want)
		}
	}

	again, aerr := f.gw.ResolveAssetInfo(ctx, "reports/2024/summary", false)
	if aerr != nil {
		t.Fatal(aerr)
	}
	if !again.Cached {
		t.Error("second lookup should be served from cache")
	}
	if n := f.dam.listings.Load(); n != 3 {
		t.Errorf("cache hit should not list folders, got %d listings", n)
	}

	// A bypassed lookup skips the path map too and walks again.
	fresh, aerr := f.gw.ResolveAssetInfo(ctx, "reports/2024/summary", true)
	if aerr != nil || fresh.Cached {
		t.Fatalf("bypass = %+v, %v", fresh, aerr)
	}
	if n := f.dam.listings.Load(); n != 6 {
		t.Errorf("bypass should walk from root, got %d listings", n)
	}
}

func TestResolveAssetInfoErrors(t *testing.T) {
	f := newFixture(t, Config{})

	_, aerr := f.gw.ResolveAssetInfo(context.Background(), "reports/2030", false)
	if aerr == nil || aerr.Kind != apperr.KindNotFound || aerr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", aerr)
	}
	if aerr.Path != "reports/2030" {
		t.Errorf("Path = %q", aerr.Path)
	}

	_, aerr = f.gw.ResolveAssetInfo(context.Background(), "12345", false)
	if aerr == nil || aerr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %v", aerr)
	}
}

func TestMimeProbe(t *testing.T) {
	f := newFixture(t, Config{MimeProbe: true, MimeProbeConcurrency: 2})

	a, aerr := f.gw.ResolveAssetInfo(context.Background(), "reports/2024", false)
	if aerr != nil {
		t.Fatal(aerr)
	}
	if len(a.Children) != 1 || a.Children[0].MimeType != "application/pdf" {
		t.Errorf("children = %+v", a.Children)
	}
	if f.dam.probes.Load() != 1 {
		t.Errorf("probes = %d", f.dam.probes.Load())
	}
}

func TestResolveAssetURL(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	au, aerr := f.gw.ResolveAssetURL(ctx, "reports/2024/summary.pdf?compressiontype=2&size=25")
	if aerr != nil {
		t.Fatalf("ResolveAssetURL: %v", aerr)
	}
	for _, part := range []string{"fileuuid=abc123", "ext=pdf", "p10=key", "p20=user", "&compressiontype=2&size=25"} {
		if !strings.Contains(au.SourceURL, part) {
			t.Errorf("SourceURL %q lacks %q", au.SourceURL, part)
		}
	}
	if au.TrackingCookie != "track=1" {
		t.Errorf("TrackingCookie = %q", au.TrackingCookie)
	}

	listed := f.dam.listings.Load()
	id := strings.Repeat("a", 32)
	au, aerr = f.gw.ResolveAssetURL(ctx, id+".jpg")
	if aerr != nil || !strings.Contains(au.SourceURL, "fileuuid="+id) {
		t.Fatalf("direct id = %+v, %v", au, aerr)
	}
	if f.dam.listings.Load() != listed {
		t.Error("backend ids should not trigger a walk")
	}

	if _, aerr := f.gw.ResolveAssetURL(ctx, "reports.zip"); aerr == nil || aerr.Kind != apperr.KindNotFound {
		t.Errorf("folder target should be not found, got %v", aerr)
	}
	if _, aerr := f.gw.ResolveAssetURL(ctx, "?x=1"); aerr == nil || aerr.Kind != apperr.KindBadRequest {
		t.Errorf("empty identifier should be bad request, got %v", aerr)
	}
}

func TestOpenContent(t *testing.T) {
	f := newFixture(t, Config{})

	content, aerr := f.gw.OpenContent(context.Background(), "reports/2024/summary.pdf", "")
	if aerr != nil {
		t.Fatalf("OpenContent: %v", aerr)
	}
	defer content.Body.Close()

	body, _ := io.ReadAll(content.Body)
	if string(body) != "%PDF-abc123" {
		t.Errorf("body = %q", body)
	}
	if content.Header.Get("Content-Type") != "application/pdf" {
		t.Errorf("Content-Type = %q", content.Header.Get("Content-Type"))
	}
}

func TestSplitExt(t *testing.T) {
	tests := []struct{ in, name, ext string }{
		{"summary.pdf", "summary", "pdf"},
		{"a/b/report.final.docx", "a/b/report.final", "docx"},
		{"a.b/noext", "a.b/noext", ""},
		{".hidden", ".hidden", ""},
		{"trailing.", "trailing.", ""},
	}
	for _, tt := range tests {
		name, ext := SplitExt(tt.in)
		if name != tt.name || ext != tt.ext {
			t.Errorf("SplitExt(%q) = %q, %q; want %q, %q", tt.in, name, ext, tt.name, tt.ext)
		}
	}
}

func TestIsIDLike(t *testing.T) {
	tests := map[string]bool{
		"0":                     true,
		"12345":                 true,
		"-5":                    true,
		"007":                   false,
		strings.Repeat("f", 32): true,
		strings.Repeat("f", 31): false,
		"reports/2024":          false,
		strings.Repeat("f", 15) + "/" + strings.Repeat("f", 16): false,
	}
	for in, want := range tests {
		if got := IsIDLike(in); got != want {
			t.Errorf("IsIDLike(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAssetJSONShape(t *testing.T) {
	f := newFixture(t, Config{})
	a, aerr := f.gw.ResolveAssetInfo(context.Background(), "reports/2024/summary", false)
	if aerr != nil {
		t.Fatal(aerr)
	}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	if m["type"] != "file" || m["media_id"] != "abc123" || m["asset_type"] != "item" {
		t.Errorf("unexpected JSON: %s", b)
	}
}
