// Package gateway exposes the two asset operations: metadata lookup and
// authenticated source URL resolution. Every failure leaves as *apperr.Error.
package gateway

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/assetgateway/internal/apperr"
	"github.com/fruitsalade/assetgateway/internal/cache"
	"github.com/fruitsalade/assetgateway/internal/dam"
	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/resolve"
)

// backendIDLength is the length of a DAM resource uuid.
const backendIDLength = 32

// Backend is the subset of the DAM client the gateway needs.
type Backend interface {
	resolve.Backend
	ResourceURL(ctx context.Context, res dam.Resource) (string, error)
	ProbeContentType(ctx context.Context, id string) (string, error)
	Fetch(ctx context.Context, res dam.Resource, rangeHeader string) (*dam.Content, error)
	Tracking() string
}

// Config holds gateway configuration.
type Config struct {
	// MimeProbe fills in missing mime types with HEAD requests.
	MimeProbe            bool
	MimeProbeConcurrency int
}

// Gateway serves asset lookups.
type Gateway struct {
	backend Backend
	engine  *resolve.Engine
	cache   *cache.Layer
	cfg     Config
}

// New creates a gateway.
func New(backend Backend, engine *resolve.Engine, layer *cache.Layer, cfg Config) *Gateway {
	if cfg.MimeProbeConcurrency <= 0 {
		cfg.MimeProbeConcurrency = 4
	}
	return &Gateway{backend: backend, engine: engine, cache: layer, cfg: cfg}
}

// AssetURL is an authenticated backend URL for an asset's bytes.
type AssetURL struct {
	SourceURL      string
	TrackingCookie string
}

// ResolveAssetInfo returns the asset behind identifier. bypass skips every
// cache read (responses and path map); results are still cached.
func (g *Gateway) ResolveAssetInfo(ctx context.Context, identifier string, bypass bool) (*models.Asset, *apperr.Error) {
	key := "/a/" + strings.TrimPrefix(identifier, "/")

	asset, err := g.cache.GetOrResolve(ctx, key, func(ctx context.Context) (*models.Asset, error) {
		a, err := g.engine.Resolve(ctx, identifier, resolve.Options{Bypass: bypass})
		if err != nil {
			return nil, err
		}
		if g.cfg.MimeProbe {
			g.probeMimeTypes(ctx, a)
		}
		return a, nil
	}, cache.RequestOptions{Bypass: bypass})
	if err != nil {
		return nil, apperr.From(err)
	}
	return asset, nil
}

// probeMimeTypes fills in missing mime types of a file or of a folder's
// file children. Failures leave the field empty.
func (g *Gateway) probeMimeTypes(ctx context.Context, a *models.Asset) {
	var targets []*models.Asset
	if a.Kind == models.KindFile {
		targets = append(targets, a)
	}
	for _, child := range a.Children {
		if child.Kind == models.KindFile {
			targets = append(targets, child)
		}
	}

	var eg errgroup.Group
	eg.SetLimit(g.cfg.MimeProbeConcurrency)
	for _, t := range targets {
		if t.MimeType != "" || t.MediaID == "" {
			continue
		}
		eg.Go(func() error {
			mime, err := g.backend.ProbeContentType(ctx, t.MediaID)
			if err != nil {
				logging.WithContext(ctx).Debug("mime probe failed",
					logging.String("media_id", t.MediaID), logging.Err(err))
				return nil
			}
			t.MimeType = mime
			return nil
		})
	}
	eg.Wait()
}

// ResolveAssetURL turns "name[.ext][?query]" into an authenticated backend
// URL. Backend ids are used directly; anything else is resolved as a path.
func (g *Gateway) ResolveAssetURL(ctx context.Context, identifier string) (*AssetURL, *apperr.Error) {
	res, aerr := g.locateResource(ctx, identifier)
	if aerr != nil {
		return nil, aerr
	}
	u, err := g.backend.ResourceURL(ctx, res)
	if err != nil {
		return nil, apperr.From(err)
	}
	return &AssetURL{SourceURL: u, TrackingCookie: g.backend.Tracking()}, nil
}

// OpenContent resolves identifier and streams its bytes. The caller must
// close the returned body.
func (g *Gateway) OpenContent(ctx context.Context, identifier, rangeHeader string) (*dam.Content, *apperr.Error) {
	res, aerr := g.locateResource(ctx, identifier)
	if aerr != nil {
		return nil, aerr
	}
	content, err := g.backend.Fetch(ctx, res, rangeHeader)
	if err != nil {
		return nil, apperr.From(err)
	}
	return content, nil
}

func (g *Gateway) locateResource(ctx context.Context, identifier string) (dam.Resource, *apperr.Error) {
	target, rawQuery, _ := strings.Cut(strings.TrimPrefix(identifier, "/"), "?")
	name, ext := SplitExt(target)
	if name == "" {
		return dam.Resource{}, apperr.BadRequest("missing asset identifier")
	}

	id := name
	if !IsIDLike(name) {
		loc, err := g.engine.LocatePath(ctx, name, resolve.Options{})
		if err != nil {
			return dam.Resource{}, apperr.From(err)
		}
		if loc.Kind != models.KindFile {
			return dam.Resource{}, apperr.NotFound("not a file", name)
		}
		id = loc.ID
	}
	return dam.Resource{ID: id, Ext: ext, RawQuery: rawQuery}, nil
}

// SplitExt splits the extension off the last path segment. A segment
// without a dot has no extension.
func SplitExt(p string) (string, string) {
	slash := strings.LastIndex(p, "/")
	dot := strings.LastIndex(p, ".")
	if dot <= slash+1 || dot == len(p)-1 {
		return p, ""
	}
	return p[:dot], p[dot+1:]
}

// IsIDLike reports whether s can be used as a backend id without a walk:
// all digits (which includes the root "0"), or a 32-character uuid.
func IsIDLike(s string) bool {
	if resolve.IsNumeric(s) {
		return true
	}
	return len(s) == backendIDLength && !strings.Contains(s, "/")
}
