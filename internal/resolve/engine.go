// Package resolve turns external identifiers (numeric IDs or slash paths)
// into canonical assets by querying the DAM.
package resolve

import (
	"context"
	"strconv"
	"strings"

	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/metrics"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/race"
)

// DefaultMaxDepth bounds the number of folder listings in one walk.
const DefaultMaxDepth = 64

// Backend is the subset of the DAM client the engine needs.
type Backend interface {
	GetFolderInfo(ctx context.Context, id string) (*models.Asset, error)
	GetAssetInfo(ctx context.Context, id string) (*models.Asset, error)
}

// PathMap remembers which backend location a path resolved to.
type PathMap interface {
	Lookup(ctx context.Context, path string) (models.Location, bool)
	Remember(ctx context.Context, path string, loc models.Location)
}

// Options tune a single resolution.
type Options struct {
	// Bypass skips path map reads. Observed children are still recorded.
	Bypass bool
}

// Config holds engine configuration.
type Config struct {
	MaxDepth int
}

// Engine resolves identifiers.
type Engine struct {
	backend  Backend
	paths    PathMap
	maxDepth int
}

// New creates an engine. A nil PathMap disables path memoization.
func New(backend Backend, paths PathMap, cfg Config) *Engine {
	if paths == nil {
		paths = noPathMap{}
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	return &Engine{backend: backend, paths: paths, maxDepth: cfg.MaxDepth}
}

// Strategy names how an identifier is resolved.
type Strategy string

const (
	StrategyRoot Strategy = "root"
	StrategyID   Strategy = "id"
	StrategyPath Strategy = "path"
)

// Classify picks the resolution strategy for identifier.
func Classify(identifier string) Strategy {
	trimmed := strings.Trim(identifier, "/")
	switch {
	case trimmed == "":
		return StrategyRoot
	case IsNumeric(trimmed):
		return StrategyID
	default:
		return StrategyPath
	}
}

// IsNumeric reports whether s is an integer in canonical decimal form:
// "42" and "-5" are, "007", "+1" and "-0" are not.
func IsNumeric(s string) bool {
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == s
}

// Resolve resolves identifier to an asset.
func (e *Engine) Resolve(ctx context.Context, identifier string, opts Options) (*models.Asset, error) {
	strategy := Classify(identifier)

	var asset *models.Asset
	var err error
	switch strategy {
	case StrategyRoot:
		asset, err = e.backend.GetFolderInfo(ctx, models.RootID)
	case StrategyID:
		asset, err = e.IDLookup(ctx, strings.Trim(identifier, "/"))
	default:
		asset, err = e.PathWalk(ctx, identifier, opts)
	}

	metrics.RecordResolution(string(strategy), err == nil)
	if err != nil {
		logging.WithContext(ctx).Debug("resolution failed",
			logging.String("identifier", identifier),
			logging.String("strategy", string(strategy)),
			logging.Err(err))
		return nil, err
	}
	return asset, nil
}

// IDLookup queries the id as a file and as a folder concurrently. The first
// success wins; when both fail the folder lookup's error is returned.
func (e *Engine) IDLookup(ctx context.Context, id string) (*models.Asset, error) {
	const folderBranch = 1
	return race.FirstSuccess(ctx, folderBranch,
		func(ctx context.Context) (*models.Asset, error) {
			return e.backend.GetAssetInfo(ctx, id)
		},
		func(ctx context.Context) (*models.Asset, error) {
			return e.backend.GetFolderInfo(ctx, id)
		},
	)
}

type noPathMap struct{}

func (noPathMap) Lookup(context.Context, string) (models.Location, bool) {
	return models.Location{}, false
}

func (noPathMap) Remember(context.Context, string, models.Location) {}
