package resolve

import (
	"context"
	"fmt"

	"github.com/fruitsalade/assetgateway/internal/apperr"
	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/metrics"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/tree"
)

type walkResult struct {
	loc models.Location

	// observed is the terminal child as seen in its parent's listing, when
	// the walk listed that parent.
	observed *models.Asset

	// fromMap is set when any path map entry was trusted.
	fromMap bool
}

// PathWalk resolves a slash path. Path map entries are trusted first; if a
// trusted entry turns out to be stale the walk is redone once without them.
func (e *Engine) PathWalk(ctx context.Context, path string, opts Options) (*models.Asset, error) {
	asset, fromMap, err := e.pathWalk(ctx, path, opts)
	if err != nil && fromMap && apperr.IsNotFound(err) {
		logging.WithContext(ctx).Info("stale path map entry, walking again",
			logging.String("path", path), logging.Err(err))
		asset, _, err = e.pathWalk(ctx, path, Options{Bypass: true})
	}
	return asset, err
}

func (e *Engine) pathWalk(ctx context.Context, path string, opts Options) (*models.Asset, bool, error) {
	res, err := e.walk(ctx, path, opts)
	if err != nil {
		return nil, res.fromMap, err
	}
	if res.observed != nil && !res.observed.IsFolder() {
		return res.observed, res.fromMap, nil
	}
	asset, err := e.fetch(ctx, res.loc)
	return asset, res.fromMap, err
}

// LocatePath resolves a path to its backend location without fetching the
// target itself.
func (e *Engine) LocatePath(ctx context.Context, path string, opts Options) (models.Location, error) {
	res, err := e.walk(ctx, path, opts)
	if err != nil && res.fromMap && apperr.IsNotFound(err) {
		res, err = e.walk(ctx, path, Options{Bypass: true})
	}
	if err != nil {
		return models.Location{}, err
	}
	return res.loc, nil
}

func (e *Engine) fetch(ctx context.Context, loc models.Location) (*models.Asset, error) {
	if loc.IsRoot() || loc.Kind == models.KindFolder {
		return e.backend.GetFolderInfo(ctx, loc.ID)
	}
	return e.backend.GetAssetInfo(ctx, loc.ID)
}

// walk descends from the deepest remembered folder (or the root), listing
// one folder per remaining segment.
func (e *Engine) walk(ctx context.Context, path string, opts Options) (walkResult, error) {
	segments := tree.Split(path)
	res := walkResult{loc: models.Location{ID: models.RootID, Kind: models.KindFolder}}
	if len(segments) == 0 {
		return res, nil
	}

	start := 0
	if !opts.Bypass {
		for i := len(segments); i >= 1; i-- {
			loc, ok := e.paths.Lookup(ctx, tree.Join(segments[:i]))
			if !ok {
				continue
			}
			if i == len(segments) {
				res.loc, res.fromMap = loc, true
				return res, nil
			}
			if loc.Kind != models.KindFolder {
				continue
			}
			res.loc, res.fromMap = loc, true
			start = i
			break
		}
	}

	visited := make(map[string]bool)
	listings := 0
	defer func() { metrics.RecordWalkDepth(listings) }()

	for i := start; i < len(segments); i++ {
		current := tree.Join(segments[:i])
		if listings >= e.maxDepth {
			return res, apperr.Protocol(fmt.Sprintf("path walk exceeded %d folders at %q", e.maxDepth, current), nil)
		}
		if visited[res.loc.ID] {
			return res, apperr.Protocol(fmt.Sprintf("folder cycle at %q", current), nil)
		}
		visited[res.loc.ID] = true

		folder, err := e.backend.GetFolderInfo(ctx, res.loc.ID)
		listings++
		if err != nil {
			return res, err
		}

		for _, child := range folder.Children {
			e.paths.Remember(ctx, tree.BuildChildPath(current, child.Name), child.Location())
		}

		next := tree.Join(segments[:i+1])
		child := tree.FindChild(folder, segments[i])
		if child == nil {
			return res, apperr.NotFound("no such item", next)
		}
		if i < len(segments)-1 && !child.IsFolder() {
			return res, apperr.NotFound("not a folder", next)
		}
		res.loc = child.Location()
		res.observed = child
	}
	return res, nil
}
