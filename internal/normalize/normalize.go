// Package normalize turns DAM-native file and folder records into canonical
// assets. Everything here is pure: no I/O, no mutation of the input records.
package normalize

import (
	"strings"

	"github.com/fruitsalade/assetgateway/internal/models"
)

const (
	// ThumbnailSuffix is appended to a file's source URL to address its thumbnail.
	ThumbnailSuffix = "?compressiontype=2&size=25"

	// ThumbnailPrefix marks a child that only carries another child's thumbnail.
	ThumbnailPrefix = "Thumb_"

	DefaultFileType   = "item"
	DefaultFolderType = "folder"

	assetTypeTag = "asset_type"
)

// idExtractors are tried in order; the first non-empty value wins.
var idExtractors = []func(*FileRecord) string{
	func(r *FileRecord) string { return r.ResourceUUID },
	func(r *FileRecord) string { return r.ResourceID },
	func(r *FileRecord) string { return r.UUID },
}

// FileID returns the record's identifier using the extractor priority.
func FileID(rec *FileRecord) string {
	for _, extract := range idExtractors {
		if id := extract(rec); id != "" {
			return id
		}
	}
	return ""
}

// File normalizes a file record. prefix is the resource-location URL that
// media IDs are appended to.
func File(prefix string, rec *FileRecord) *models.Asset {
	id := FileID(rec)
	a := &models.Asset{
		MediaID:   id,
		Kind:      models.KindFile,
		Name:      rec.Title,
		AssetType: DefaultFileType,
		MimeType:  rec.MimeType,
		Created:   rec.CreatedTime,
	}
	if a.Name == "" {
		a.Name = rec.Name
	}
	if id != "" {
		a.SourceURL = prefix + id
		a.ThumbnailURL = prefix + id + ThumbnailSuffix
	}
	if rec.SHA1 != "" {
		a.Checksum = &models.Checksum{Algorithm: "sha1", Value: rec.SHA1}
	}

	assetType, attrs := parseTags(rec.Tags)
	if assetType != "" {
		a.AssetType = assetType
	}
	if len(attrs) > 0 {
		a.Attributes = attrs
	}
	return a
}

// Folder normalizes a folder listing. Inline files come first, then inline
// subfolders, each group in backend order; same-named children are merged.
// An empty id denotes the root. Subfolders without an id cannot be addressed
// and are dropped.
func Folder(prefix, id string, rec *FolderRecord) *models.Asset {
	if id == "" {
		id = models.RootID
	}
	return folder(prefix, id, rec)
}

func folder(prefix, id string, rec *FolderRecord) *models.Asset {
	a := &models.Asset{
		MediaID:   id,
		Kind:      models.KindFolder,
		Name:      rec.Name,
		AssetType: DefaultFolderType,
		Created:   rec.CreatedTime,
	}

	children := make([]*models.Asset, 0, len(rec.Resources)+len(rec.Folders))
	for i := range rec.Resources {
		children = append(children, File(prefix, &rec.Resources[i]))
	}
	for i := range rec.Folders {
		sub := &rec.Folders[i]
		if sub.FolderUUID == "" {
			continue
		}
		children = append(children, folder(prefix, sub.FolderUUID, sub))
	}
	a.Children = MergeChildrenByName(children)
	return a
}

type mergeSlot struct {
	base  *models.Asset
	thumb string
}

// MergeChildrenByName merges children case-insensitively by name, ignoring
// ThumbnailPrefix. A thumbnail variant only donates its SourceURL as the base
// item's ThumbnailURL. Among full items the lowest index wins; later ones only
// fill gaps. Thumbnails whose base item never appears are dropped.
func MergeChildrenByName(children []*models.Asset) []*models.Asset {
	var order []string
	slots := make(map[string]*mergeSlot, len(children))

	for _, child := range children {
		if child == nil {
			continue
		}
		name, isThumb := stripThumbPrefix(child)
		key := strings.ToLower(name)

		slot, ok := slots[key]
		if !ok {
			slot = &mergeSlot{}
			slots[key] = slot
			order = append(order, key)
		}

		switch {
		case isThumb:
			if slot.thumb == "" {
				slot.thumb = child.SourceURL
			}
		case slot.base == nil:
			slot.base = child.Clone()
		default:
			fillMissing(slot.base, child)
		}
	}

	merged := make([]*models.Asset, 0, len(order))
	for _, key := range order {
		slot := slots[key]
		if !survives(slot.base) {
			continue
		}
		if slot.thumb != "" {
			slot.base.ThumbnailURL = slot.thumb
		}
		merged = append(merged, slot.base)
	}
	return merged
}

func stripThumbPrefix(a *models.Asset) (string, bool) {
	if a.Kind == models.KindFolder {
		return a.Name, false
	}
	if len(a.Name) > len(ThumbnailPrefix) && strings.EqualFold(a.Name[:len(ThumbnailPrefix)], ThumbnailPrefix) {
		return a.Name[len(ThumbnailPrefix):], true
	}
	return a.Name, false
}

func survives(a *models.Asset) bool {
	if a == nil {
		return false
	}
	return (a.Kind == models.KindFile && a.SourceURL != "") || a.Kind != models.KindUnknown
}

func fillMissing(dst, src *models.Asset) {
	if dst.MediaID == "" {
		dst.MediaID = src.MediaID
	}
	if dst.Kind == models.KindUnknown {
		dst.Kind = src.Kind
	}
	if dst.AssetType == "" {
		dst.AssetType = src.AssetType
	}
	if dst.Checksum == nil && src.Checksum != nil {
		sum := *src.Checksum
		dst.Checksum = &sum
	}
	if dst.MimeType == "" {
		dst.MimeType = src.MimeType
	}
	if dst.SourceURL == "" {
		dst.SourceURL = src.SourceURL
	}
	if dst.ThumbnailURL == "" {
		dst.ThumbnailURL = src.ThumbnailURL
	}
	if dst.Created == "" {
		dst.Created = src.Created
	}
	for k, v := range src.Attributes {
		if dst.Attributes == nil {
			dst.Attributes = make(map[string]any)
		}
		if _, ok := dst.Attributes[k]; !ok {
			dst.Attributes[k] = v
		}
	}
}

// parseTags applies the tag grammar:
//
//	asset_type<sep>X  -> asset type X (sep is '-', ':' or '=')
//	key:value         -> attributes[lower(key)] = value
//	flag              -> attributes[lower(flag)] = true
//
// Empty string values are dropped; some downstream stores reject them.
func parseTags(tags []string) (string, map[string]any) {
	var assetType string
	attrs := make(map[string]any)

	for _, t := range tags {
		if t == "" {
			continue
		}
		if seg, ok := assetTypeSegment(t); ok {
			if seg != "" {
				assetType = seg
			}
			continue
		}
		if k, v, ok := strings.Cut(t, ":"); ok {
			key := strings.ToLower(strings.TrimSpace(k))
			if key != "" {
				attrs[key] = v
			}
			continue
		}
		attrs[strings.ToLower(t)] = true
	}

	for k, v := range attrs {
		if s, ok := v.(string); ok && s == "" {
			delete(attrs, k)
		}
	}
	return assetType, attrs
}

func assetTypeSegment(t string) (string, bool) {
	if len(t) <= len(assetTypeTag) || !strings.HasPrefix(t, assetTypeTag) {
		return "", false
	}
	sep := t[len(assetTypeTag)]
	if sep != '-' && sep != ':' && sep != '=' {
		return "", false
	}
	rest := t[len(assetTypeTag)+1:]
	seg, _, _ := strings.Cut(rest, string(sep))
	return seg, true
}
