// Package models contains the canonical asset types shared by every layer.
package models

import (
	"encoding/json"
	"fmt"
)

// RootID is the media ID reported for the backend's root folder.
const RootID = "0"

// Kind distinguishes files from folders.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return ""
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	switch s {
	case "file":
		return KindFile
	case "folder":
		return KindFolder
	default:
		return KindUnknown
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("kind: %w", err)
	}
	*k = ParseKind(s)
	return nil
}

// Checksum is a content digest supplied by the backend.
type Checksum struct {
	Algorithm string `json:"type"`
	Value     string `json:"value"`
}

// Asset is the backend-agnostic representation of a file or folder.
type Asset struct {
	MediaID      string         `json:"media_id"`
	Kind         Kind           `json:"type"`
	Name         string         `json:"name"`
	AssetType    string         `json:"asset_type"`
	Checksum     *Checksum      `json:"check,omitempty"`
	MimeType     string         `json:"mime_type,omitempty"`
	SourceURL    string         `json:"src,omitempty"`
	ThumbnailURL string         `json:"thumb,omitempty"`
	Created      string         `json:"created,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Children     []*Asset       `json:"items,omitempty"`

	// Cached is set by the serving boundary only.
	Cached bool `json:"cached,omitempty"`
}

// IsFolder reports whether the asset is a folder.
func (a *Asset) IsFolder() bool {
	return a != nil && a.Kind == KindFolder
}

// Location returns the id/kind pair used by the path map.
func (a *Asset) Location() Location {
	return Location{ID: a.MediaID, Kind: a.Kind}
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	if a.Checksum != nil {
		sum := *a.Checksum
		c.Checksum = &sum
	}
	if a.Attributes != nil {
		c.Attributes = make(map[string]any, len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = v
		}
	}
	if a.Children != nil {
		c.Children = make([]*Asset, len(a.Children))
		for i, child := range a.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Location is a resolved backend identity for a path.
type Location struct {
	ID   string `json:"id"`
	Kind Kind   `json:"asset_type"`
}

// IsRoot reports whether the location is the backend root.
func (l Location) IsRoot() bool {
	return l.ID == "" || l.ID == RootID
}
