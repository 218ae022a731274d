// Package tree provides helpers for slash-delimited asset paths and folder trees.
package tree

import (
	"strings"

	"github.com/fruitsalade/assetgateway/internal/models"
)

// IsRoot reports whether path denotes the backend root.
func IsRoot(path string) bool {
	return strings.Trim(path, "/") == ""
}

// Split breaks a path into its segments. Leading, trailing and repeated
// slashes are ignored; the root path yields no segments.
func Split(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Join is the inverse of Split. The result has no leading slash.
func Join(segments []string) string {
	return strings.Join(segments, "/")
}

// Clean normalizes a path to the form used as a path map key.
func Clean(path string) string {
	return Join(Split(path))
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if IsRoot(parentPath) {
		return name
	}
	return Clean(parentPath) + "/" + name
}

// FindChild returns the direct child whose name matches exactly.
func FindChild(folder *models.Asset, name string) *models.Asset {
	if folder == nil {
		return nil
	}
	for _, child := range folder.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}
