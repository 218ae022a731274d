// Package protocol defines the HTTP response types of the gateway.
package protocol

import "github.com/fruitsalade/assetgateway/internal/models"

// AssetResponse is returned by GET /a/{identifier}.
type AssetResponse = models.Asset

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Path    string `json:"path,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	CacheBackend string `json:"cache_backend"`
	Session      bool   `json:"session"`
}
