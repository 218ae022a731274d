// Package api provides the HTTP server and handlers of the gateway.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/fruitsalade/assetgateway/internal/apperr"
	"github.com/fruitsalade/assetgateway/internal/dam"
	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/metrics"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/protocol"
)

// Service is what the handlers need from the gateway.
type Service interface {
	ResolveAssetInfo(ctx context.Context, identifier string, bypass bool) (*models.Asset, *apperr.Error)
	OpenContent(ctx context.Context, identifier, rangeHeader string) (*dam.Content, *apperr.Error)
}

// Config holds server settings.
type Config struct {
	CacheBackend   string
	RequestTimeout time.Duration

	// SessionReady reports whether a backend session is established.
	SessionReady func() bool
}

// Server is the gateway HTTP server.
type Server struct {
	svc Service
	cfg Config
}

// NewServer creates a new server.
func NewServer(svc Service, cfg Config) *Server {
	if cfg.SessionReady == nil {
		cfg.SessionReady = func() bool { return false }
	}
	return &Server{svc: svc, cfg: cfg}
}

// Headers copied from the backend onto /f responses.
var contentHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Content-Disposition",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
	"Cache-Control",
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", gzhttp.GzipHandler(http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /a/{identifier...}", s.withTimeout(gzhttp.GzipHandler(http.HandlerFunc(s.handleAsset))))

	// Content is streamed, so it gets neither compression nor a
	// buffering timeout handler.
	mux.HandleFunc("GET /f/{identifier...}", s.handleContent)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) withTimeout(h http.Handler) http.Handler {
	if s.cfg.RequestTimeout <= 0 {
		return h
	}
	return http.TimeoutHandler(h, s.cfg.RequestTimeout, `{"error":"request timed out","code":503}`)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:       "ok",
		CacheBackend: s.cfg.CacheBackend,
		Session:      s.cfg.SessionReady(),
	})
}

// handleAsset handles GET /a/{identifier}. ?nocache or ?bust skips cache
// reads for this request.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	q := r.URL.Query()
	bypass := q.Has("nocache") || q.Has("bust")

	asset, aerr := s.svc.ResolveAssetInfo(r.Context(), identifier, bypass)
	if aerr != nil {
		s.sendError(w, r, aerr)
		return
	}

	if asset.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	var resp *protocol.AssetResponse = asset
	sendJSON(w, http.StatusOK, resp)
}

// handleContent handles GET /f/{identifier}. The query string and Range
// header are passed through to the backend.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	if r.URL.RawQuery != "" {
		identifier += "?" + r.URL.RawQuery
	}

	content, aerr := s.svc.OpenContent(r.Context(), identifier, r.Header.Get("Range"))
	if aerr != nil {
		metrics.RecordContentServed(0, false)
		s.sendError(w, r, aerr)
		return
	}
	defer content.Body.Close()

	for _, h := range contentHeaders {
		if v := content.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(content.StatusCode)

	if r.Method == http.MethodHead {
		metrics.RecordContentServed(0, true)
		return
	}
	n, err := io.Copy(w, content.Body)
	if err != nil {
		logging.WithContext(r.Context()).Warn("content stream interrupted",
			zap.String("identifier", identifier), zap.Int64("bytes", n), zap.Error(err))
		metrics.RecordContentServed(n, false)
		return
	}
	metrics.RecordContentServed(n, true)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, aerr *apperr.Error) {
	logger := logging.WithContext(r.Context())
	fields := []zap.Field{
		zap.String("kind", aerr.Kind.String()),
		zap.String("path", r.URL.Path),
		zap.Error(aerr),
	}
	if aerr.Status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	resp := protocol.ErrorResponse{
		Error: aerr.Message,
		Code:  aerr.Status,
		Kind:  aerr.Kind.String(),
		Path:  aerr.Path,
	}
	// Backend messages only; transport errors can carry credentialed URLs.
	if aerr.Kind == apperr.KindProtocol && aerr.Err != nil {
		resp.Details = aerr.Err.Error()
	}
	sendJSON(w, aerr.Status, resp)
}
