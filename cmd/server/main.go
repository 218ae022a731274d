// Asset Gateway Server
//
// Resolves IntelligenceBank asset ids and folder paths into normalized
// asset metadata (/a/...) or streamed content (/f/...), with a pluggable
// response cache and path map (memory, redis, s3, dynamodb, postgres).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/assetgateway/internal/api"
	"github.com/fruitsalade/assetgateway/internal/cache"
	"github.com/fruitsalade/assetgateway/internal/config"
	"github.com/fruitsalade/assetgateway/internal/dam"
	"github.com/fruitsalade/assetgateway/internal/gateway"
	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/metrics"
	"github.com/fruitsalade/assetgateway/internal/resolve"
	"github.com/fruitsalade/assetgateway/internal/storage"
	"github.com/fruitsalade/assetgateway/internal/storage/factory"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("asset gateway starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("cache_backend", cfg.CacheBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cache store
	store, err := factory.New(ctx, cfg)
	if err != nil {
		logging.Fatal("cache store init failed", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
	}

	// DAM client. Login is lazy; an eager attempt only surfaces bad
	// credentials early.
	creds := dam.Credentials{
		Username: cfg.DAMUsername,
		Password: cfg.DAMPassword,
		Platform: cfg.DAMPlatform,
		APIKey:   cfg.DAMAPIKey,
		UserUUID: cfg.DAMUserUUID,
		Tracking: cfg.DAMTracking,
	}
	client := dam.New(dam.Config{
		BaseURL:   cfg.DAMBaseURL,
		PublicURL: cfg.PublicURL,
		Timeout:   cfg.DAMTimeout,
	}, dam.NewSession(creds))

	if err := client.Connect(ctx, creds); err != nil {
		logging.Warn("initial DAM login failed, will retry on demand", zap.Error(err))
	}

	layer := cache.New(store, cache.Config{
		Host:                client.Host(),
		ResponseTTL:         cfg.ResponseTTL,
		PathMapTTL:          cfg.PathMapTTL,
		ForceNoCache:        cfg.ForceNoCache,
		DisablePathMapReads: cfg.DisablePathMapReads,
	})
	engine := resolve.New(client, layer.PathMap(), resolve.Config{MaxDepth: cfg.MaxWalkDepth})
	gw := gateway.New(client, engine, layer, gateway.Config{
		MimeProbe:            cfg.MimeProbe,
		MimeProbeConcurrency: cfg.MimeProbeConcurrency,
	})

	srv := api.NewServer(gw, api.Config{
		CacheBackend:   cfg.CacheBackend,
		RequestTimeout: cfg.RequestTimeout,
		SessionReady: func() bool {
			_, ok := client.Session().Token()
			return ok
		},
	})

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Periodic purge for stores without native expiry
	if p, ok := store.(storage.Purger); ok && cfg.PurgeInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.PurgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := p.PurgeExpired(ctx, time.Now()); err != nil {
						logging.Error("cache purge failed", zap.Error(err))
					} else if n > 0 {
						logging.Info("purged expired cache entries", zap.Int64("count", n))
					}
				}
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
