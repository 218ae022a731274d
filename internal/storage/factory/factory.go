// Package factory builds the configured cache Store.
package factory

import (
	"context"
	"fmt"

	"github.com/fruitsalade/assetgateway/internal/config"
	"github.com/fruitsalade/assetgateway/internal/storage"
	"github.com/fruitsalade/assetgateway/internal/storage/awsutil"
	"github.com/fruitsalade/assetgateway/internal/storage/dynamodb"
	"github.com/fruitsalade/assetgateway/internal/storage/memory"
	"github.com/fruitsalade/assetgateway/internal/storage/postgres"
	redisstore "github.com/fruitsalade/assetgateway/internal/storage/redis"
	s3store "github.com/fruitsalade/assetgateway/internal/storage/s3"
)

// New creates the Store selected by cfg.CacheBackend, wrapped with metrics.
// The "none" backend yields a nil Store; the cache layer then always misses.
func New(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	s, err := open(ctx, cfg)
	if err != nil || s == nil {
		return nil, err
	}
	return storage.WithMetrics(s), nil
}

func open(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	aws := awsutil.Config{
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
	}

	switch cfg.CacheBackend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		lifeWindow := cfg.ResponseTTL
		if cfg.PathMapTTL > lifeWindow {
			lifeWindow = cfg.PathMapTTL
		}
		return memory.New(ctx, memory.Config{LifeWindow: lifeWindow, MaxSizeMB: cfg.MemoryMaxSizeMB})
	case config.BackendRedis:
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.BackendS3:
		aws.Endpoint = cfg.S3Endpoint
		return s3store.New(ctx, s3store.Config{Config: aws, Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
	case config.BackendDynamoDB:
		aws.Endpoint = cfg.DynamoEndpoint
		return dynamodb.New(ctx, dynamodb.Config{Config: aws, Table: cfg.DynamoTable})
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.CacheBackend)
	}
}
