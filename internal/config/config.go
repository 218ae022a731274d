// Package config loads configuration from defaults, an optional YAML file
// and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at the optional YAML file.
const FileEnv = "ASSETGW_CONFIG"

// Cache backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendS3       = "s3"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Config holds all gateway configuration.
type Config struct {
	// Server
	ListenAddr     string        `yaml:"listen_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	PublicURL      string        `yaml:"public_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Logging
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// DAM backend
	DAMBaseURL  string        `yaml:"dam_base_url"`
	DAMUsername string        `yaml:"dam_username"`
	DAMPassword string        `yaml:"dam_password"`
	DAMPlatform string        `yaml:"dam_platform"`
	DAMAPIKey   string        `yaml:"dam_api_key"`
	DAMUserUUID string        `yaml:"dam_user_uuid"`
	DAMTracking string        `yaml:"dam_tracking"`
	DAMTimeout  time.Duration `yaml:"dam_timeout"`

	// Resolution
	MaxWalkDepth         int  `yaml:"max_walk_depth"`
	MimeProbe            bool `yaml:"mime_probe"`
	MimeProbeConcurrency int  `yaml:"mime_probe_concurrency"`

	// Cache
	CacheBackend        string        `yaml:"cache_backend"`
	ResponseTTL         time.Duration `yaml:"response_ttl"`
	PathMapTTL          time.Duration `yaml:"path_map_ttl"`
	ForceNoCache        bool          `yaml:"force_no_cache"`
	DisablePathMapReads bool          `yaml:"disable_path_map_reads"`
	PurgeInterval       time.Duration `yaml:"purge_interval"`

	// Memory store
	MemoryMaxSizeMB int `yaml:"memory_max_size_mb"`

	// Redis store
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// AWS stores (S3, DynamoDB)
	AWSRegion      string `yaml:"aws_region"`
	AWSAccessKey   string `yaml:"aws_access_key"`
	AWSSecretKey   string `yaml:"aws_secret_key"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	DynamoEndpoint string `yaml:"dynamodb_endpoint"`
	DynamoTable    string `yaml:"dynamodb_table"`

	// Postgres store
	DatabaseURL string `yaml:"database_url"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:           ":8080",
		MetricsAddr:          ":9090",
		PublicURL:            "http://localhost:8080",
		RequestTimeout:       60 * time.Second,
		LogLevel:             "info",
		LogFormat:            "json",
		LogMaxSizeMB:         100,
		LogMaxBackups:        5,
		LogMaxAgeDays:        28,
		DAMBaseURL:           "https://apius.intelligencebank.com",
		DAMTimeout:           30 * time.Second,
		MaxWalkDepth:         64,
		MimeProbe:            false,
		MimeProbeConcurrency: 4,
		CacheBackend:         BackendMemory,
		ResponseTTL:          time.Hour,
		PathMapTTL:           7 * 24 * time.Hour,
		PurgeInterval:        time.Hour,
		MemoryMaxSizeMB:      256,
		AWSRegion:            "us-east-1",
		S3Bucket:             "assetgw-cache",
		DynamoTable:          "assetgw-cache",
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.PublicURL = envOr("PUBLIC_URL", c.PublicURL)
	c.RequestTimeout = envDuration("REQUEST_TIMEOUT", c.RequestTimeout)

	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.LogFile = envOr("LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = envInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = envInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAgeDays = envInt("LOG_MAX_AGE_DAYS", c.LogMaxAgeDays)

	c.DAMBaseURL = envOr("DAM_BASE_URL", c.DAMBaseURL)
	c.DAMUsername = envOr("DAM_USERNAME", c.DAMUsername)
	c.DAMPassword = envOr("DAM_PASSWORD", c.DAMPassword)
	c.DAMPlatform = envOr("DAM_PLATFORM", c.DAMPlatform)
	c.DAMAPIKey = envOr("DAM_API_KEY", c.DAMAPIKey)
	c.DAMUserUUID = envOr("DAM_USER_UUID", c.DAMUserUUID)
	c.DAMTracking = envOr("DAM_TRACKING", c.DAMTracking)
	c.DAMTimeout = envDuration("DAM_TIMEOUT", c.DAMTimeout)

	c.MaxWalkDepth = envInt("MAX_WALK_DEPTH", c.MaxWalkDepth)
	c.MimeProbe = envBool("MIME_PROBE", c.MimeProbe)
	c.MimeProbeConcurrency = envInt("MIME_PROBE_CONCURRENCY", c.MimeProbeConcurrency)

	c.CacheBackend = envOr("CACHE_BACKEND", c.CacheBackend)
	c.ResponseTTL = envDuration("RESPONSE_TTL", c.ResponseTTL)
	c.PathMapTTL = envDuration("PATH_MAP_TTL", c.PathMapTTL)
	c.ForceNoCache = envBool("FORCE_NO_CACHE", c.ForceNoCache)
	c.DisablePathMapReads = envBool("DISABLE_PATH_MAP_READS", c.DisablePathMapReads)
	c.PurgeInterval = envDuration("PURGE_INTERVAL", c.PurgeInterval)

	c.MemoryMaxSizeMB = envInt("MEMORY_MAX_SIZE_MB", c.MemoryMaxSizeMB)

	c.RedisAddr = envOr("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envOr("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("REDIS_DB", c.RedisDB)

	c.AWSRegion = envOr("AWS_REGION", c.AWSRegion)
	c.AWSAccessKey = envOr("AWS_ACCESS_KEY", c.AWSAccessKey)
	c.AWSSecretKey = envOr("AWS_SECRET_KEY", c.AWSSecretKey)
	c.S3Endpoint = envOr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Bucket = envOr("S3_BUCKET", c.S3Bucket)
	c.S3Prefix = envOr("S3_PREFIX", c.S3Prefix)
	c.DynamoEndpoint = envOr("DYNAMODB_ENDPOINT", c.DynamoEndpoint)
	c.DynamoTable = envOr("DYNAMODB_TABLE", c.DynamoTable)

	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
}

// Validate checks required settings and the cache backend's prerequisites.
func (c *Config) Validate() error {
	if c.DAMBaseURL == "" {
		return fmt.Errorf("DAM_BASE_URL is required")
	}
	hasLogin := c.DAMUsername != "" && c.DAMPassword != "" && c.DAMPlatform != ""
	hasToken := c.DAMAPIKey != "" && c.DAMUserUUID != ""
	if !hasLogin && !hasToken {
		return fmt.Errorf("DAM_USERNAME, DAM_PASSWORD and DAM_PLATFORM (or DAM_API_KEY and DAM_USER_UUID) are required")
	}
	if c.MaxWalkDepth <= 0 {
		return fmt.Errorf("MAX_WALK_DEPTH must be positive, got %d", c.MaxWalkDepth)
	}
	if c.ResponseTTL <= 0 || c.PathMapTTL <= 0 {
		return fmt.Errorf("RESPONSE_TTL and PATH_MAP_TTL must be positive")
	}

	switch c.CacheBackend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis cache backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 cache backend")
		}
	case BackendDynamoDB:
		if c.DynamoTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb cache backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.CacheBackend)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
