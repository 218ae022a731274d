package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setLogin(t *testing.T) {
	t.Helper()
	t.Setenv(FileEnv, "")
	t.Setenv("DAM_USERNAME", "gw")
	t.Setenv("DAM_PASSWORD", "secret")
	t.Setenv("DAM_PLATFORM", "acme")
}

func TestLoadDefaults(t *testing.T) {
	setLogin(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheBackend != BackendMemory {
		t.Errorf("CacheBackend = %q", cfg.CacheBackend)
	}
	if cfg.MaxWalkDepth != 64 {
		t.Errorf("MaxWalkDepth = %d", cfg.MaxWalkDepth)
	}
	if cfg.ResponseTTL != time.Hour {
		t.Errorf("ResponseTTL = %v", cfg.ResponseTTL)
	}
}

func TestFileThenEnvPrecedence(t *testing.T) {
	setLogin(t)

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yml := "public_url: https://assets.example.com\nresponse_ttl: 2h\nmax_walk_depth: 10\ncache_backend: redis\nredis_addr: localhost:6379\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("MAX_WALK_DEPTH", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PublicURL != "https://assets.example.com" {
		t.Errorf("PublicURL = %q", cfg.PublicURL)
	}
	if cfg.ResponseTTL != 2*time.Hour {
		t.Errorf("ResponseTTL = %v", cfg.ResponseTTL)
	}
	if cfg.MaxWalkDepth != 12 {
		t.Errorf("env should win over file, MaxWalkDepth = %d", cfg.MaxWalkDepth)
	}
	if cfg.CacheBackend != BackendRedis || cfg.RedisAddr != "localhost:6379" {
		t.Errorf("cache = %q @ %q", cfg.CacheBackend, cfg.RedisAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unset keys should keep defaults, LogLevel = %q", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no credentials", func(c *Config) { c.DAMPassword = "" }, "DAM_USERNAME"},
		{"token only", func(c *Config) { c.DAMUsername = ""; c.DAMAPIKey = "k"; c.DAMUserUUID = "u" }, ""},
		{"bad depth", func(c *Config) { c.MaxWalkDepth = 0 }, "MAX_WALK_DEPTH"},
		{"redis without addr", func(c *Config) { c.CacheBackend = BackendRedis }, "REDIS_ADDR"},
		{"postgres without url", func(c *Config) { c.CacheBackend = BackendPostgres }, "DATABASE_URL"},
		{"unknown backend", func(c *Config) { c.CacheBackend = "etcd" }, "unknown cache backend"},
		{"none", func(c *Config) { c.CacheBackend = BackendNone }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.DAMUsername, cfg.DAMPassword, cfg.DAMPlatform = "gw", "secret", "acme"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadBadFile(t *testing.T) {
	setLogin(t)
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
