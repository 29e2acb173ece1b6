package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Archive.Backend != BackendNone {
		t.Fatalf("expected memory storage and no archive, got %q/%q", cfg.Storage.Backend, cfg.Archive.Backend)
	}
	rules := cfg.QuotaRules()
	if rules.ResetHour != 7 || rules.SearchCeiling != 8000 || rules.SearchCost != 100 || rules.DailyLimit != 10000 {
		t.Fatalf("unexpected quota defaults: %+v", rules)
	}
	if rules.ChannelCeiling != 9900 || rules.ChannelCost != 1 {
		t.Fatalf("unexpected channel quota defaults: %+v", rules)
	}
	if cfg.Backfill.StartYear != 2023 {
		t.Fatalf("expected start year 2023, got %d", cfg.Backfill.StartYear)
	}
	if cfg.PubSub.TopicName != "channel-crawled" || cfg.Archive.Prefix != "raw-pages" {
		t.Fatalf("unexpected sink defaults: %+v %+v", cfg.PubSub, cfg.Archive)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.YouTube.MaxRetries != 0 {
		t.Fatalf("expected search retries to be off by default, got %d", cfg.YouTube.MaxRetries)
	}
	if cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "ytcrawler" {
		t.Fatalf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
youtube:
  api_key: yt-key
  base_url: http://localhost:9999
  timeout_seconds: 45
  requests_per_second: 2.5
  max_results: 25
  retry_base_ms: 100
  retry_max_ms: 800
quota:
  reset_hour: 8
  search_ceiling: 7000
backfill:
  start_year: 2020
storage:
  backend: postgres
db:
  dsn: postgres://crawler@localhost/crawler
  max_conns: 8
  max_conn_lifetime_seconds: 60
archive:
  backend: gcs
  gcs_bucket: raw-bucket
pubsub:
  enabled: true
  project_id: proj
schedule:
  enabled: true
  incremental_interval_minutes: 15
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.YouTube.APIKey != "yt-key" || cfg.YouTube.RequestsPerSecond != 2.5 || cfg.YouTube.MaxResults != 25 {
		t.Fatalf("expected youtube overrides, got %+v", cfg.YouTube)
	}
	if got := cfg.YouTubeTimeout(); got != 45*time.Second {
		t.Fatalf("expected youtube timeout 45s, got %v", got)
	}
	base, ceiling := cfg.RetryBackoff()
	if base != 100*time.Millisecond || ceiling != 800*time.Millisecond {
		t.Fatalf("unexpected retry backoff %v/%v", base, ceiling)
	}
	if rules := cfg.QuotaRules(); rules.ResetHour != 8 || rules.SearchCeiling != 7000 || rules.SearchCost != 100 {
		t.Fatalf("expected partial quota override, got %+v", rules)
	}
	if cfg.DB.MaxConns != 8 || cfg.ConnMaxLifetime() != time.Minute || !cfg.DB.Migrate {
		t.Fatalf("unexpected db config %+v", cfg.DB)
	}
	if cfg.IncrementalInterval() != 15*time.Minute || cfg.BackfillInterval() != 24*time.Hour {
		t.Fatalf("unexpected schedule %+v", cfg.Schedule)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected production logging at debug, got %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		YouTube:  YouTubeConfig{TimeoutSeconds: 15, RequestsPerSecond: 5, MaxResults: 50},
		Quota:    QuotaConfig{ResetHour: 7, SearchCeiling: 8000, SearchCost: 100, ChannelCeiling: 9900, ChannelCost: 1, DailyLimit: 10000},
		Backfill: BackfillConfig{StartYear: 2023},
		Storage:  StorageConfig{Backend: BackendMemory},
		Archive:  ArchiveConfig{Backend: BackendNone},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "negative retries", mutate: func(c *Config) { c.YouTube.MaxRetries = -1 }, want: "youtube.max_retries"},
		{name: "max results too large", mutate: func(c *Config) { c.YouTube.MaxResults = 51 }, want: "youtube.max_results"},
		{name: "reset hour out of range", mutate: func(c *Config) { c.Quota.ResetHour = 24 }, want: "reset hour"},
		{name: "ceiling above limit", mutate: func(c *Config) { c.Quota.SearchCeiling = 10001 }, want: "search ceiling"},
		{name: "zero cost", mutate: func(c *Config) { c.Quota.SearchCost = 0 }, want: "costs"},
		{name: "start year too early", mutate: func(c *Config) { c.Backfill.StartYear = 1999 }, want: "backfill.start_year"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, want: "storage.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "db.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = BackendGCS }, want: "archive.gcs_bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Archive.Backend = BackendLocal }, want: "archive.local_dir"},
		{name: "pubsub without project", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "schedule without interval", mutate: func(c *Config) { c.Schedule.Enabled = true }, want: "schedule intervals"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
