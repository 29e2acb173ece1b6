// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ytcrawler/internal/quota"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	YouTube   YouTubeConfig   `mapstructure:"youtube"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// YouTubeConfig configures the Data API client.
type YouTubeConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxResults        int     `mapstructure:"max_results"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryBaseMs       int     `mapstructure:"retry_base_ms"`
	RetryMaxMs        int     `mapstructure:"retry_max_ms"`
}

// QuotaConfig holds the daily budget rules.
type QuotaConfig struct {
	ResetHour      int `mapstructure:"reset_hour"`
	SearchCeiling  int `mapstructure:"search_ceiling"`
	SearchCost     int `mapstructure:"search_cost"`
	ChannelCeiling int `mapstructure:"channel_ceiling"`
	ChannelCost    int `mapstructure:"channel_cost"`
	DailyLimit     int `mapstructure:"daily_limit"`
}

// BackfillConfig bounds the historical crawl.
type BackfillConfig struct {
	StartYear int `mapstructure:"start_year"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	ConnectRetries         int    `mapstructure:"connect_retries"`
	Migrate                bool   `mapstructure:"migrate"`
}

// ArchiveConfig sets where raw search pages are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig drives periodic runs inside serve.
type ScheduleConfig struct {
	Enabled                    bool `mapstructure:"enabled"`
	IncrementalIntervalMinutes int  `mapstructure:"incremental_interval_minutes"`
	BackfillIntervalMinutes    int  `mapstructure:"backfill_interval_minutes"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	LogSpans    bool   `mapstructure:"log_spans"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage and archive backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// SearchPaths are probed for a config.{yaml,json,toml} when no explicit path
// is given.
var SearchPaths = []string{".", "/etc/ytcrawler", "$HOME/.ytcrawler"}

// Load builds a Config from disk/environment. Without a path, the first
// config file found on SearchPaths is used; finding none is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("youtube.api_key", "")
	v.SetDefault("youtube.base_url", "")
	v.SetDefault("youtube.timeout_seconds", 15)
	v.SetDefault("youtube.requests_per_second", 5)
	v.SetDefault("youtube.burst", 1)
	v.SetDefault("youtube.max_results", 50)
	v.SetDefault("youtube.max_retries", 0)
	v.SetDefault("youtube.retry_base_ms", 500)
	v.SetDefault("youtube.retry_max_ms", 5000)
	v.SetDefault("quota.reset_hour", 7)
	v.SetDefault("quota.search_ceiling", 8000)
	v.SetDefault("quota.search_cost", 100)
	v.SetDefault("quota.channel_ceiling", 9900)
	v.SetDefault("quota.channel_cost", 1)
	v.SetDefault("quota.daily_limit", 10000)
	v.SetDefault("backfill.start_year", 2023)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 300)
	v.SetDefault("db.connect_retries", 5)
	v.SetDefault("db.migrate", true)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "raw-pages")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "channel-crawled")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.incremental_interval_minutes", 60)
	v.SetDefault("schedule.backfill_interval_minutes", 1440)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "ytcrawler")
	v.SetDefault("telemetry.log_spans", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.YouTube.TimeoutSeconds <= 0 {
		return fmt.Errorf("youtube.timeout_seconds must be > 0")
	}
	if c.YouTube.RequestsPerSecond <= 0 {
		return fmt.Errorf("youtube.requests_per_second must be > 0")
	}
	if c.YouTube.MaxRetries < 0 {
		return fmt.Errorf("youtube.max_retries must be >= 0")
	}
	if c.YouTube.MaxResults <= 0 || c.YouTube.MaxResults > 50 {
		return fmt.Errorf("youtube.max_results must be within 1..50")
	}
	if err := c.QuotaRules().Validate(); err != nil {
		return err
	}
	if c.Backfill.StartYear < 2005 {
		return fmt.Errorf("backfill.start_year must be >= 2005")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local archive")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if c.Schedule.Enabled && (c.Schedule.IncrementalIntervalMinutes <= 0 || c.Schedule.BackfillIntervalMinutes <= 0) {
		return fmt.Errorf("schedule intervals must be > 0 when scheduling is enabled")
	}
	return nil
}

// QuotaRules converts the quota section into tracker thresholds.
func (c Config) QuotaRules() quota.Config {
	return quota.Config{
		ResetHour:      c.Quota.ResetHour,
		SearchCeiling:  c.Quota.SearchCeiling,
		SearchCost:     c.Quota.SearchCost,
		ChannelCeiling: c.Quota.ChannelCeiling,
		ChannelCost:    c.Quota.ChannelCost,
		DailyLimit:     c.Quota.DailyLimit,
	}
}

// RequestTimeout bounds non-crawl HTTP handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// YouTubeTimeout bounds a single Data API call.
func (c Config) YouTubeTimeout() time.Duration {
	return time.Duration(c.YouTube.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the base and ceiling for Data API retries.
func (c Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.YouTube.RetryBaseMs) * time.Millisecond,
		time.Duration(c.YouTube.RetryMaxMs) * time.Millisecond
}

// ConnMaxLifetime converts the pool lifetime setting.
func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}

// IncrementalInterval is the scheduler period for incremental runs.
func (c Config) IncrementalInterval() time.Duration {
	return time.Duration(c.Schedule.IncrementalIntervalMinutes) * time.Minute
}

// BackfillInterval is the scheduler period for backfill runs.
func (c Config) BackfillInterval() time.Duration {
	return time.Duration(c.Schedule.BackfillIntervalMinutes) * time.Minute
}
