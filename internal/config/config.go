// Package config loads and validates ingest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/appgallery-ingest/internal/credential"
	"github.com/JakeFAU/appgallery-ingest/internal/remote"
)

// EnvPrefix is prepended to every environment override, e.g. INGEST_DB_DSN.
const EnvPrefix = "INGEST"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	API        APIConfig        `mapstructure:"api"`
	Credential CredentialConfig `mapstructure:"credential"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Rating     RatingConfig     `mapstructure:"rating"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig guards the /v1 routes with a static API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// APIConfig describes the remote catalog API.
type APIConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TokenURL         string `mapstructure:"token_url"`
	Locale           string `mapstructure:"locale"`
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// Timeout is the per-request deadline.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CredentialConfig tunes token and identity rotation.
type CredentialConfig struct {
	TokenValiditySeconds    int `mapstructure:"token_validity_seconds"`
	IdentityValiditySeconds int `mapstructure:"identity_validity_seconds"`
	Attempts                int `mapstructure:"attempts"`
	BackoffMs               int `mapstructure:"backoff_ms"`
}

// SchedulerConfig sizes batches.
type SchedulerConfig struct {
	BatchSize  int `mapstructure:"batch_size"`
	CooldownMs int `mapstructure:"cooldown_ms"`
	MaxBatches int `mapstructure:"max_batches"`
}

// Cooldown is the pause between batches.
func (c SchedulerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// DiscoveryConfig parameterizes the candidate generators.
type DiscoveryConfig struct {
	Sequential   SequentialConfig   `mapstructure:"sequential"`
	Random       RandomConfig       `mapstructure:"random"`
	Neighborhood NeighborhoodConfig `mapstructure:"neighborhood"`
}

// SequentialConfig is a zero-padded identifier range.
type SequentialConfig struct {
	Prefix string `mapstructure:"prefix"`
	Start  uint64 `mapstructure:"start"`
	End    uint64 `mapstructure:"end"`
	Width  int    `mapstructure:"width"`
}

// RandomConfig is a sampled identifier space. A zero seed is replaced with the
// current time at run start.
type RandomConfig struct {
	Prefix string `mapstructure:"prefix"`
	Base   uint64 `mapstructure:"base"`
	Span   uint64 `mapstructure:"span"`
	Seed   uint64 `mapstructure:"seed"`
}

// NeighborhoodConfig expands known identifiers.
type NeighborhoodConfig struct {
	Delta uint64 `mapstructure:"delta"`
}

// SyncConfig drives the periodic package-list sync.
type SyncConfig struct {
	Packages          []string `mapstructure:"packages"`
	IntervalSeconds   int      `mapstructure:"interval_seconds"`
	RetryDelaySeconds int      `mapstructure:"retry_delay_seconds"`
	IncludeKnown      bool     `mapstructure:"include_known"`
}

// Interval is the pause between sync runs.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RetryDelay is the pause after a run stopped for lack of credentials.
func (c SyncConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// RatingConfig selects which entities get a rating lookup.
type RatingConfig struct {
	SkipPrefixes []string `mapstructure:"skip_prefixes"`
}

// DBConfig controls the Postgres pool. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// Storage backends for the snapshot archive.
const (
	StorageNone   = "none"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// StorageConfig selects where raw snapshots are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds change notification settings. An empty project disables
// publishing unless Memory records the events in process for local runs.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	Memory    bool   `mapstructure:"memory"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	LogEvents      bool `mapstructure:"log_events"`
}

// RateLimitConfig paces outbound requests per remote endpoint. Zero RPS
// disables pacing.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with defaults and environment overrides
// applied. Callers may bind flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadFrom(New(), path)
}

// LoadFrom reads the optional file at path into v, then unmarshals and
// validates the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("api.base_url", remote.DefaultBaseURL)
	v.SetDefault("api.token_url", credential.DefaultTokenURL)
	v.SetDefault("api.locale", "zh_CN")
	v.SetDefault("api.user_agent", "appgallery-ingest/0.1")
	v.SetDefault("api.timeout_seconds", 15)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.backoff_initial_ms", 250)
	v.SetDefault("api.backoff_max_ms", 5000)
	v.SetDefault("credential.token_validity_seconds", 60)
	v.SetDefault("credential.identity_validity_seconds", 600)
	v.SetDefault("credential.attempts", 3)
	v.SetDefault("credential.backoff_ms", 1000)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.cooldown_ms", 25)
	v.SetDefault("scheduler.max_batches", 0)
	v.SetDefault("discovery.sequential.prefix", "C576588020785")
	v.SetDefault("discovery.sequential.start", 2000000)
	v.SetDefault("discovery.sequential.end", 6390000)
	v.SetDefault("discovery.sequential.width", 7)
	v.SetDefault("discovery.random.prefix", "C69175")
	v.SetDefault("discovery.random.base", uint64(59067092904725))
	v.SetDefault("discovery.random.span", uint64(85170011059280-59067092904725))
	v.SetDefault("discovery.random.seed", 0)
	v.SetDefault("discovery.neighborhood.delta", 1000)
	v.SetDefault("sync.interval_seconds", 1800)
	v.SetDefault("sync.retry_delay_seconds", 60)
	v.SetDefault("sync.include_known", true)
	v.SetDefault("rating.skip_prefixes", []string{"com.atomicservice"})
	v.SetDefault("db.max_conns", 128)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "snapshots")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("pubsub.topic_name", "appgallery-changes")
	v.SetDefault("pubsub.memory", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 1000)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.TimeoutSeconds <= 0 {
		return errors.New("api.timeout_seconds must be > 0")
	}
	if c.Credential.Attempts <= 0 {
		return errors.New("credential.attempts must be > 0")
	}
	if c.Scheduler.BatchSize <= 0 {
		return errors.New("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.CooldownMs < 0 {
		return errors.New("scheduler.cooldown_ms must be >= 0")
	}
	if c.DB.DSN != "" && c.DB.MaxConns < c.Scheduler.BatchSize {
		return fmt.Errorf("db.max_conns must be >= scheduler.batch_size (%d < %d)", c.DB.MaxConns, c.Scheduler.BatchSize)
	}
	if c.Discovery.Sequential.Start > c.Discovery.Sequential.End {
		return errors.New("discovery.sequential.start must be <= discovery.sequential.end")
	}
	if c.Discovery.Random.Span == 0 {
		return errors.New("discovery.random.span must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return errors.New("rate_limit.rps must be >= 0")
	}
	switch c.Storage.Backend {
	case "", StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return errors.New("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}
