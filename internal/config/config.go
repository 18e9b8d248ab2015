// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/vendors/selector"
)

// Backend names accepted by the *.backend keys.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Auth     AuthConfig        `mapstructure:"auth"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Queue    QueueConfig       `mapstructure:"queue"`
	Control  ControlConfig     `mapstructure:"control"`
	Manager  ManagerConfig     `mapstructure:"manager"`
	Catalog  CatalogConfig     `mapstructure:"catalog"`
	DB       DBConfig          `mapstructure:"db"`
	Archive  ArchiveConfig     `mapstructure:"archive"`
	PubSub   PubSubConfig      `mapstructure:"pubsub"`
	Progress ProgressConfig    `mapstructure:"progress"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Vendors  []selector.Config `mapstructure:"vendors"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RedisConfig is shared by the Redis queue store and control bus.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// QueueConfig selects the queue store.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
}

// ControlConfig selects the control channel transport.
type ControlConfig struct {
	Backend string `mapstructure:"backend"`
	Channel string `mapstructure:"channel"`
}

// ManagerConfig sizes the worker pool.
type ManagerConfig struct {
	WorkersPerVendor int    `mapstructure:"workers_per_vendor"`
	WakeSchedule     string `mapstructure:"wake_schedule"`
	HeadSize         int    `mapstructure:"head_size"`
}

// CatalogConfig selects the catalog store and the re-scrape window.
type CatalogConfig struct {
	Backend      string        `mapstructure:"backend"`
	Freshness    time.Duration `mapstructure:"freshness"`
	EnsureSchema bool          `mapstructure:"ensure_schema"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig selects where item snapshots are written.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. Events are
// forwarded only when TopicName is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// HTTPConfig holds defaults applied to every vendor's fetcher.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// Load builds a Config from disk/environment. With an empty path it looks for
// config.{yaml,json,toml} in ., /etc/catalog-crawler and ~/.catalog-crawler
// and falls back to defaults plus environment when none exists.
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
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalog-crawler/")
		v.AddConfigPath("$HOME/.catalog-crawler")
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
	cfg.applyHTTPDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.development", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "crawl")
	v.SetDefault("queue.backend", BackendRedis)
	v.SetDefault("control.backend", BackendRedis)
	v.SetDefault("control.channel", "crawl:events")
	v.SetDefault("manager.workers_per_vendor", 1)
	v.SetDefault("manager.wake_schedule", "* * * * *")
	v.SetDefault("manager.head_size", 5)
	v.SetDefault("catalog.backend", BackendMemory)
	v.SetDefault("catalog.freshness", "24h")
	v.SetDefault("db.table", "catalog_entries")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.user_agent", "catalog-crawler/0.1")
	v.SetDefault("http.rate_per_second", 1.0)
	v.SetDefault("http.burst", 1)
}

// applyHTTPDefaults fills vendor fetch settings left blank from the http section.
func (c *Config) applyHTTPDefaults() {
	for i := range c.Vendors {
		if c.Vendors[i].UserAgent == "" {
			c.Vendors[i].UserAgent = c.HTTP.UserAgent
		}
		if c.Vendors[i].Timeout <= 0 {
			c.Vendors[i].Timeout = c.HTTP.Timeout
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := oneOf("queue.backend", c.Queue.Backend, BackendRedis, BackendMemory); err != nil {
		return err
	}
	if err := oneOf("control.backend", c.Control.Backend, BackendRedis, BackendMemory); err != nil {
		return err
	}
	if c.Queue.Backend == BackendMemory && c.Control.Backend == BackendRedis {
		return fmt.Errorf("control.backend=redis requires queue.backend=redis")
	}
	if c.Manager.WorkersPerVendor <= 0 {
		return fmt.Errorf("manager.workers_per_vendor must be > 0")
	}
	if _, err := cron.ParseStandard(c.Manager.WakeSchedule); err != nil {
		return fmt.Errorf("manager.wake_schedule: %w", err)
	}
	if err := oneOf("catalog.backend", c.Catalog.Backend, BackendMemory, BackendPostgres); err != nil {
		return err
	}
	if c.Catalog.Backend == BackendPostgres && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when catalog.backend=postgres")
	}
	if c.Catalog.Freshness < 0 {
		return fmt.Errorf("catalog.freshness must be >= 0")
	}
	if err := oneOf("archive.backend", c.Archive.Backend, BackendNone, BackendLocal, BackendGCS); err != nil {
		return err
	}
	if c.Archive.Backend == BackendGCS && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set when archive.backend=gcs")
	}
	if c.Archive.Backend == BackendLocal && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set when archive.backend=local")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	if len(c.Vendors) == 0 {
		return fmt.Errorf("at least one vendor must be configured")
	}
	seen := make(map[string]struct{}, len(c.Vendors))
	for _, v := range c.Vendors {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("vendors: %w", err)
		}
		if _, dup := seen[v.Vendor]; dup {
			return fmt.Errorf("vendors: %s configured twice", v.Vendor)
		}
		seen[v.Vendor] = struct{}{}
	}
	return nil
}

// VendorNames lists configured vendors in file order.
func (c Config) VendorNames() []string {
	names := make([]string, 0, len(c.Vendors))
	for _, v := range c.Vendors {
		names = append(names, v.Vendor)
	}
	return names
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}
