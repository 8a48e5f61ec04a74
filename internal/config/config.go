// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CW_DB_DSN.
const EnvPrefix = "CW"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Frontier   FrontierConfig   `mapstructure:"frontier"`
	Robots     RobotsConfig     `mapstructure:"robots"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Sitemap    SitemapConfig    `mapstructure:"sitemap"`
	Change     ChangeConfig     `mapstructure:"change"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl executor.
type CrawlerConfig struct {
	UserAgent        string   `mapstructure:"user_agent"`
	Concurrency      int      `mapstructure:"concurrency"`
	MaxPages         int      `mapstructure:"max_pages"`
	ArchiveHTML      bool     `mapstructure:"archive_html"`
	BlockedHosts     []string `mapstructure:"blocked_hosts"`
	RefusalThreshold int      `mapstructure:"refusal_threshold"`
}

// FrontierConfig bounds each scan's frontier.
type FrontierConfig struct {
	MaxDepth   int `mapstructure:"max_depth"`
	MaxRetries int `mapstructure:"max_retries"`
	MaxURLs    int `mapstructure:"max_urls"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Respect    bool   `mapstructure:"respect"`
	AgentToken string `mapstructure:"agent_token"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// PolitenessConfig sets the jittered per-request delay.
type PolitenessConfig struct {
	MinDelayMs int  `mapstructure:"min_delay_ms"`
	MaxDelayMs int  `mapstructure:"max_delay_ms"`
	Disabled   bool `mapstructure:"disabled"`
}

// FetchConfig configures the plain HTTP fetcher.
type FetchConfig struct {
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Headers        map[string]string `mapstructure:"headers"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	// PromotionBytes is the body size under which script-heavy pages are re-rendered.
	PromotionBytes int `mapstructure:"promotion_bytes"`
}

// SitemapConfig controls sitemap seeding.
type SitemapConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	NestedCap int  `mapstructure:"nested_cap"`
	MaxURLs   int  `mapstructure:"max_urls"`
}

// ChangeConfig tunes the change-detection coordinators.
type ChangeConfig struct {
	PriceThreshold   float64 `mapstructure:"price_threshold"`
	ContentMinLength int     `mapstructure:"content_min_length"`
}

// MonitorConfig drives the periodic monitor loop and scan workers of serve.
type MonitorConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	RetentionDays   int `mapstructure:"retention_days"`
	Workers         int `mapstructure:"workers"`
	QueueDepth      int `mapstructure:"queue_depth"`
}

// StorageConfig selects the blob store for archived HTML and checkpoints.
type StorageConfig struct {
	// Backend is one of memory, local or gcs.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// every record in memory.
type DBConfig struct {
	DSN                 string `mapstructure:"dsn"`
	MaxConns            int32  `mapstructure:"max_conns"`
	MinConns            int32  `mapstructure:"min_conns"`
	ConnLifetimeMinutes int    `mapstructure:"conn_lifetime_minutes"`
	Migrate             bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize    int  `mapstructure:"buffer_size"`
	BatchSize     int  `mapstructure:"batch_size"`
	BatchWaitMs   int  `mapstructure:"batch_wait_ms"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
	LogEvents     bool `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	// ProjectID enables Cloud Trace export when set.
	ProjectID string `mapstructure:"project_id"`
	// SampleRatio is the trace sampling fraction in [0,1].
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadEnvFile loads a dotenv file into the process environment. A missing
// default file is not an error; an explicitly named one must exist.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.user_agent", "competitor-watch/1.0 (+https://github.com/JakeFAU/competitor-watch)")
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.archive_html", true)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("crawler.refusal_threshold", 3)
	v.SetDefault("frontier.max_depth", 5)
	v.SetDefault("frontier.max_retries", 3)
	v.SetDefault("frontier.max_urls", 1000)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.agent_token", "competitor-watch")
	v.SetDefault("robots.ttl_seconds", 3600)
	v.SetDefault("politeness.min_delay_ms", 500)
	v.SetDefault("politeness.max_delay_ms", 2000)
	v.SetDefault("politeness.disabled", false)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 3)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.promotion_bytes", 2048)
	v.SetDefault("sitemap.enabled", true)
	v.SetDefault("sitemap.nested_cap", 10)
	v.SetDefault("sitemap.max_urls", 500)
	v.SetDefault("change.price_threshold", 0.01)
	v.SetDefault("change.content_min_length", 100)
	v.SetDefault("monitor.interval_minutes", 0)
	v.SetDefault("monitor.retention_days", 30)
	v.SetDefault("monitor.workers", 2)
	v.SetDefault("monitor.queue_depth", 64)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "competitor-watch-events")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_size", 500)
	v.SetDefault("progress.batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "competitor-watch")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Frontier.MaxDepth < 0 || c.Frontier.MaxURLs < 0 {
		return fmt.Errorf("frontier limits must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Politeness.MaxDelayMs < c.Politeness.MinDelayMs {
		return fmt.Errorf("politeness.max_delay_ms must be >= politeness.min_delay_ms")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Change.PriceThreshold < 0 || c.Change.PriceThreshold >= 1 {
		return fmt.Errorf("change.price_threshold must be in [0,1)")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0,1]")
	}
	return nil
}

// FetchTimeout returns the plain fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RobotsTTL returns how long robots policies stay cached.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Robots.TTLSeconds) * time.Second
}

// MonitorInterval returns the serve loop's monitor period; zero disables it.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// Retention returns how long scans are kept by cleanup.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Monitor.RetentionDays) * 24 * time.Hour
}
