// Package config loads and validates crawler configuration via Viper.
// Values come from an optional YAML file overridden by CERTIS_-prefixed
// environment variables (CERTIS_SITE_BASE_URL, CERTIS_DB_DSN, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetch strategies.
const (
	StrategyHTTP    = "http"
	StrategyBrowser = "browser"
)

// Snapshot backends.
const (
	SnapshotNone   = "none"
	SnapshotGCS    = "gcs"
	SnapshotLocal  = "local"
	SnapshotMemory = "memory"
)

// Config captures every knob the crawler consumes.
type Config struct {
	Site        SiteConfig        `mapstructure:"site"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	DB          DBConfig          `mapstructure:"db"`
	Server      ServerConfig      `mapstructure:"server"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SiteConfig describes the target catalog.
type SiteConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	UserAgent       string `mapstructure:"user_agent"`
	ProductsPerPage int    `mapstructure:"products_per_page"`
	// Strategy selects the fetch implementation: http or browser.
	Strategy string `mapstructure:"strategy"`
}

// CrawlerConfig governs batching and retry budgets.
type CrawlerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
	BatchRetries int           `mapstructure:"batch_retries"`
	PageRetries  int           `mapstructure:"page_retries"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
}

// ConcurrencyConfig bounds the adaptive worker pool.
type ConcurrencyConfig struct {
	Initial  int  `mapstructure:"initial"`
	Min      int  `mapstructure:"min"`
	Max      int  `mapstructure:"max"`
	Adaptive bool `mapstructure:"adaptive"`
	// Window is the sliding outcome window the adaptive controller
	// observes.
	Window          int     `mapstructure:"window"`
	ShrinkThreshold float64 `mapstructure:"shrink_threshold"`
}

// FetchConfig tunes per-request behavior shared by both strategies.
type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// MaxBrowserContexts caps concurrent Chrome tabs for the browser
	// strategy.
	MaxBrowserContexts int `mapstructure:"max_browser_contexts"`
}

// DBConfig controls the Postgres pool.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ServerConfig controls the read-only status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// SnapshotConfig selects where session artifacts land.
type SnapshotConfig struct {
	Backend      string `mapstructure:"backend"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	LocalDir     string `mapstructure:"local_dir"`
	ArchivePages bool   `mapstructure:"archive_pages"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CERTIS")
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
	// The empty default keeps the key visible to AutomaticEnv.
	v.SetDefault("site.base_url", "")
	v.SetDefault("site.user_agent", "certis-crawler/1.0")
	v.SetDefault("site.products_per_page", 12)
	v.SetDefault("site.strategy", StrategyHTTP)
	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.batch_delay", "2s")
	v.SetDefault("crawler.batch_retries", 2)
	v.SetDefault("crawler.page_retries", 3)
	v.SetDefault("crawler.retry_base", "500ms")
	v.SetDefault("crawler.retry_max", "30s")
	v.SetDefault("concurrency.initial", 5)
	v.SetDefault("concurrency.min", 1)
	v.SetDefault("concurrency.max", 16)
	v.SetDefault("concurrency.adaptive", true)
	v.SetDefault("concurrency.window", 10)
	v.SetDefault("concurrency.shrink_threshold", 0.3)
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.cache_ttl", "5m")
	v.SetDefault("fetch.max_browser_contexts", 2)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("snapshot.backend", SnapshotNone)
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.local_dir", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Site.ProductsPerPage <= 0 {
		return fmt.Errorf("site.products_per_page must be > 0")
	}
	switch c.Site.Strategy {
	case StrategyHTTP, StrategyBrowser:
	default:
		return fmt.Errorf("site.strategy must be %q or %q", StrategyHTTP, StrategyBrowser)
	}
	if c.Concurrency.Min <= 0 {
		return fmt.Errorf("concurrency.min must be > 0")
	}
	if c.Concurrency.Initial < c.Concurrency.Min {
		return fmt.Errorf("concurrency.initial must be >= concurrency.min")
	}
	if c.Concurrency.Max > 0 && c.Concurrency.Initial > c.Concurrency.Max {
		return fmt.Errorf("concurrency.initial must be <= concurrency.max")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	switch c.Snapshot.Backend {
	case SnapshotNone, SnapshotMemory:
	case SnapshotGCS:
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket is required for the gcs backend")
		}
	case SnapshotLocal:
		if c.Snapshot.LocalDir == "" {
			return fmt.Errorf("snapshot.local_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not recognized", c.Snapshot.Backend)
	}
	return nil
}
