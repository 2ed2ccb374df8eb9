// Package config loads estimator configuration from an optional YAML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taxwise-partners/sp-estimator/internal/logging"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Sheets  SheetsConfig   `yaml:"sheets"`
	Cache   CacheConfig    `yaml:"cache"`
	Storage StoreConfig    `yaml:"storage"`
	Retry   RetryConfig    `yaml:"retry"`
	Run     RunConfig      `yaml:"run"`
	Logging logging.Config `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Catalog CatalogConfig  `yaml:"catalog"`
	Audit   AuditConfig    `yaml:"audit"`
}

type SheetsConfig struct {
	// Endpoint may stay empty here; the client reports it on first use.
	Endpoint    string        `yaml:"endpoint"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig selects a blob backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // "local" | "mem" | "gcs" | "s3"
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"` // custom S3 endpoint (MinIO, R2)
	Region   string `yaml:"region"`
}

type CacheConfig struct {
	Backend string        `yaml:"backend"` // "memory" | "local" | "gcs" | "s3" | "none"
	Dir     string        `yaml:"dir"`
	Bucket  string        `yaml:"bucket"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`

	Endpoint string `yaml:"endpoint"` // custom S3 endpoint (MinIO, R2)
	Region   string `yaml:"region"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type RunConfig struct {
	Scenarios         string `yaml:"scenarios"`
	DeleteWorkingCopy bool   `yaml:"delete_working_copy"`
	ExportReport      bool   `yaml:"export_report"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Sheets: SheetsConfig{
			SettleDelay: 100 * time.Millisecond,
			Timeout:     60 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "local",
			Dir:     "./.sp-estimator",
			Prefix:  "resume/",
			TTL:     time.Hour,
		},
		Storage: StoreConfig{
			Backend: "local",
			Dir:     "./.sp-estimator",
			Prefix:  "reports/",
		},
		Retry: RetryConfig{
			Attempts: 2,
			Delay:    2 * time.Second,
		},
		Run: RunConfig{
			Scenarios:         "all",
			DeleteWorkingCopy: true,
		},
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "sp_estimator",
		},
		Audit: AuditConfig{
			Dir: "./.sp-estimator/audit",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Debug("loaded config file", "component", "config", "path", path)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Sheets.Endpoint = getenvDefault("SP_SCRIPT_URL",
		getenvDefault("VITE_GOOGLE_APPS_SCRIPT_URL", cfg.Sheets.Endpoint))
	cfg.Sheets.SettleDelay = getenvDuration("SP_SETTLE_DELAY", cfg.Sheets.SettleDelay)
	cfg.Sheets.Timeout = getenvDuration("SP_HTTP_TIMEOUT", cfg.Sheets.Timeout)

	cfg.Cache.Backend = getenvDefault("SP_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Dir = getenvDefault("SP_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.Bucket = getenvDefault("SP_CACHE_BUCKET", cfg.Cache.Bucket)
	cfg.Cache.Endpoint = getenvDefault("SP_CACHE_ENDPOINT", cfg.Cache.Endpoint)
	cfg.Cache.Region = getenvDefault("SP_CACHE_REGION", cfg.Cache.Region)
	cfg.Cache.TTL = getenvDuration("SP_CACHE_TTL", cfg.Cache.TTL)

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Dir = getenvDefault("LOCAL_DIR", cfg.Storage.Dir)
	cfg.Storage.Bucket = getenvDefault("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)

	if v := os.Getenv("SP_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Attempts = n
		}
	}
	cfg.Retry.Delay = getenvDuration("SP_RETRY_DELAY", cfg.Retry.Delay)

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)

	if os.Getenv("METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	cfg.Metrics.Address = getenvDefault("METRICS_ADDR", cfg.Metrics.Address)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)

	if os.Getenv("AUDIT_ENABLED") == "true" {
		cfg.Audit.Enabled = true
	}
	cfg.Audit.Endpoint = getenvDefault("AUDIT_ENDPOINT", cfg.Audit.Endpoint)
}

// Validate checks field values, not reachability.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "none":
	case "local":
		if c.Cache.Dir == "" {
			return fmt.Errorf("%w: cache.dir required for local backend", ErrInvalid)
		}
	case "gcs", "s3":
		if c.Cache.Bucket == "" {
			return fmt.Errorf("%w: cache.bucket required for %s backend", ErrInvalid, c.Cache.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown cache.backend %q", ErrInvalid, c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("%w: cache.ttl must be positive", ErrInvalid)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("%w: storage.dir required for local backend", ErrInvalid)
		}
	case "mem":
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.bucket required for %s backend", ErrInvalid, c.Storage.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalid, c.Storage.Backend)
	}

	if c.Sheets.SettleDelay < 0 {
		return fmt.Errorf("%w: sheets.settle_delay must not be negative", ErrInvalid)
	}
	if c.Sheets.Timeout <= 0 {
		return fmt.Errorf("%w: sheets.timeout must be positive", ErrInvalid)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("%w: retry.attempts must be at least 1", ErrInvalid)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("%w: retry.delay must not be negative", ErrInvalid)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("%w: metrics.address required when metrics are enabled", ErrInvalid)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed duration", "component", "config", "key", key, "value", v)
		return def
	}
	return d
}
