// Package config loads the endpoint-etl configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML or JSON file, ETL_ prefixed environment variables (ETL_DATABASE_DSN,
// ETL_INGEST_BATCH_SIZE, ...) and finally command line flags applied by the
// caller.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ETL"

// DefaultName is the config file looked up in the working directory when no
// path is given.
const DefaultName = "endpoint-etl"

// Config is the complete application configuration.
type Config struct {
	Schema     string           `mapstructure:"schema"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Source     SourceConfig     `mapstructure:"source"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig enables the shared page cache and cooldown tracker.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// SourceConfig describes the remote API.
type SourceConfig struct {
	BaseURL             string            `mapstructure:"base_url"`
	Namespace           string            `mapstructure:"namespace"`
	Endpoints           map[string]string `mapstructure:"endpoints"`
	Headers             map[string]string `mapstructure:"headers"`
	UserAgent           string            `mapstructure:"user_agent"`
	BoilerplateSegments []string          `mapstructure:"boilerplate_segments"`
	ResultsField        string            `mapstructure:"results_field"`
	NextField           string            `mapstructure:"next_field"`
	Timeout             time.Duration     `mapstructure:"timeout"`
	MaxRPS              float64           `mapstructure:"max_rps"`
}

// PaginationConfig controls how page sequences are walked.
type PaginationConfig struct {
	PageDelay time.Duration `mapstructure:"page_delay"`
	MaxPages  int           `mapstructure:"max_pages"`
}

// RetryConfig is the per-page retry policy.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

// IngestConfig controls the pipeline.
type IngestConfig struct {
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	BatchSize      int    `mapstructure:"batch_size"`
	DropExisting   bool   `mapstructure:"drop_existing"`
	SkipExpansion  bool   `mapstructure:"skip_expansion"`
	ExpandedSuffix string `mapstructure:"expanded_suffix"`
}

// CacheConfig sets page cache lifetimes. A zero TTL disables the cache.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	StaleTTL time.Duration `mapstructure:"stale_ttl"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig enables the /metrics and /health listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"schema":                      "public",
	"database.dsn":                "",
	"database.max_conns":          0,
	"redis.url":                   "",
	"source.base_url":             "",
	"source.namespace":            "etl",
	"source.user_agent":           "endpoint-etl/1.0",
	"source.boilerplate_segments": []string{},
	"source.results_field":        "results",
	"source.next_field":           "next",
	"source.timeout":              60 * time.Second,
	"source.max_rps":              0.0,
	"pagination.page_delay":       300 * time.Millisecond,
	"pagination.max_pages":        0,
	"retry.max_attempts":          5,
	"retry.initial_backoff":       time.Second,
	"retry.max_backoff":           60 * time.Second,
	"retry.multiplier":            2.0,
	"ingest.max_concurrency":      10,
	"ingest.batch_size":           1000,
	"ingest.drop_existing":        false,
	"ingest.skip_expansion":       false,
	"ingest.expanded_suffix":      "expanded",
	"cache.ttl":                   0,
	"cache.stale_ttl":             24 * time.Hour,
	"log.level":                   "info",
	"log.pretty":                  false,
	"metrics.addr":                "",
}

// Load reads the configuration. An empty path looks for an optional
// endpoint-etl.{yaml,json} in the working directory; an explicit path must
// exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that no component can default on its own.
// requireDatabase is set by commands that talk to PostgreSQL.
func (c *Config) Validate(requireDatabase bool) error {
	var errs []error

	if requireDatabase && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if len(c.Source.Endpoints) == 0 {
		errs = append(errs, errors.New("source.endpoints must not be empty"))
	}
	if c.Source.UserAgent == "" {
		errs = append(errs, errors.New("source.user_agent is required"))
	}
	if c.Source.MaxRPS < 0 {
		errs = append(errs, fmt.Errorf("source.max_rps must be >= 0 (got %v)", c.Source.MaxRPS))
	}
	if c.Pagination.PageDelay < 0 {
		errs = append(errs, fmt.Errorf("pagination.page_delay must be >= 0 (got %s)", c.Pagination.PageDelay))
	}
	if c.Pagination.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("pagination.max_pages must be >= 0 (got %d)", c.Pagination.MaxPages))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Ingest.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("ingest.max_concurrency must be >= 1 (got %d)", c.Ingest.MaxConcurrency))
	}
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be >= 1 (got %d)", c.Ingest.BatchSize))
	}
	if c.Ingest.ExpandedSuffix == "" {
		errs = append(errs, errors.New("ingest.expanded_suffix must not be empty"))
	}
	if c.Cache.TTL < 0 || c.Cache.StaleTTL < 0 {
		errs = append(errs, errors.New("cache lifetimes must be >= 0"))
	}

	return errors.Join(errs...)
}
