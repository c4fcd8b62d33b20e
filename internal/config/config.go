// Package config loads flowd configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
	BackendRedis      = "redis"
)

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Polygon      PolygonConfig      `yaml:"polygon"`
	Storage      StorageConfig      `yaml:"storage"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Significance SignificanceConfig `yaml:"significance"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Backfill     BackfillConfig     `yaml:"backfill"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type PolygonConfig struct {
	APIKey           string        `yaml:"api_key"`
	RESTURL          string        `yaml:"rest_url"`
	WSURL            string        `yaml:"ws_url"`
	Subscriptions    []string      `yaml:"subscriptions"`
	RequestsPerSec   float64       `yaml:"requests_per_second"`
	MaxRetries       int           `yaml:"max_retries"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenFor   time.Duration `yaml:"breaker_open_for"`
	ReconnectMaxWait time.Duration `yaml:"reconnect_max_wait"`
}

type StorageConfig struct {
	Trades        string `yaml:"trades"`  // memory | postgres | clickhouse
	Buckets       string `yaml:"buckets"` // memory | postgres | redis
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type IngestConfig struct {
	Stream bool `yaml:"stream"`
	Dedupe bool `yaml:"dedupe"`
}

type SignificanceConfig struct {
	MinPremium string `yaml:"min_premium"`
	MaxDTE     int    `yaml:"max_dte"`
	Timezone   string `yaml:"timezone"`
}

type AggregationConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type BackfillConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Tickers     []string      `yaml:"tickers"`
	Interval    time.Duration `yaml:"interval"`
	Offset      time.Duration `yaml:"offset"`
	Window      time.Duration `yaml:"window"`
	MaxPages    int           `yaml:"max_pages"`
	PageLimit   int           `yaml:"page_limit"`
	PageDelay   time.Duration `yaml:"page_delay"`
	TickerDelay time.Duration `yaml:"ticker_delay"`
	PageTimeout time.Duration `yaml:"page_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Polygon: PolygonConfig{
			RESTURL:          "https://api.polygon.io",
			WSURL:            "wss://socket.polygon.io/options",
			Subscriptions:    []string{"T.*"},
			RequestsPerSec:   5,
			MaxRetries:       3,
			Timeout:          30 * time.Second,
			BreakerFailures:  5,
			BreakerOpenFor:   30 * time.Second,
			ReconnectMaxWait: 30 * time.Second,
		},
		Storage: StorageConfig{
			Trades:      BackendMemory,
			Buckets:     BackendMemory,
			RedisPrefix: "flow:",
		},
		Ingest: IngestConfig{Stream: true},
		Significance: SignificanceConfig{
			MinPremium: "50000",
			MaxDTE:     30,
			Timezone:   "UTC",
		},
		Aggregation: AggregationConfig{
			Retention:     7 * 24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Backfill: BackfillConfig{
			Enabled:     false,
			Interval:    5 * time.Minute,
			Offset:      15 * time.Minute,
			Window:      time.Hour,
			MaxPages:    10,
			PageLimit:   1000,
			PageDelay:   250 * time.Millisecond,
			TickerDelay: time.Second,
			PageTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Default returns the built-in configuration with environment overrides applied.
func Default() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadDotEnv loads .env into the process environment. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		c.Polygon.APIKey = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks and normalizes the configuration.
func (c *Config) Validate() error {
	c.Storage.Trades = strings.ToLower(c.Storage.Trades)
	c.Storage.Buckets = strings.ToLower(c.Storage.Buckets)

	switch c.Storage.Trades {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for postgres trades")
		}
	case BackendClickhouse:
		if c.Storage.ClickhouseDSN == "" {
			return errors.New("storage.clickhouse_dsn is required for clickhouse trades")
		}
	default:
		return fmt.Errorf("storage.trades must be memory, postgres or clickhouse, got %q", c.Storage.Trades)
	}

	switch c.Storage.Buckets {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for postgres buckets")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for redis buckets")
		}
		if strings.ContainsAny(c.Storage.RedisPrefix, "|") {
			return errors.New("storage.redis_prefix must not contain '|'")
		}
	default:
		return fmt.Errorf("storage.buckets must be memory, postgres or redis, got %q", c.Storage.Buckets)
	}

	if _, err := c.MinPremium(); err != nil {
		return err
	}
	if c.Significance.MaxDTE < 0 {
		return errors.New("significance.max_dte must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Backfill.Enabled {
		if len(c.Backfill.Tickers) == 0 {
			return errors.New("backfill.enabled requires at least one entry in backfill.tickers")
		}
		if c.Backfill.Interval <= 0 {
			return errors.New("backfill.interval must be positive")
		}
		if c.Backfill.Window <= 0 {
			return errors.New("backfill.window must be positive")
		}
		if c.Backfill.Offset < 0 {
			return errors.New("backfill.offset must be >= 0")
		}
		if c.Backfill.MaxPages < 1 {
			return errors.New("backfill.max_pages must be >= 1")
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// MinPremium returns the significance premium floor.
func (c *Config) MinPremium() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Significance.MinPremium)
	if err != nil {
		return decimal.Zero, fmt.Errorf("significance.min_premium: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("significance.min_premium must be >= 0")
	}
	return d, nil
}

// Location returns the market timezone used for days-to-expiry.
func (c *Config) Location() (*time.Location, error) {
	if c.Significance.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Significance.Timezone)
	if err != nil {
		return nil, fmt.Errorf("significance.timezone: %w", err)
	}
	return loc, nil
}

// NewLogger builds the process logger and installs it as the global logger.
// Unknown levels fall back to info.
func NewLogger(level, format string) zerolog.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	out := w
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
