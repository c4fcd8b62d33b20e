package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Trades)
	assert.Equal(t, BackendMemory, cfg.Storage.Buckets)
	assert.Equal(t, 30, cfg.Significance.MaxDTE)
	assert.Equal(t, 7*24*time.Hour, cfg.Aggregation.Retention)
	assert.False(t, cfg.Ingest.Dedupe)
	// No tickers are tracked out of the box, so scheduled backfill starts off.
	assert.False(t, cfg.Backfill.Enabled)

	floor, err := cfg.MinPremium()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(floor))
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "flowd.yaml", `
log:
  level: debug
storage:
  trades: postgres
  buckets: redis
  postgres_dsn: postgres://u:p@localhost:5432/flow
  redis_addr: localhost:6379
ingest:
  dedupe: true
significance:
  min_premium: "25000.50"
  timezone: America/New_York
backfill:
  tickers: [O:QQQ251219C00500000, O:SPY251219P00600000]
  interval: 2m
  page_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendPostgres, cfg.Storage.Trades)
	assert.Equal(t, BackendRedis, cfg.Storage.Buckets)
	assert.True(t, cfg.Ingest.Dedupe)
	assert.Equal(t, 2*time.Minute, cfg.Backfill.Interval)
	assert.Equal(t, 5*time.Second, cfg.Backfill.PageTimeout)
	assert.Len(t, cfg.Backfill.Tickers, 2)
	// Untouched keys keep their defaults.
	assert.Equal(t, time.Hour, cfg.Backfill.Window)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "env-key")
	t.Setenv("POSTGRES_DSN", "postgres://env")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeFile(t, "flowd.yaml", `
polygon:
  api_key: file-key
storage:
  trades: postgres
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Polygon.APIKey)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "")

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown trade backend", "storage:\n  trades: sqlite\n"},
		{"postgres without dsn", "storage:\n  buckets: postgres\n"},
		{"redis without addr", "storage:\n  buckets: redis\n"},
		{"bad premium", "significance:\n  min_premium: lots\n"},
		{"negative dte", "significance:\n  max_dte: -1\n"},
		{"bad timezone", "significance:\n  timezone: Mars/Olympus\n"},
		{"zero max pages", "backfill:\n  enabled: true\n  tickers: [QQQ]\n  max_pages: 0\n"},
		{"enabled without tickers", "backfill:\n  enabled: true\n"},
		{"bad level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "flowd.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BackfillEnabledWithTickers(t *testing.T) {
	cfg, err := Load(writeFile(t, "flowd.yaml", "backfill:\n  enabled: true\n  tickers: [QQQ, SPY]\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Backfill.Enabled)
	assert.Equal(t, []string{"QQQ", "SPY"}, cfg.Backfill.Tickers)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "FLOWD_TEST_DOTENV=loaded\n")
	t.Setenv("FLOWD_TEST_DOTENV", "")
	os.Unsetenv("FLOWD_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("FLOWD_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"test"`)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	fallback := newLogger(&buf, "nonsense", "console")
	assert.Equal(t, zerolog.InfoLevel, fallback.GetLevel())
}
