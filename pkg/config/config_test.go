package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: DEBUG
action_ttl: 24h
store:
  driver: sqlite
  dsn: file:stache.db
scheduler:
  interval: 10s
  redis_addr: redis:6379
receipts:
  archive:
    backend: s3
    bucket: receipts
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("STACHE_LOG_LEVEL", "WARN")
	t.Setenv("STACHE_SCHEDULER_BURST", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.LogLevel, "env wins over file")
	assert.Equal(t, 24*time.Hour, cfg.ActionTTL)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:stache.db", cfg.Store.DSN)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "redis:6379", cfg.Scheduler.RedisAddr)
	assert.Equal(t, 9, cfg.Scheduler.Burst)
	assert.Equal(t, 20.0, cfg.Scheduler.FiresPerSecond, "untouched defaults survive")
	assert.Equal(t, "s3", cfg.Receipts.Archive.Backend)
	assert.Equal(t, "receipts", cfg.Receipts.Archive.Bucket)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("STACHE_STORE_DRIVER", "postgres")
	t.Setenv("STACHE_STORE_DSN", "postgres://localhost/stache")
	t.Setenv("STACHE_OTEL_ENABLED", "true")
	t.Setenv("STACHE_RECEIPTS_ARCHIVE_DIR", "/var/lib/stache")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/var/lib/stache", cfg.Receipts.Archive.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "mongo"
	cfg.Ledger.Driver = "postgres"
	cfg.ActionTTL = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, `unsupported driver "mongo"`)
	assert.ErrorContains(t, err, "ledger: driver postgres needs a dsn")
	assert.ErrorContains(t, err, "action_ttl")
}
