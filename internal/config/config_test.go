package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Engine)
	assert.Equal(t, "ga4:metrics:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 14*24*time.Hour, cfg.Redis.TTL())
	assert.Equal(t, 2, cfg.Extraction.DelayDays())
	assert.InDelta(t, 9.0, cfg.GA4.RateLimitRPS, 0.001)
	assert.Equal(t, time.Second, cfg.GA4.BaseDelay())
	assert.Equal(t, 60*time.Second, cfg.GA4.Timeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
ga4:
  property_id: "987654"
  rate_limit_rps: 5
database:
  engine: postgres
  url: postgres://localhost/ga4
redis:
  ttl_days: 7
extraction:
  channel_delay_days: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "987654", cfg.GA4.PropertyID)
	assert.InDelta(t, 5.0, cfg.GA4.RateLimitRPS, 0.001)
	assert.Equal(t, "postgres", cfg.Database.Engine)
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.TTL())
	assert.Equal(t, 3, cfg.Extraction.DelayDays())
	// untouched keys keep defaults
	assert.Equal(t, "ga4:metrics:", cfg.Redis.KeyPrefix)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("GA4_PROPERTY_ID", "555")
	t.Setenv("GA4_ACCESS_TOKEN", "token-from-env")
	t.Setenv("DATABASE_URL", "postgres://db/ga4")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CACHE_TTL_DAYS", "21")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "555", cfg.GA4.PropertyID)
	assert.Equal(t, "token-from-env", cfg.GA4.AccessToken)
	assert.Equal(t, "postgres", cfg.Database.Engine)
	assert.Equal(t, "postgres://db/ga4", cfg.Database.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 21*24*time.Hour, cfg.Redis.TTL())
}

func TestDatabasePathEnvSelectsSQLite(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/ga4.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Engine)
	assert.Equal(t, "/tmp/ga4.db", cfg.Database.Path)
}

func TestGA4BaseDelayFallback(t *testing.T) {
	g := GA4Config{RetryBaseDelay: "not-a-duration"}
	assert.Equal(t, time.Second, g.BaseDelay())

	g.RetryBaseDelay = "250ms"
	assert.Equal(t, 250*time.Millisecond, g.BaseDelay())
}
