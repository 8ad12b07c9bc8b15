package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PLPLedger/internal/fees"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	p, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.Equal(t, fees.CapClamp, p.CapPolicy)
	assert.Equal(t, int64(15_000_000), p.CreationFee)
	assert.True(t, p.IsAllowedTarget(10_000_000_000))
	assert.False(t, p.IsAllowedTarget(7_000_000_000))
}

func TestLoad_TOMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plp.toml")
	err := os.WriteFile(path, []byte(`
log_level = "debug"

[engine]
batch_size = 250
flush_timeout = "25ms"

[market]
treasury_admin = "9a7b1c2d-0000-4000-8000-00000000ad01"
cap_policy = "reject"
platform_token_bps = 300

[launch]
mode = "http"
base_url = "http://launch.internal:8088"
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.Engine.BatchSize)
	assert.Equal(t, 25*time.Millisecond, cfg.Engine.FlushTimeout.Duration)
	assert.Equal(t, "9a7b1c2d-0000-4000-8000-00000000ad01", cfg.TreasuryAdmin().String())
	// Untouched keys keep their defaults
	assert.Equal(t, 4096, cfg.Engine.PersistChanSize)

	p, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.Equal(t, fees.CapReject, p.CapPolicy)
	assert.Equal(t, int64(300), p.Fees.PlatformTokenBps)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server, cfg.Server)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PLP_POSTGRES_DSN", "postgres://override")
	t.Setenv("PLP_ENGINE_SNAPSHOT_INTERVAL", "1m")
	t.Setenv("PLP_ALLOWED_TARGET_POOLS", "1000000000, 2000000000")
	t.Setenv("PLP_REDIS_DB", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://override", cfg.Postgres.DSN)
	assert.Equal(t, time.Minute, cfg.Engine.SnapshotInterval.Duration)
	assert.Equal(t, []int64{1_000_000_000, 2_000_000_000}, cfg.Market.AllowedTargetPools)
	assert.Equal(t, 0, cfg.Redis.DB, "unparsable values are ignored")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"bad admin", func(c *Config) { c.Market.TreasuryAdmin = "admin" }},
		{"fee over 100%", func(c *Config) { c.Market.TradeFeeBps = 10_001 }},
		{"token split over 100%", func(c *Config) { c.Market.TeamTokenBps = 9_900 }},
		{"unknown cap policy", func(c *Config) { c.Market.CapPolicy = "squeeze" }},
		{"target below minimum", func(c *Config) { c.Market.AllowedTargetPools = []int64{1_000} }},
		{"http launch without url", func(c *Config) { c.Launch.Mode = "http" }},
		{"zero flush timeout", func(c *Config) { c.Engine.FlushTimeout.Duration = 0 }},
		{"short lock ttl", func(c *Config) { c.Redis.LockTTL.Duration = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
