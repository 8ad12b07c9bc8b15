package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PLP_* environment variable overrides, and
// returns the final Config. An empty path or a missing file leaves the
// defaults in place. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deployment
// addresses without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "PLP_LOG_LEVEL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PLP_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "PLP_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "PLP_POSTGRES_MAX_IDLE_CONNS")

	// ── NATS ──
	setStr(&cfg.NATS.URL, "PLP_NATS_URL")
	setBool(&cfg.NATS.Publish, "PLP_NATS_PUBLISH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PLP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PLP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PLP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PLP_REDIS_POOL_SIZE")
	setDuration(&cfg.Redis.LockTTL, "PLP_REDIS_LOCK_TTL")

	// ── Server ──
	setStr(&cfg.Server.GRPCAddr, "PLP_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "PLP_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "PLP_METRICS_ADDR")

	// ── Engine ──
	setInt(&cfg.Engine.BatchSize, "PLP_ENGINE_BATCH_SIZE")
	setDuration(&cfg.Engine.FlushTimeout, "PLP_ENGINE_FLUSH_TIMEOUT")
	setDuration(&cfg.Engine.SnapshotInterval, "PLP_ENGINE_SNAPSHOT_INTERVAL")
	setInt(&cfg.Engine.LRUCapacity, "PLP_ENGINE_LRU_CAPACITY")

	// ── Market ──
	setStr(&cfg.Market.TreasuryAdmin, "PLP_TREASURY_ADMIN")
	setStr(&cfg.Market.CapPolicy, "PLP_CAP_POLICY")
	setInt64Slice(&cfg.Market.AllowedTargetPools, "PLP_ALLOWED_TARGET_POOLS")

	// ── Launch ──
	setStr(&cfg.Launch.Mode, "PLP_LAUNCH_MODE")
	setStr(&cfg.Launch.BaseURL, "PLP_LAUNCH_BASE_URL")
	setDuration(&cfg.Launch.Timeout, "PLP_LAUNCH_TIMEOUT")
}

// Each helper only mutates the target when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setInt64Slice(dst *[]int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make([]int64, 0)
	for _, p := range strings.Split(v, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	*dst = out
}
