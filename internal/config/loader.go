package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) on top of the
// built-in defaults and applies AUCTION_* environment variable overrides. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "AUCTION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FRONTEND_URL")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTION_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ShutdownTimeout, "AUCTION_SERVER_SHUTDOWN_TIMEOUT")
	setInt(&cfg.Server.EventQueueSize, "AUCTION_SERVER_EVENT_QUEUE_SIZE")

	// ── Database ──
	setStr(&cfg.Database.Driver, "AUCTION_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.DSN, "AUCTION_DATABASE_DSN")
	setInt(&cfg.Database.PoolMaxConns, "AUCTION_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "AUCTION_DATABASE_POOL_MIN_CONNS")
	setDuration(&cfg.Database.LockTimeout, "AUCTION_DATABASE_LOCK_TIMEOUT")
	setBool(&cfg.Database.RunMigrations, "AUCTION_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")

	// ── Rate limit ──
	setBool(&cfg.RateLimit.Enabled, "AUCTION_RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.BidsPerWindow, "AUCTION_RATE_LIMIT_BIDS_PER_WINDOW")
	setDuration(&cfg.RateLimit.Window, "AUCTION_RATE_LIMIT_WINDOW")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setStr(&cfg.Auth.JWTSecret, "AUCTION_AUTH_JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "AUCTION_AUTH_TOKEN_TTL")
	setBool(&cfg.Auth.OpenAdminSignup, "AUCTION_AUTH_OPEN_ADMIN_SIGNUP")
	setStr(&cfg.Auth.AdminEmail, "AUCTION_AUTH_ADMIN_EMAIL")
	setStr(&cfg.Auth.AdminPassword, "AUCTION_AUTH_ADMIN_PASSWORD")
	setStr(&cfg.Auth.AdminName, "AUCTION_AUTH_ADMIN_NAME")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
