// Package config defines the configuration of the auction marketplace server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTION_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Auth      AuthConfig      `toml:"auth"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	// EventQueueSize bounds the broadcaster's dispatch queue.
	EventQueueSize int `toml:"event_queue_size"`
}

// DatabaseConfig selects and configures the record store.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver        string   `toml:"driver"`
	DSN           string   `toml:"dsn"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	LockTimeout   duration `toml:"lock_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// RateLimitConfig throttles bid submissions per principal.
type RateLimitConfig struct {
	Enabled       bool     `toml:"enabled"`
	BidsPerWindow int      `toml:"bids_per_window"`
	Window        duration `toml:"window"`
}

// AuthConfig holds token and registration settings.
type AuthConfig struct {
	JWTSecret       string   `toml:"jwt_secret"`
	TokenTTL        duration `toml:"token_ttl"`
	OpenAdminSignup bool     `toml:"open_admin_signup"`
	AdminEmail      string   `toml:"admin_email"`
	AdminPassword   string   `toml:"admin_password"`
	AdminName       string   `toml:"admin_name"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// of values like "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults for local use.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			ShutdownTimeout: duration{10 * time.Second},
			EventQueueSize:  1024,
		},
		Database: DatabaseConfig{
			Driver:        "memory",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			LockTimeout:   duration{2 * time.Second},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		RateLimit: RateLimitConfig{
			Enabled:       false,
			BidsPerWindow: 10,
			Window:        duration{time.Second},
		},
		Auth: AuthConfig{
			TokenTTL:  duration{24 * time.Hour},
			AdminName: "Administrator",
		},
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be > 0")
	}
	if c.Server.EventQueueSize < 1 {
		errs = append(errs, "server: event_queue_size must be >= 1")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, "database: dsn must be set for the postgres driver")
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: memory, postgres)", c.Database.Driver))
	}
	if c.Database.LockTimeout.Duration < time.Millisecond {
		errs = append(errs, "database: lock_timeout must be at least 1ms")
	}

	if c.RateLimit.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when rate_limit is enabled")
		}
		if c.RateLimit.BidsPerWindow < 1 {
			errs = append(errs, "rate_limit: bids_per_window must be >= 1")
		}
		if c.RateLimit.Window.Duration < time.Millisecond {
			errs = append(errs, "rate_limit: window must be at least 1ms")
		}
	}

	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, "auth: jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be > 0")
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, "auth: admin_email and admin_password must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
