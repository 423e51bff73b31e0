// Package ratelimit throttles bid submissions per principal.
package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/fixed_window.lua
var fixedWindowLua string

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the current window resets
	RetryAfter time.Duration
}

// Limiter decides whether a caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a go-redis client and pings it to verify connectivity.
func NewRedisClient(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// RedisLimiter implements Limiter with a fixed window counter per key,
// evaluated atomically by a Lua script.
type RedisLimiter struct {
	rdb         redis.Scripter
	fixedWindow *redis.Script
	limit       int
	window      time.Duration
	prefix      string
}

// NewRedisLimiter allows limit requests per key in every window
func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	return &RedisLimiter{
		rdb:         rdb,
		fixedWindow: redis.NewScript(fixedWindowLua),
		limit:       limit,
		window:      window,
		prefix:      "ratelimit:bids:",
	}, nil
}

// Allow counts the request against key and reports whether it fits the window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	result, err := l.fixedWindow.Run(ctx, l.rdb,
		[]string{l.prefix + key},
		l.window.Milliseconds(),
		l.limit,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 3 {
		return Decision{}, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}

	return Decision{
		Allowed:    result[0] == 1,
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Noop lets every request through; used when rate limiting is disabled
type Noop struct{}

// Allow always allows
func (Noop) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = Noop{}
)
