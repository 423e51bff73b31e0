package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	bidding "auction-marketplace/internal/biddingService"
	"auction-marketplace/internal/broadcast"
	"auction-marketplace/internal/config"
	"auction-marketplace/internal/identity"
	lifecycle "auction-marketplace/internal/lifecycleService"
	"auction-marketplace/internal/ratelimit"
	"auction-marketplace/internal/repository"
	"auction-marketplace/internal/server"
	"auction-marketplace/utils"

	"golang.org/x/sync/errgroup"
)

// store is the record store in either of its flavours
type store interface {
	repository.AuctionDB
	repository.UserDB
}

func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_CONFIG"), "path to TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"path": *configPath, "error": err.Error()})
	}
	if err := cfg.Validate(); err != nil {
		utils.Fatal("invalid configuration", map[string]any{"error": err.Error()})
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		utils.Fatal("invalid log level", map[string]any{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Error("server exited with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	utils.Info("server stopped", nil)
}

func run(ctx context.Context, cfg *config.Config) error {
	db, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	idSvc, err := identity.NewService(db, identity.Config{
		Secret:          cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.TokenTTL.Duration,
		OpenAdminSignup: cfg.Auth.OpenAdminSignup,
	})
	if err != nil {
		return err
	}
	if cfg.Auth.AdminEmail != "" {
		if _, err := idSvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, cfg.Auth.AdminName); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	hub := broadcast.NewHub(
		broadcast.WithAllowedOrigins(cfg.Server.CORSOrigins),
		broadcast.WithQueueSize(cfg.Server.EventQueueSize),
	)

	router := server.SetupRouter(server.Dependencies{
		Bidding:     bidding.NewBiddingService(db),
		Auctions:    lifecycle.NewAuctionService(db),
		Identity:    idSvc,
		Hub:         hub,
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		utils.Info("starting auction server", map[string]any{
			"addr":       srv.Addr,
			"store":      cfg.Database.Driver,
			"rate_limit": cfg.RateLimit.Enabled,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		utils.Info("shutting down", map[string]any{"timeout": cfg.Server.ShutdownTimeout.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore connects the configured record store and returns its cleanup
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := repository.NewPostgresRepo(ctx, repository.PostgresConfig{
			DSN:         cfg.DSN,
			MaxConns:    cfg.PoolMaxConns,
			MinConns:    cfg.PoolMinConns,
			LockTimeout: cfg.LockTimeout.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			if err := repo.RunMigrations(ctx); err != nil {
				repo.Close()
				return nil, nil, err
			}
		}
		return repo, repo.Close, nil
	default:
		utils.Warn("using in-memory store; data is lost on restart", nil)
		return repository.NewMemoryRepo(repository.WithLockTimeout(cfg.LockTimeout.Duration)), func() {}, nil
	}
}

// newLimiter returns the Redis-backed bid limiter, or a no-op one when disabled
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	if !cfg.RateLimit.Enabled {
		return ratelimit.Noop{}, func() {}, nil
	}

	rdb, err := ratelimit.NewRedisClient(ctx, ratelimit.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}

	limiter, err := ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.BidsPerWindow, cfg.RateLimit.Window.Duration)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return limiter, func() { _ = rdb.Close() }, nil
}
