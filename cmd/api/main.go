package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/config"
	"accessgate.org/internal/httpapi"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	obs.InitLogger(cfg.Log)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("accessgate stopped")
	}
	log.Info().Msg("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := obs.Logger()

	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	ttl := auth.RevocationTTL(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	registry, closeRegistry, err := openRegistry(ctx, cfg.Revocation, ttl)
	if err != nil {
		return err
	}
	defer closeRegistry()

	codec, err := auth.NewCodec([]byte(cfg.Auth.Secret), registry,
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithSigningMethod(cfg.Auth.Algorithm),
	)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	service := auth.NewService(codec, auth.NewVerifier(cfg.Auth.VerifyWorkers))

	api := httpapi.New(httpapi.Options{
		Sessions: store,
		Service:  service,
		Resolver: auth.NewResolver(),
		Cookies: httpapi.CookieSettings{
			Secure:   cfg.Cookies.Secure,
			SameSite: httpapi.ParseSameSite(cfg.Cookies.SameSite),
			Domain:   cfg.Cookies.Domain,
			Path:     cfg.Cookies.Path,
		},
		CORSOrigins:       cfg.Server.CORSOrigins,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		LoginPerMinute:    cfg.RateLimit.LoginPerMinute,
		LoginBurst:        cfg.RateLimit.LoginBurst,
		Version:           version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).
			Str("revocation", cfg.Revocation.Backend).Msg("starting accessgate")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openRegistry builds the configured revocation backend. The returned func
// releases it and any handle it owns.
func openRegistry(ctx context.Context, cfg config.RevocationConfig, ttl time.Duration) (auth.Registry, func(), error) {
	log := obs.Logger()
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis revocation store: %w", err)
		}
		reg := auth.NewRedisRegistry(client, cfg.Prefix, ttl)
		return reg, func() { _ = reg.Close() }, nil
	case "badger":
		db, err := auth.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		reg := auth.NewBadgerRegistry(db, cfg.Prefix, ttl)
		return reg, func() {
			_ = reg.Close()
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("close badger")
			}
		}, nil
	default:
		reg := auth.NewMemoryRegistry(ttl,
			auth.WithCapacity(cfg.Capacity),
			auth.WithSweepInterval(cfg.SweepInterval),
		)
		reg.Start(ctx)
		return reg, func() { _ = reg.Close() }, nil
	}
}
