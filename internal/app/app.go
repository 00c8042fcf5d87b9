// Package app wires the application together: configuration, storage, the
// redirect cache, the title fetcher, metrics, and the HTTP server with its
// background click-count syncer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/httplog/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	api "github.com/shortapp/shortener/internal/api/http"
	"github.com/shortapp/shortener/internal/breaker"
	"github.com/shortapp/shortener/internal/cache"
	"github.com/shortapp/shortener/internal/config"
	"github.com/shortapp/shortener/internal/metrics"
	"github.com/shortapp/shortener/internal/resolver"
	"github.com/shortapp/shortener/internal/service"
	"github.com/shortapp/shortener/internal/storage/postgres"
	"github.com/shortapp/shortener/internal/titlefetcher"
	pg "github.com/shortapp/shortener/pkg/postgres"
)

// Run starts the application and blocks until ctx is cancelled or a fatal
// error occurs.
func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	logger := setupLogger(cfg.Env)

	db, err := pg.New(
		ctx,
		cfg.Postgres.DSN(),
		pg.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
		pg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		pg.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		pg.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
	)
	if err != nil {
		return fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}
	defer db.Close()

	if err := pg.RunMigrations("file://migrations", cfg.Postgres.DSN()); err != nil {
		return fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s: failed to connect to redis: %w", op, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewPrometheus(registry)

	repo := postgres.NewShortURLRepository(db)
	redirects := resolver.New(
		cache.NewRedisCache(rdb),
		repo,
		rec,
		logger.Logger,
		resolver.WithResolveTTL(cfg.Cache.ResolveTTL),
		resolver.WithCounterTTL(cfg.Cache.CounterTTL),
		resolver.WithCounterFallbackTTL(cfg.Cache.ReadCounterTTL),
		resolver.WithLastAccessedWindow(cfg.Cache.TouchWindow),
	)

	var fetcher service.TitleFetcher
	if cfg.TitleFetcher.Enabled {
		cb := breaker.New(cfg.TitleFetcher.FailureThreshold, cfg.TitleFetcher.RecoveryTimeout, logger.Logger)
		fetcher = titlefetcher.New(cb, cfg.TitleFetcher.Timeout, logger.Logger)
	}

	urlSvc := service.NewShortURLService(repo, redirects, fetcher, rec, logger.Logger)

	checks := map[string]api.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        api.NewRouter(logger, urlSvc, registry, checks),
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	syncer := resolver.NewSyncer(redirects, cfg.Cache.SyncInterval, logger.Logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("env", cfg.Env))

		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		return syncer.Run(ctx)
	})

	return g.Wait()
}

func setupLogger(env string) *httplog.Logger {
	opts := httplog.Options{
		LogLevel: slog.LevelDebug,
		Concise:  true,
	}

	switch env {
	case config.EnvStage:
		opts = httplog.Options{LogLevel: slog.LevelDebug, JSON: true}
	case config.EnvProd:
		opts = httplog.Options{LogLevel: slog.LevelInfo, JSON: true}
	}

	return httplog.NewLogger("shortener", opts)
}
