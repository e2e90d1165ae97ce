package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/api"
	"github.com/LeventeLantos/social-dispatch/internal/cache"
	"github.com/LeventeLantos/social-dispatch/internal/config"
	"github.com/LeventeLantos/social-dispatch/internal/credentials"
	"github.com/LeventeLantos/social-dispatch/internal/provider"
	"github.com/LeventeLantos/social-dispatch/internal/repo"
	"github.com/LeventeLantos/social-dispatch/internal/scheduler"
	"github.com/LeventeLantos/social-dispatch/internal/service"
	"github.com/LeventeLantos/social-dispatch/internal/tracing"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("dispatcher starting",
		"version", Version,
		"addr", cfg.Server.Address,
		"store", cfg.Store.Driver,
		"redis", cfg.Redis.Enabled,
		"auto_retry", cfg.Retry.Enabled,
	)

	tm := tracing.NewManager(tracing.Config{
		ServiceName:    "social-dispatch",
		ServiceVersion: Version,
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	}, logger)
	if err := tm.Init(ctx); err != nil {
		logger.Warn("tracing init failed", "error", err)
	}
	defer func() {
		if err := tm.Shutdown(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	messages, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	adapters := provider.NewDefaultRegistry(cfg.Delivery.Timeout)
	creds := credentials.NewStore(adapters)
	for _, c := range cfg.Credentials {
		creds.Set(c.Platform, c)
	}

	dispatcher := service.NewDispatcher(messages, creds, adapters, logger).
		WithDeliveryTimeout(cfg.Delivery.Timeout)
	policy := service.NewRetryPolicy(dispatcher, messages, service.RetryPolicyConfig{
		BatchSize:   cfg.Retry.BatchSize,
		MaxAttempts: cfg.Retry.MaxAttempts,
		StuckAfter:  cfg.Retry.StuckAfter,
	}, logger)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		sent := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		dispatcher.WithCache(sent)
		policy.WithCache(sent)
	}

	sched, err := scheduler.New(cfg.Retry.Interval, policy.Tick)
	if err != nil {
		return err
	}
	sched.WithName("auto-retry").WithLogger(logger)
	if cfg.Retry.Enabled {
		sched.Start()
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(logger, api.Router(api.NewHandler(dispatcher, sched, logger))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("dispatcher stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (repo.MessageRepository, func(), error) {
	if cfg.Driver == config.DriverMemory {
		return repo.NewMemoryMessageRepo(), func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	r := repo.NewPostgresMessageRepo(db)
	if err := r.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return r, func() { _ = db.Close() }, nil
}
