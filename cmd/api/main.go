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

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/app"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/config"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/logging"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/memory"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/postgres"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/redis"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/telemetry"
	transporthttp "github.com/cimillas/ultimate-ticket/services/reservations/internal/transport/http"
	"github.com/cimillas/ultimate-ticket/services/reservations/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const serviceName = "reservations"

type cartStore interface {
	app.CartStore
	transporthttp.CartSaver
}

// stores groups the repositories the services are built on.
type stores struct {
	holds    app.HoldStore
	carts    cartStore
	settings app.SettingsRepository
	admin    app.AdminRepository
	ready    func(ctx context.Context) error
	lease    app.Lease
	close    []func()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM. Every resource it opens is released
// through a defer, including on startup failures.
func run() error {
	envPath, envErr := config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	switch {
	case envErr != nil:
		logger.Warn("failed to load .env", zap.Error(envErr))
	case envPath == "":
		logger.Debug(".env not found in current or parent directories")
	default:
		logger.Info("loaded env file", zap.String("path", envPath))
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(startupCtx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	st, err := openStores(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("open stores", zap.Error(err))
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		for i := len(st.close) - 1; i >= 0; i-- {
			st.close[i]()
		}
	}()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		}()
		publisher = kp
		logger.Info("publishing hold events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	clk := clock.NewSystem()
	settingsSvc := app.NewSettingsService(st.settings, clk, cfg.HoldTTLMinutes, logger.Named("settings"))
	holdSvc := app.NewHoldService(st.holds, st.carts, settingsSvc, clk,
		app.WithHoldLogger(logger.Named("holds")),
		app.WithHoldPublisher(publisher),
	)
	checkoutSvc := app.NewCheckoutService(st.holds, settingsSvc, clk,
		app.WithCheckoutLogger(logger.Named("checkout")),
		app.WithCheckoutPublisher(publisher),
	)
	sweepOpts := []app.SweeperOption{
		app.WithSweepInterval(cfg.SweepInterval),
		app.WithSweepLogger(logger.Named("sweeper")),
		app.WithSweepPublisher(publisher),
	}
	if st.lease != nil {
		sweepOpts = append(sweepOpts, app.WithSweepLease(st.lease))
	}
	sweeper := app.NewSweeper(st.holds, settingsSvc, clk, sweepOpts...)
	adminSvc := app.NewAdminService(st.admin, clk, app.WithAdminLogger(logger.Named("admin")))

	handler := transporthttp.NewRouter(transporthttp.Deps{
		Carts:       st.carts,
		Holds:       holdSvc,
		Checkout:    checkoutSvc,
		Settings:    settingsSvc,
		Sweeper:     sweeper,
		Admin:       adminSvc,
		Ready:       st.ready,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Named("http"),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()
	sweeper.Start(sweepCtx)
	defer sweeper.Stop()

	logger.Info("api listening", zap.String("port", cfg.Port), zap.String("store", cfg.Store))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return serveErr
}

// openStores connects the configured backends. Carts and the sweep lease
// live in Redis when REDIS_URL is set and in process otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		st.close = append(st.close, pool.Close)
		if len(applied) > 0 {
			logger.Info("applied migrations", zap.Strings("files", applied))
		}
		st.holds = postgres.NewHoldRepository(pool, postgres.WithLockTimeout(cfg.ZoneLockTimeout))
		st.settings = postgres.NewSettingsRepository(pool)
		st.admin = postgres.NewAdminRepository(pool)
		st.ready = pool.Ping
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		store := memory.NewStore(memory.WithLockTimeout(cfg.ZoneLockTimeout))
		st.holds = store
		st.admin = store
		st.settings = memory.NewSettingsStore(cfg.HoldTTLMinutes)
	}

	if cfg.RedisURL == "" {
		st.carts = memory.NewCartStore()
		return st, nil
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		for _, c := range st.close {
			c()
		}
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	st.close = append(st.close, func() { _ = client.Close() })
	st.carts = redis.NewCartStore(client, cfg.CartTTL)
	st.lease = redis.NewSweepLease(client, redis.DefaultLeaseKey, cfg.SweepLeaseTTL)

	dbReady := st.ready
	st.ready = func(ctx context.Context) error {
		if dbReady != nil {
			if err := dbReady(ctx); err != nil {
				return err
			}
		}
		return client.Ping(ctx).Err()
	}
	return st, nil
}
