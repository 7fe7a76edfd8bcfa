// Package main is the entry point for the ferry boarding API server.
// Its sole responsibility is wiring dependencies together and running the
// HTTP server and the expiration sweep scheduler. No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/ferry-boarding/api"
	"github.com/pkordes/ferry-boarding/internal/config"
	"github.com/pkordes/ferry-boarding/internal/handler"
	"github.com/pkordes/ferry-boarding/internal/middleware"
	"github.com/pkordes/ferry-boarding/internal/qrtoken"
	"github.com/pkordes/ferry-boarding/internal/repo"
	"github.com/pkordes/ferry-boarding/internal/service"
	"github.com/pkordes/ferry-boarding/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---------------------------------------------------------
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.MigrateOnStart {
		if err := migrate(ctx, pool, logger); err != nil {
			return err
		}
	}

	// --- Services ---------------------------------------------------------
	if cfg.TicketTokenKey == "" {
		return errors.New("required environment variable not set: TICKET_TOKEN_KEY")
	}
	key, err := qrtoken.ParseKey(cfg.TicketTokenKey)
	if err != nil {
		return fmt.Errorf("TICKET_TOKEN_KEY: %w", err)
	}
	tokens, err := qrtoken.NewIssuer(key)
	if err != nil {
		return fmt.Errorf("TICKET_TOKEN_KEY: %w", err)
	}

	store := repo.NewStore(pool)
	clock := service.Clock(time.Now)
	ledger := service.NewLedger(store, clock)
	validator := service.NewValidator(store, clock, logger)
	sweeper := service.NewSweeper(store, repo.NewAdvisoryLocker(pool), cfg.HoldTTL, clock, logger)

	opts := []handler.Option{handler.WithOpenAPI(api.OpenAPI)}
	if cfg.DeviceTokenSecret != nil {
		opts = append(opts, handler.WithDeviceAuth(cfg.DeviceTokenSecret))
	} else {
		logger.Warn("DEVICE_TOKEN_SECRET not set; scan routes accept unauthenticated devices")
	}
	server := handler.NewServer(handler.Services{
		Trips:     service.NewTripService(store),
		Manifests: service.NewManifestService(store),
		Bookings:  service.NewBookingService(store, ledger, service.Tariff(cfg.Tariff), tokens),
		Validator: validator,
		Replayer:  service.NewBatchReplayer(validator, cfg.MaxBatchSize, clock, logger),
	}, opts...)

	// --- Router -----------------------------------------------------------
	// RequestID must come before SlogLogger so every log line carries it.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
	r.Mount("/", server.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Run --------------------------------------------------------------
	// The server and the sweep scheduler share one lifetime: a signal or a
	// failure in either stops both.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			return sweeper.RunEvery(gctx, cfg.SweepInterval)
		})
	} else {
		logger.Info("in-process sweep disabled; run cmd/sweep on a schedule instead")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// migrate applies pending goose migrations through a database/sql handle
// borrowed from the pool.
func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		logger.Info("migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}
