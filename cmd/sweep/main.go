// Command sweep runs one expiration sweep against the ferry database and
// prints the report as JSON. Schedule it from cron when the API's in-process
// scheduler is disabled. Exit status is 0 whenever the sweep ran, even if
// individual trips failed (they are counted in "failures"), and 1 when it
// could not run at all.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	flag "github.com/spf13/pflag"

	"github.com/pkordes/ferry-boarding/internal/config"
	"github.com/pkordes/ferry-boarding/internal/repo"
	"github.com/pkordes/ferry-boarding/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		holdTTL = flag.Duration("hold-ttl", cfg.HoldTTL, "release unconfirmed holds older than this (0 disables)")
		timeout = flag.Duration("timeout", 5*time.Minute, "abort the sweep after this long")
	)
	flag.Parse()

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	// Logs go to stderr so stdout carries only the report.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	sweeper := service.NewSweeper(repo.NewStore(pool), repo.NewAdvisoryLocker(pool), *holdTTL, time.Now, logger)
	report, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
