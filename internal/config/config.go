// Package config loads and validates application configuration from
// environment variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// Config holds all configuration values for the API server and the sweep
// command. Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// MigrateOnStart applies pending goose migrations before serving.
	MigrateOnStart bool

	// SweepInterval is how often the API process runs the expiration sweep.
	// Zero disables the in-process scheduler.
	SweepInterval time.Duration

	// HoldTTL is how long an unconfirmed reservation may hold capacity
	// before the sweep releases it. Zero disables hold release.
	HoldTTL time.Duration

	// DeviceTokenSecret, when set, makes the scan routes require a device JWT.
	DeviceTokenSecret []byte

	// TicketTokenKey is the hex-encoded key for QR token issuance.
	// The API server refuses to start without it; the sweep does not need it.
	TicketTokenKey string

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	// MaxBatchSize caps the entries of one offline batch. Defaults to 500.
	MaxBatchSize int

	// Tariff is the price per passenger type in minor currency units.
	// TARIFF takes "adult=4500,child=2250,senior=3000".
	Tariff map[domain.PassengerType]int64
}

const defaultTariff = "adult=4500,child=2250,senior=3000"

// Load reads configuration from environment variables and returns a Config.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it. Returns an error listing any
// required variables that are not set, or naming the first malformed one.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		CORSOrigins:       splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		DeviceTokenSecret: []byte(os.Getenv("DEVICE_TOKEN_SECRET")),
		TicketTokenKey:    os.Getenv("TICKET_TOKEN_KEY"),
	}
	if len(cfg.DeviceTokenSecret) == 0 {
		cfg.DeviceTokenSecret = nil
	}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.MigrateOnStart, err = parseBool("MIGRATE_ON_START", false); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = parseDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.HoldTTL, err = parseDuration("HOLD_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MaxBodyBytes, err = parseInt("MAX_BODY_BYTES", 1<<20); err != nil {
		return Config{}, err
	}
	batch, err := parseInt("MAX_BATCH_SIZE", 500)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBatchSize = int(batch)
	if cfg.Tariff, err = ParseTariff(getEnv("TARIFF", defaultTariff)); err != nil {
		return Config{}, fmt.Errorf("config: TARIFF: %w", err)
	}

	return cfg, nil
}

// ParseTariff parses "type=amount" pairs separated by commas.
// Every passenger type must be priced exactly once.
func ParseTariff(s string) (map[domain.PassengerType]int64, error) {
	out := make(map[domain.PassengerType]int64)
	for _, pair := range splitCSV(s) {
		name, amount, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not type=amount", pair)
		}
		pt := domain.PassengerType(strings.TrimSpace(name))
		if !pt.Valid() {
			return nil, fmt.Errorf("unknown passenger type %q", name)
		}
		if _, dup := out[pt]; dup {
			return nil, fmt.Errorf("passenger type %q priced twice", pt)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid amount %q for %s", amount, pt)
		}
		out[pt] = v
	}
	for _, pt := range []domain.PassengerType{domain.PassengerAdult, domain.PassengerChild, domain.PassengerSenior} {
		if _, ok := out[pt]; !ok {
			return nil, fmt.Errorf("no price for passenger type %q", pt)
		}
	}
	return out, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: %s: invalid duration %q", key, v)
	}
	return d, nil
}

func parseInt(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s: expected a positive integer, got %q", key, v)
	}
	return n, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: invalid boolean %q", key, v)
	}
	return b, nil
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
