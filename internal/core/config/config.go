package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	Storage     string
	RedisURL    string

	TransferLimit     decimal.Decimal
	LockTimeout       time.Duration
	IdempotencyTTL    time.Duration
	ReferenceAttempts int

	AutoMigrate   bool
	SweepInterval time.Duration
}

// LoadConfig reads .env file and returns a Config struct
func LoadConfig() *Config {
	// Try loading .env file (it might not exist in Production, which is fine)
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on System Env Variables")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Storage:     getEnv("STORAGE", StoragePostgres),
		RedisURL:    getEnv("REDIS_URL", ""),

		TransferLimit:     getDecimal("TRANSFER_LIMIT", decimal.NewFromInt(1_000_000)),
		LockTimeout:       getDuration("LOCK_TIMEOUT", 5*time.Second),
		IdempotencyTTL:    getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		ReferenceAttempts: getInt("REFERENCE_ATTEMPTS", 5),

		AutoMigrate:   getBool("AUTO_MIGRATE", true),
		SweepInterval: getDuration("SWEEP_INTERVAL", 10*time.Minute),
	}

	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		slog.Warn("Unknown STORAGE, using postgres", "value", cfg.Storage)
		cfg.Storage = StoragePostgres
	}
	return cfg
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("Invalid integer, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return b
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		slog.Warn("Invalid amount, using default", "key", key, "value", raw, "default", fallback.String())
		return fallback
	}
	return d
}
