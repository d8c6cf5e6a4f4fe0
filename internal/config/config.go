// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	ListenAddr  string

	// StorageDriver selects the persistence backend: "postgres", "sqlite"
	// or "memory".
	StorageDriver string
	DatabaseURL   string
	SQLitePath    string

	// KafkaBrokers enables the transaction event publisher when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	OperationTimeout time.Duration
}

// Load reads configuration from environment variables, honoring a local
// .env file when present.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:      getenv("APP_ENV", "development"),
		ListenAddr:       getenv("API_ADDR", ":8080"),
		StorageDriver:    getenv("STORAGE_DRIVER", "memory"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getenv("SQLITE_PATH", "ledger.db"),
		KafkaTopic:       getenv("KAFKA_TOPIC", "transaction_completed"),
		OperationTimeout: getenvDuration("OPERATION_TIMEOUT", 5*time.Second),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORAGE_DRIVER=sqlite")
		}
	case "memory":
		if c.Environment == "production" {
			return errors.New("STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		return errors.New("STORAGE_DRIVER must be one of: postgres, sqlite, memory")
	}

	if c.OperationTimeout <= 0 {
		return errors.New("OPERATION_TIMEOUT must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
