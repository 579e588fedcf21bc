// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/warp/stock-engine/stock"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Ledger    LedgerConfig
	Reconcile ReconcileConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

// LedgerConfig mirrors stock.LedgerConfig in string form.
type LedgerConfig struct {
	ReleasePolicy   string
	RestoreOnDelete bool
}

// ReconcileConfig drives the invariant audit job.
type ReconcileConfig struct {
	Schedule string // cron spec; empty disables the job
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		// A missing .env is fine when config comes from the environment.
		_ = godotenv.Load()
	}

	restore, err := strconv.ParseBool(getenvWithDefault("RESTORE_ON_DELETE", "true"))
	if err != nil {
		return nil, fmt.Errorf("RESTORE_ON_DELETE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getenvWithDefault("APP_PORT", "8080"),
			CORSOrigins: splitList(getenvWithDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		},
		Database: DatabaseConfig{
			Path: getenvWithDefault("DB_PATH", "stock.db"),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Ledger: LedgerConfig{
			ReleasePolicy:   getenvWithDefault("RELEASE_POLICY", string(stock.ReleaseNewestLot)),
			RestoreOnDelete: restore,
		},
		Reconcile: ReconcileConfig{
			Schedule: getenvWithDefault("RECONCILE_SCHEDULE", "@every 1h"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures required fields are populated and well formed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("APP_PORT must be numeric: %q", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("DB_PATH must be provided")
	}
	if _, ok := stock.ParseReleasePolicy(c.Ledger.ReleasePolicy); !ok {
		return fmt.Errorf("RELEASE_POLICY must be %q or %q, got %q",
			stock.ReleaseNewestLot, stock.ReleaseReverseFIFO, c.Ledger.ReleasePolicy)
	}
	if c.Reconcile.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			return fmt.Errorf("RECONCILE_SCHEDULE: %w", err)
		}
	}
	return nil
}

// StockLedger converts the ledger section for stock.NewLedger.
func (c *Config) StockLedger() stock.LedgerConfig {
	policy, _ := stock.ParseReleasePolicy(c.Ledger.ReleasePolicy)
	return stock.LedgerConfig{
		ReleasePolicy:   policy,
		RestoreOnDelete: c.Ledger.RestoreOnDelete,
	}
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
