// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort         = "8080"
	defaultSweepBudget  = 12 * time.Minute
	defaultPollSchedule = "*/30 * * * *"
)

// Config holds all runtime settings.
type Config struct {
	// Bucket is the GCS bucket for user configs and notification state.
	// Empty means LocalStorage must be set.
	Bucket string

	// LocalStorage is a local directory used instead of GCS. Takes
	// precedence over Bucket when both are set.
	LocalStorage string

	// TelegramToken is the Telegram bot API token. Empty enables the
	// mock provider, which only logs messages.
	TelegramToken string

	// PushoverToken is the Pushover application token. Empty disables
	// Pushover delivery entirely.
	PushoverToken string

	// SweepBudget caps the wall-clock duration of one sweep.
	SweepBudget time.Duration

	// PollSchedule is the cron expression for automatic sweeps in
	// serve mode.
	PollSchedule string

	// Port for the HTTP server.
	Port string
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	cfg := &Config{
		Bucket:        os.Getenv("STORAGE_BUCKET"),
		LocalStorage:  os.Getenv("LOCAL_STORAGE"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		PushoverToken: os.Getenv("PUSHOVER_API_TOKEN"),
		SweepBudget:   defaultSweepBudget,
		PollSchedule:  defaultPollSchedule,
		Port:          defaultPort,
	}

	if v := os.Getenv("SWEEP_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse SWEEP_BUDGET: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("SWEEP_BUDGET must be positive, got %s", d)
		}
		cfg.SweepBudget = d
	}

	if v := os.Getenv("POLL_SCHEDULE"); v != "" {
		cfg.PollSchedule = v
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	if cfg.Bucket == "" && cfg.LocalStorage == "" {
		return nil, fmt.Errorf("either STORAGE_BUCKET or LOCAL_STORAGE must be set")
	}

	return cfg, nil
}
