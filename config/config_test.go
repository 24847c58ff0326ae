package config

import (
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (*discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOCAL_STORAGE", "/tmp/campsite-data")
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("SWEEP_BUDGET", "")
	t.Setenv("POLL_SCHEDULE", "")
	t.Setenv("PORT", "")

	cfg, err := Load(testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SweepBudget != defaultSweepBudget {
		t.Errorf("SweepBudget = %v, want %v", cfg.SweepBudget, defaultSweepBudget)
	}
	if cfg.PollSchedule != defaultPollSchedule {
		t.Errorf("PollSchedule = %q, want %q", cfg.PollSchedule, defaultPollSchedule)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, defaultPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BUCKET", "campsite-configs")
	t.Setenv("LOCAL_STORAGE", "")
	t.Setenv("SWEEP_BUDGET", "5m")
	t.Setenv("POLL_SCHEDULE", "0 * * * *")
	t.Setenv("PORT", "9090")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token-abc")

	cfg, err := Load(testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bucket != "campsite-configs" {
		t.Errorf("Bucket = %q", cfg.Bucket)
	}
	if cfg.SweepBudget != 5*time.Minute {
		t.Errorf("SweepBudget = %v, want 5m", cfg.SweepBudget)
	}
	if cfg.PollSchedule != "0 * * * *" {
		t.Errorf("PollSchedule = %q", cfg.PollSchedule)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.TelegramToken != "token-abc" {
		t.Errorf("TelegramToken = %q", cfg.TelegramToken)
	}
}

func TestLoadRejectsBadBudget(t *testing.T) {
	t.Setenv("LOCAL_STORAGE", "/tmp/campsite-data")
	t.Setenv("SWEEP_BUDGET", "soonish")

	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() error = nil for unparsable SWEEP_BUDGET, want error")
	}

	t.Setenv("SWEEP_BUDGET", "-1m")
	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() error = nil for negative SWEEP_BUDGET, want error")
	}
}

func TestLoadRequiresStorage(t *testing.T) {
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("LOCAL_STORAGE", "")

	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() error = nil with no storage configured, want error")
	}
}
