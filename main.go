// Command campsite-notifier polls Recreation.gov for campsite
// availability and notifies users via Telegram and Pushover.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"campsite-notifier/campsite"
	"campsite-notifier/config"
	"campsite-notifier/poll"
	"campsite-notifier/server"
	"campsite-notifier/storage"
	"campsite-notifier/telegram"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "campsite-notifier",
		Short:        "Campsite availability monitor for Recreation.gov",
		SilenceUsage: true,
	}

	var notifyCleared bool
	root.PersistentFlags().BoolVar(&notifyCleared, "notify-cleared", false,
		"send a notification when previously found availability disappears")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with scheduled sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger, notifyCleared)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run a single monitoring pass over all users and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), logger, notifyCleared)
		},
	})

	var checkUser string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check all searches for one user and send a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkUser == "" {
				return fmt.Errorf("--user is required")
			}
			return runCheck(cmd.Context(), logger, notifyCleared, checkUser)
		},
	}
	checkCmd.Flags().StringVar(&checkUser, "user", "", "Telegram chat ID of the user to check")
	root.AddCommand(checkCmd)

	return root
}

// buildMonitor wires storage, the availability client and the
// notification providers into a monitor.
func buildMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger, notifyCleared bool) (*poll.Monitor, error) {
	var gcsClient *gcs.Client
	if cfg.LocalStorage == "" {
		var err error
		gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using GCS storage", "bucket", cfg.Bucket)
	} else {
		logger.Info("Using local storage", "path", cfg.LocalStorage)
	}
	store := storage.New(gcsClient, cfg.Bucket, cfg.LocalStorage, logger)

	var telegramProvider telegram.Provider
	if cfg.TelegramToken != "" {
		telegramProvider = telegram.NewBotAPIProvider(cfg.TelegramToken, logger)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, using mock provider")
		telegramProvider = telegram.NewMockProvider(logger)
	}

	var pushoverProvider telegram.Provider
	if cfg.PushoverToken != "" {
		pushoverProvider = telegram.NewPushoverProvider(cfg.PushoverToken, logger)
	}

	sender := telegram.New(telegramProvider, pushoverProvider, logger)
	client := campsite.New(&http.Client{Timeout: 60 * time.Second}, logger)

	return poll.New(&poll.Config{
		Client:        client,
		Configs:       store,
		States:        store,
		Notifier:      sender,
		Logger:        logger,
		Budget:        cfg.SweepBudget,
		Classify:      campsite.Classify,
		NotifyCleared: notifyCleared,
	}), nil
}

func runServe(ctx context.Context, logger *slog.Logger, notifyCleared bool) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	monitor, err := buildMonitor(ctx, cfg, logger, notifyCleared)
	if err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.PollSchedule, func() {
		summary := monitor.Sweep(context.Background())
		logger.Info("Scheduled sweep finished",
			"users_processed", summary.UsersProcessed,
			"searches_processed", summary.SearchesProcessed,
			"availabilities_found", summary.AvailabilitiesFound,
			"notifications_sent", summary.NotificationsSent,
			"truncated", summary.Truncated)
	}); err != nil {
		return fmt.Errorf("schedule sweeps %q: %w", cfg.PollSchedule, err)
	}
	c.Start()
	defer c.Stop()
	logger.Info("Sweep schedule registered", "schedule", cfg.PollSchedule)

	return server.New(monitor, logger).ListenAndServe(cfg.Port)
}

func runSweep(ctx context.Context, logger *slog.Logger, notifyCleared bool) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	monitor, err := buildMonitor(ctx, cfg, logger, notifyCleared)
	if err != nil {
		return err
	}

	summary := monitor.Sweep(ctx)
	if err := printSummary(summary); err != nil {
		return err
	}
	if summary.Error != "" {
		return fmt.Errorf("sweep failed: %s", summary.Error)
	}
	return nil
}

func runCheck(ctx context.Context, logger *slog.Logger, notifyCleared bool, userID string) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	monitor, err := buildMonitor(ctx, cfg, logger, notifyCleared)
	if err != nil {
		return err
	}

	summary := monitor.CheckUser(ctx, userID)
	if err := printSummary(summary); err != nil {
		return err
	}
	if summary.Error != "" {
		return fmt.Errorf("check failed: %s", summary.Error)
	}
	return nil
}

func printSummary(summary any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
