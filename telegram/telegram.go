// Package telegram delivers notifications through pluggable message
// providers, with Telegram as the primary channel and Pushover kept for
// legacy configurations.
package telegram

import (
	"context"
	"errors"
	"log/slog"

	"campsite-notifier/pkg/notifier"
)

// Message priorities, Pushover semantics. Telegram ignores them.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
)

// Provider defines the interface for message delivery implementations.
type Provider interface {
	// Send delivers text to the recipient addressed by token.
	Send(ctx context.Context, token, text string, priority int) error
}

// Sender renders notification messages and routes them to the channels a
// user has enabled.
type Sender struct {
	telegram Provider
	pushover Provider // nil when the legacy channel is not configured
	logger   *slog.Logger
}

// New creates a sender. pushover may be nil.
func New(telegram, pushover Provider, logger *slog.Logger) *Sender {
	return &Sender{
		telegram: telegram,
		pushover: pushover,
		logger:   logger,
	}
}

func priorityFor(search *notifier.Search) int {
	if search != nil && search.Priority == "high" {
		return PriorityHigh
	}
	return PriorityNormal
}

// deliver fans one rendered message out to every enabled channel. A
// failure on one channel does not stop the others; the joined error is
// returned so the caller can record the delivery failure.
func (s *Sender) deliver(ctx context.Context, user *notifier.UserConfig, text string, priority int) error {
	var errs []error

	if user.NotificationSettings.TelegramEnabled {
		if err := s.telegram.Send(ctx, user.UserID, text, priority); err != nil {
			s.logger.Warn("Telegram delivery failed", "user_id", user.UserID, "error", err)
			errs = append(errs, err)
		}
	}

	if user.NotificationSettings.PushoverEnabled && s.pushover != nil {
		if err := s.pushover.Send(ctx, user.UserID, text, priority); err != nil {
			s.logger.Warn("Pushover delivery failed", "user_id", user.UserID, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SendFound announces new availability for a search.
func (s *Sender) SendFound(ctx context.Context, user *notifier.UserConfig, search *notifier.Search, result *notifier.MatchResult) error {
	text := RenderFound(search, result)
	s.logger.Info("Sending availability notification",
		"user_id", user.UserID,
		"search", search.Name,
		"windows", len(result.Windows))
	return s.deliver(ctx, user, text, priorityFor(search))
}

// SendCleared announces that a search's availability disappeared.
func (s *Sender) SendCleared(ctx context.Context, user *notifier.UserConfig, search *notifier.Search) error {
	text := RenderCleared(search)
	s.logger.Info("Sending cleared notification", "user_id", user.UserID, "search", search.Name)
	return s.deliver(ctx, user, text, PriorityNormal)
}

// SendError announces a persistent failure checking a search.
func (s *Sender) SendError(ctx context.Context, user *notifier.UserConfig, searchName, detail string) error {
	text := RenderError(searchName, detail)
	s.logger.Info("Sending error notification", "user_id", user.UserID, "search", searchName)
	return s.deliver(ctx, user, text, PriorityHigh)
}

// SendCheckSummary reports the result of a manual check back to the user
// who requested it.
func (s *Sender) SendCheckSummary(ctx context.Context, user *notifier.UserConfig, found, total, failed int) error {
	text := RenderCheckSummary(found, total, failed)
	s.logger.Info("Sending manual check summary",
		"user_id", user.UserID,
		"found", found,
		"total", total,
		"failed", failed)
	return s.deliver(ctx, user, text, PriorityNormal)
}
