package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// BotAPIProvider sends messages through the Telegram Bot API.
type BotAPIProvider struct {
	token   string
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewBotAPIProvider creates a Telegram Bot API provider.
func NewBotAPIProvider(token string, logger *slog.Logger) *BotAPIProvider {
	return &BotAPIProvider{
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewBotAPIProviderWithBaseURL creates a provider against a non-default
// endpoint. Used by tests.
func NewBotAPIProviderWithBaseURL(token, baseURL string, logger *slog.Logger) *BotAPIProvider {
	p := NewBotAPIProvider(token, logger)
	p.baseURL = strings.TrimSuffix(baseURL, "/")
	return p
}

// Send delivers a message via sendMessage. It first tries HTML parse
// mode; if Telegram rejects the markup the message is resent as plain
// text, so a formatting bug can never swallow a notification.
func (p *BotAPIProvider) Send(ctx context.Context, token, text string, _ int) error {
	if err := p.sendMessage(ctx, token, text, "HTML"); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return err
	} else {
		p.logger.Warn("HTML send failed, retrying as plain text", "chat_id", token, "error", err)
	}

	return p.sendMessage(ctx, token, stripTags(text), "")
}

func (p *BotAPIProvider) sendMessage(ctx context.Context, chatID, text, parseMode string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)

	form := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}
	if parseMode != "" {
		form.Set("parse_mode", parseMode)
	}

	return retry.Do(
		func() error {
			p.logger.Info("Telegram API request starting",
				"method", "POST",
				"endpoint", "sendMessage",
				"chat_id", chatID,
				"parse_mode", parseMode)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
				strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			startTime := time.Now()
			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Telegram API request failed, will retry",
					"chat_id", chatID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				sendErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
				if resp.StatusCode == http.StatusBadRequest {
					// Bad markup or chat ID; retrying won't help.
					return retry.Unrecoverable(sendErr)
				}
				p.logger.Warn("Telegram API returned non-OK status, will retry",
					"status_code", resp.StatusCode,
					"chat_id", chatID)
				return sendErr
			}

			p.logger.Info("Telegram API request completed",
				"endpoint", "sendMessage",
				"chat_id", chatID,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying Telegram send after error", "attempt", n, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
}
