package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// PushoverProvider sends messages via the Pushover API. Kept for users
// whose configs predate the Telegram channel.
type PushoverProvider struct {
	apiToken string
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
}

// NewPushoverProvider creates a Pushover provider.
func NewPushoverProvider(apiToken string, logger *slog.Logger) *PushoverProvider {
	return &PushoverProvider{
		apiToken: apiToken,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		baseURL:  "https://api.pushover.net",
	}
}

// Send delivers a plain-text message to the Pushover user key.
func (p *PushoverProvider) Send(ctx context.Context, token, text string, priority int) error {
	form := url.Values{
		"token":    {p.apiToken},
		"user":     {token},
		"message":  {stripTags(text)},
		"priority": {strconv.Itoa(priority)},
	}

	return retry.Do(
		func() error {
			p.logger.Info("Pushover API request starting",
				"method", "POST",
				"endpoint", "messages",
				"priority", priority)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				p.baseURL+"/1/messages.json", strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			startTime := time.Now()
			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Pushover API request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				p.logger.Warn("Pushover API returned non-OK status, will retry",
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			p.logger.Info("Pushover API request completed",
				"endpoint", "messages",
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
			p.logger.Info("Retrying Pushover send after error", "attempt", n, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
}
