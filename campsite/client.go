// Package campsite fetches raw day-level availability from the
// Recreation.gov campground API.
package campsite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"campsite-notifier/pkg/notifier"
)

const (
	defaultBaseURL = "https://www.recreation.gov"
	monthPath      = "/api/camps/availability/campground/%s/month"

	// The availability API serves whole calendar months; start_date must
	// be the first of the month at midnight UTC.
	monthStartLayout = "2006-01-02T15:04:05.000Z"

	// One retry with a fixed short delay on transient failures; permanent
	// failures abort immediately.
	retryAttempts = 2
	retryDelay    = 2 * time.Second

	// Recreation.gov rejects the default Go user agent.
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	stateAvailable = "Available"
)

// Client talks to the Recreation.gov availability API.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// New creates an availability client.
func New(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// NewWithBaseURL creates a client against a non-default API endpoint.
// Used by tests.
func NewWithBaseURL(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	c := New(httpClient, logger)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// monthResponse mirrors the campground month endpoint payload.
type monthResponse struct {
	Campsites map[string]struct {
		CampsiteID     string            `json:"campsite_id"`
		Site           string            `json:"site"`
		Loop           string            `json:"loop"`
		CampsiteType   string            `json:"campsite_type"`
		Availabilities map[string]string `json:"availabilities"`
	} `json:"campsites"`
}

// FetchAvailability returns per-day availability for every site in the
// park, restricted to [start, end]. The API serves whole months, so one
// request is made per calendar month covered by the range.
func (c *Client) FetchAvailability(ctx context.Context, parkID string, start, end time.Time) (*notifier.ParkAvailability, error) {
	avail := &notifier.ParkAvailability{
		ParkID: parkID,
		Sites:  make(map[string]*notifier.Campsite),
	}

	for _, month := range monthStarts(start, end) {
		resp, err := c.fetchMonth(ctx, parkID, month)
		if err != nil {
			return nil, fmt.Errorf("fetch month %s: %w", month.Format("2006-01"), err)
		}
		mergeMonth(avail, resp, start, end)
	}

	c.logger.Debug("Park availability fetched",
		"park_id", parkID,
		"start", start.Format(notifier.DateLayout),
		"end", end.Format(notifier.DateLayout),
		"sites", len(avail.Sites))

	return avail, nil
}

func (c *Client) fetchMonth(ctx context.Context, parkID string, monthStart time.Time) (*monthResponse, error) {
	endpoint := fmt.Sprintf(c.baseURL+monthPath, url.PathEscape(parkID))
	query := url.Values{"start_date": {monthStart.Format(monthStartLayout)}}
	reqURL := endpoint + "?" + query.Encode()

	var parsed *monthResponse

	err := retry.Do(
		func() error {
			c.logger.Info("HTTP request starting",
				"method", "GET",
				"url", reqURL,
				"purpose", "fetch_availability")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "application/json")

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("HTTP request failed",
					"url", reqURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return &TransientError{Err: err}
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("HTTP request completed",
				"url", reqURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			switch {
			case resp.StatusCode == http.StatusOK:
				// fall through to decode
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return &TransientError{Status: resp.StatusCode}
			default:
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return retry.Unrecoverable(&PermanentError{
					Status: resp.StatusCode,
					Detail: fmt.Sprintf("park %s: %s", parkID, strings.TrimSpace(string(body))),
				})
			}

			var m monthResponse
			if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
				c.logger.Warn("Failed to decode availability response", "error", err)
				return &TransientError{Err: fmt.Errorf("decode response: %w", err)}
			}
			parsed = &m
			return nil
		},
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.MaxDelay(retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying availability fetch after transient error",
				"attempt", n, "park_id", parkID, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsPermanent(err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return parsed, nil
}

// mergeMonth folds one month response into the accumulated park table,
// keeping only days inside [start, end].
func mergeMonth(avail *notifier.ParkAvailability, m *monthResponse, start, end time.Time) {
	for id, cs := range m.Campsites {
		site, ok := avail.Sites[id]
		if !ok {
			site = &notifier.Campsite{
				ID:        id,
				Site:      cs.Site,
				Type:      cs.CampsiteType,
				Available: make(map[string]bool),
			}
			if site.ID == "" {
				site.ID = cs.CampsiteID
			}
			avail.Sites[id] = site
		}

		for ts, state := range cs.Availabilities {
			day, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				continue
			}
			if day.Before(start) || day.After(end) {
				continue
			}
			site.Available[day.Format(notifier.DateLayout)] = state == stateAvailable
		}
	}
}

// monthStarts returns the first day of each calendar month covered by
// [start, end], in order.
func monthStarts(start, end time.Time) []time.Time {
	var months []time.Time
	m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !m.After(last) {
		months = append(months, m)
		m = m.AddDate(0, 1, 0)
	}
	return months
}
