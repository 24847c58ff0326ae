// Package notifier contains the core domain types for the campsite
// availability notification service.
package notifier

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar-date format used in user configs and
// availability tables.
const DateLayout = "2006-01-02"

// ErrorKind classifies an upstream failure.
type ErrorKind string

const (
	// ErrorTransient marks failures expected to clear on their own:
	// timeouts, rate limits, 5xx responses. Never surfaced to the user.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent marks failures that will not go away without a
	// config change, such as an invalid park ID.
	ErrorPermanent ErrorKind = "permanent"
)

// Search is one saved monitoring criterion belonging to a user.
type Search struct {
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	Parks        []string  `json:"parks"`
	StartDate    string    `json:"start_date"` // YYYY-MM-DD
	EndDate      string    `json:"end_date"`   // YYYY-MM-DD
	Nights       int       `json:"nights,omitempty"`
	WeekendsOnly bool      `json:"weekends_only,omitempty"`
	CampsiteType string    `json:"campsite_type,omitempty"`
	CampsiteIDs  []string  `json:"campsite_ids,omitempty"`
	Priority     string    `json:"priority,omitempty"` // "high" or "normal"
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// UnmarshalJSON defaults Enabled to true when the field is absent,
// matching how stored configs have always been interpreted.
func (s *Search) UnmarshalJSON(data []byte) error {
	type alias Search
	aux := struct {
		Enabled *bool `json:"enabled"`
		*alias
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}

// NotificationSettings selects the delivery channels for a user.
type NotificationSettings struct {
	TelegramEnabled bool `json:"telegram_enabled"`
	PushoverEnabled bool `json:"pushover_enabled"`
}

// UnmarshalJSON defaults TelegramEnabled to true when the field is absent.
func (n *NotificationSettings) UnmarshalJSON(data []byte) error {
	type alias NotificationSettings
	aux := struct {
		TelegramEnabled *bool `json:"telegram_enabled"`
		*alias
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.TelegramEnabled = aux.TelegramEnabled == nil || *aux.TelegramEnabled
	return nil
}

// UserConfig is the stored configuration for one recipient. The core
// treats it as an immutable snapshot for the duration of a run.
type UserConfig struct {
	Version              string               `json:"version"`
	UserID               string               `json:"user_id"` // Telegram chat ID, also the recipient token
	NotificationSettings NotificationSettings `json:"notification_settings"`
	Searches             []Search             `json:"searches"`
}

// Campsite is one bookable site unit within a park, with its per-day
// availability restricted to the requested date range.
type Campsite struct {
	ID        string          `json:"campsite_id"`
	Site      string          `json:"site"` // display name, e.g. "A01"
	Type      string          `json:"campsite_type"`
	Available map[string]bool `json:"available"` // keyed by YYYY-MM-DD
}

// ParkAvailability is the raw per-day availability for one park. It is
// produced and consumed within a single search evaluation, never persisted.
type ParkAvailability struct {
	ParkID string               `json:"park_id"`
	Sites  map[string]*Campsite `json:"sites"` // keyed by campsite ID
}

// Window is one qualifying consecutive-night stay.
type Window struct {
	ParkID string    `json:"park_id"`
	SiteID string    `json:"site_id"`
	Site   string    `json:"site,omitempty"`
	Start  time.Time `json:"start"`
	Nights int       `json:"nights"`
}

// ParkFailure records a park whose availability call failed.
type ParkFailure struct {
	ParkID string    `json:"park_id"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// MatchResult is the outcome of evaluating one search against the raw
// availability of its parks.
type MatchResult struct {
	HasAvailability bool          `json:"has_availability"`
	Windows         []Window      `json:"windows,omitempty"`
	ParksChecked    []string      `json:"parks_checked,omitempty"`
	ParksFailed     []ParkFailure `json:"parks_failed,omitempty"`
}

// AllParksFailed reports whether no park produced usable data. Such a
// result is not an availability observation and must never be read as
// "checked, nothing open".
func (r *MatchResult) AllParksFailed() bool {
	return len(r.ParksChecked) == 0 && len(r.ParksFailed) > 0
}

// AllParksPermanentlyFailed reports whether every park failed with a
// permanent classification.
func (r *MatchResult) AllParksPermanentlyFailed() bool {
	if !r.AllParksFailed() {
		return false
	}
	for _, f := range r.ParksFailed {
		if f.Kind != ErrorPermanent {
			return false
		}
	}
	return true
}

// SiteCount returns the number of distinct sites carrying at least one
// qualifying window.
func (r *MatchResult) SiteCount() int {
	seen := make(map[string]bool, len(r.Windows))
	for _, w := range r.Windows {
		seen[w.ParkID+"/"+w.SiteID] = true
	}
	return len(seen)
}

// NotificationState is the persisted per-(user, search) memory that makes
// notifications edge-triggered rather than level-triggered.
type NotificationState struct {
	LastMatch      bool       `json:"last_match"`
	LastErrored    bool       `json:"last_errored,omitempty"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	LastCheckedAt  time.Time  `json:"last_checked_at"`
}

// SearchOutcome is the per-(user, search) record in a run summary.
type SearchOutcome struct {
	UserID           string        `json:"user_id"`
	SearchName       string        `json:"search_name"`
	HasAvailability  bool          `json:"has_availability"`
	NotificationSent bool          `json:"notification_sent"`
	Skipped          bool          `json:"skipped_due_to_time_limit,omitempty"`
	ParksChecked     int           `json:"parks_checked"`
	ParksFailed      []ParkFailure `json:"parks_failed,omitempty"`
	WindowCount      int           `json:"window_count,omitempty"`
	Error            string        `json:"error,omitempty"`
	DeliveryError    string        `json:"delivery_error,omitempty"`
}

// RunSummary aggregates one monitoring pass. It is always produced, even
// when the pass was truncated by the time budget.
type RunSummary struct {
	StartedAt           time.Time       `json:"started_at"`
	FinishedAt          time.Time       `json:"finished_at"`
	UsersProcessed      int             `json:"users_processed"`
	UsersSkipped        int             `json:"users_skipped,omitempty"`
	SearchesProcessed   int             `json:"searches_processed"`
	SearchesSkipped     int             `json:"searches_skipped,omitempty"`
	AvailabilitiesFound int             `json:"availabilities_found"`
	NotificationsSent   int             `json:"notifications_sent"`
	Truncated           bool            `json:"truncated,omitempty"`
	Error               string          `json:"error,omitempty"`
	Outcomes            []SearchOutcome `json:"outcomes"`
}
