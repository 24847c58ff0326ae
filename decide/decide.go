// Package decide turns a fresh match result plus the previously stored
// notification state into a delivery action. Pure state machine, no I/O.
package decide

import (
	"time"

	"campsite-notifier/pkg/notifier"
)

// Action is the delivery decision for one search evaluation.
type Action int

const (
	// Suppress sends nothing. The common case.
	Suppress Action = iota
	// NotifyFound announces a no-availability -> availability transition.
	NotifyFound
	// NotifyCleared announces availability disappearing. Off by default.
	NotifyCleared
	// NotifyError announces that every park failed permanently. Fires
	// once per transition into that state, not on every pass.
	NotifyError
)

func (a Action) String() string {
	switch a {
	case NotifyFound:
		return "notify_found"
	case NotifyCleared:
		return "notify_cleared"
	case NotifyError:
		return "notify_error"
	default:
		return "suppress"
	}
}

// Decider applies the notification state machine.
type Decider struct {
	// NotifyCleared enables availability-disappeared notifications.
	NotifyCleared bool
}

// Decide consumes the previous state (nil when the search has never been
// evaluated) and the new result, returning the action and the state to
// persist.
//
// A result where every park failed is not an availability observation:
// LastMatch is carried over untouched so a transient outage can never
// produce a false "availability cleared" transition, and only an
// all-permanent failure raises an error notification.
func (d *Decider) Decide(prev *notifier.NotificationState, result *notifier.MatchResult, now time.Time) (Action, notifier.NotificationState) {
	next := notifier.NotificationState{LastCheckedAt: now}
	if prev != nil {
		next.LastMatch = prev.LastMatch
		next.LastErrored = prev.LastErrored
		next.LastNotifiedAt = prev.LastNotifiedAt
	}

	if result.AllParksFailed() {
		if !result.AllParksPermanentlyFailed() {
			// Transient (or mixed) outage: stay silent, observe nothing.
			return Suppress, next
		}
		next.LastErrored = true
		if prev != nil && prev.LastErrored {
			return Suppress, next
		}
		return NotifyError, next
	}

	// A real observation clears any error memory.
	next.LastErrored = false

	switch {
	case result.HasAvailability && (prev == nil || !prev.LastMatch):
		next.LastMatch = true
		next.LastNotifiedAt = &now
		return NotifyFound, next

	case result.HasAvailability:
		// Still available: already announced, stay quiet.
		next.LastMatch = true
		return Suppress, next

	case prev != nil && prev.LastMatch:
		// Availability disappeared.
		next.LastMatch = false
		if d.NotifyCleared {
			next.LastNotifiedAt = &now
			return NotifyCleared, next
		}
		return Suppress, next

	default:
		next.LastMatch = false
		return Suppress, next
	}
}
