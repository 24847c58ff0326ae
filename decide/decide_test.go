package decide

import (
	"testing"
	"time"

	"campsite-notifier/pkg/notifier"
)

var (
	found = &notifier.MatchResult{
		HasAvailability: true,
		Windows:         []notifier.Window{{ParkID: "1", SiteID: "100", Nights: 2}},
		ParksChecked:    []string{"1"},
	}
	empty = &notifier.MatchResult{
		ParksChecked: []string{"1"},
	}
	transientOutage = &notifier.MatchResult{
		ParksFailed: []notifier.ParkFailure{{ParkID: "1", Kind: notifier.ErrorTransient}},
	}
	permanentOutage = &notifier.MatchResult{
		ParksFailed: []notifier.ParkFailure{{ParkID: "1", Kind: notifier.ErrorPermanent}},
	}
)

func TestDecideTransitions(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		notifyCleared bool
		prev          *notifier.NotificationState
		result        *notifier.MatchResult
		wantAction    Action
		wantMatch     bool
		wantErrored   bool
	}{
		{
			name:       "first pass with availability",
			prev:       nil,
			result:     found,
			wantAction: NotifyFound,
			wantMatch:  true,
		},
		{
			name:       "first pass without availability",
			prev:       nil,
			result:     empty,
			wantAction: Suppress,
			wantMatch:  false,
		},
		{
			name:       "still available stays quiet",
			prev:       &notifier.NotificationState{LastMatch: true},
			result:     found,
			wantAction: Suppress,
			wantMatch:  true,
		},
		{
			name:       "reappearance notifies again",
			prev:       &notifier.NotificationState{LastMatch: false},
			result:     found,
			wantAction: NotifyFound,
			wantMatch:  true,
		},
		{
			name:       "cleared is silent by default",
			prev:       &notifier.NotificationState{LastMatch: true},
			result:     empty,
			wantAction: Suppress,
			wantMatch:  false,
		},
		{
			name:          "cleared notifies when enabled",
			notifyCleared: true,
			prev:          &notifier.NotificationState{LastMatch: true},
			result:        empty,
			wantAction:    NotifyCleared,
			wantMatch:     false,
		},
		{
			name:       "transient outage preserves match state",
			prev:       &notifier.NotificationState{LastMatch: true},
			result:     transientOutage,
			wantAction: Suppress,
			wantMatch:  true,
		},
		{
			name:          "transient outage never reads as cleared",
			notifyCleared: true,
			prev:          &notifier.NotificationState{LastMatch: true},
			result:        transientOutage,
			wantAction:    Suppress,
			wantMatch:     true,
		},
		{
			name:        "permanent outage notifies once",
			prev:        &notifier.NotificationState{},
			result:      permanentOutage,
			wantAction:  NotifyError,
			wantErrored: true,
		},
		{
			name:        "repeated permanent outage stays quiet",
			prev:        &notifier.NotificationState{LastErrored: true},
			result:      permanentOutage,
			wantAction:  Suppress,
			wantErrored: true,
		},
		{
			name:        "permanent outage preserves match state",
			prev:        &notifier.NotificationState{LastMatch: true},
			result:      permanentOutage,
			wantAction:  NotifyError,
			wantMatch:   true,
			wantErrored: true,
		},
		{
			name:       "recovery clears error memory",
			prev:       &notifier.NotificationState{LastErrored: true},
			result:     empty,
			wantAction: Suppress,
		},
		{
			name:       "recovery with availability notifies",
			prev:       &notifier.NotificationState{LastErrored: true},
			result:     found,
			wantAction: NotifyFound,
			wantMatch:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decider{NotifyCleared: tt.notifyCleared}
			action, next := d.Decide(tt.prev, tt.result, now)
			if action != tt.wantAction {
				t.Errorf("action = %s, want %s", action, tt.wantAction)
			}
			if next.LastMatch != tt.wantMatch {
				t.Errorf("LastMatch = %v, want %v", next.LastMatch, tt.wantMatch)
			}
			if next.LastErrored != tt.wantErrored {
				t.Errorf("LastErrored = %v, want %v", next.LastErrored, tt.wantErrored)
			}
			if !next.LastCheckedAt.Equal(now) {
				t.Errorf("LastCheckedAt = %v, want %v", next.LastCheckedAt, now)
			}
		})
	}
}

// Feeding the same availability through N passes must notify exactly
// once, regardless of N.
func TestDecideIdempotentOverRepeatedPasses(t *testing.T) {
	d := Decider{}
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	var prev *notifier.NotificationState
	notifications := 0
	for i := range 10 {
		action, next := d.Decide(prev, found, now.Add(time.Duration(i)*time.Hour))
		if action == NotifyFound {
			notifications++
		}
		prev = &next
	}
	if notifications != 1 {
		t.Errorf("got %d notifications over 10 identical passes, want 1", notifications)
	}
}

func TestDecideRecordsNotifiedAt(t *testing.T) {
	d := Decider{}
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	_, next := d.Decide(nil, found, now)
	if next.LastNotifiedAt == nil || !next.LastNotifiedAt.Equal(now) {
		t.Errorf("LastNotifiedAt = %v, want %v", next.LastNotifiedAt, now)
	}

	later := now.Add(time.Hour)
	_, after := d.Decide(&next, found, later)
	if after.LastNotifiedAt == nil || !after.LastNotifiedAt.Equal(now) {
		t.Errorf("LastNotifiedAt = %v, want unchanged %v on suppress", after.LastNotifiedAt, now)
	}
}

func TestActionString(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{Suppress, "suppress"},
		{NotifyFound, "notify_found"},
		{NotifyCleared, "notify_cleared"},
		{NotifyError, "notify_error"},
	}
	for _, tt := range tests {
		if got := tt.action.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
