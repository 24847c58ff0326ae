// Package poll runs the time-budgeted monitoring pass: it walks users and
// their searches, fetches availability, applies the matcher and the
// notification state machine, and assembles a run summary.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"campsite-notifier/decide"
	"campsite-notifier/match"
	"campsite-notifier/pkg/notifier"
)

const (
	// defaultBudget leaves margin below a typical 15-minute host timeout
	// for delivery and state writes on the final search.
	defaultBudget = 12 * time.Minute

	// perSearchEstimate is the minimum remaining budget required to begin
	// one more unit of work. Units that would start with less are skipped
	// and recorded, never silently dropped.
	perSearchEstimate = 15 * time.Second

	// parkCallTimeout bounds a single availability fetch, independently
	// of the sweep budget.
	parkCallTimeout = 30 * time.Second
)

// Client fetches raw availability for one park.
type Client interface {
	FetchAvailability(ctx context.Context, parkID string, start, end time.Time) (*notifier.ParkAvailability, error)
}

// ConfigSource supplies immutable user-config snapshots.
type ConfigSource interface {
	ListEnabled(ctx context.Context) ([]*notifier.UserConfig, error)
	LoadUser(ctx context.Context, userID string) (*notifier.UserConfig, error)
}

// StateStore persists notification state per (user, search).
type StateStore interface {
	LoadState(ctx context.Context, userID, searchName string) (*notifier.NotificationState, error)
	SaveState(ctx context.Context, userID, searchName string, state *notifier.NotificationState) error
}

// Notifier delivers rendered notifications.
type Notifier interface {
	SendFound(ctx context.Context, user *notifier.UserConfig, search *notifier.Search, result *notifier.MatchResult) error
	SendCleared(ctx context.Context, user *notifier.UserConfig, search *notifier.Search) error
	SendError(ctx context.Context, user *notifier.UserConfig, searchName, detail string) error
	SendCheckSummary(ctx context.Context, user *notifier.UserConfig, found, total, failed int) error
}

// Config holds monitor dependencies.
type Config struct {
	Client   Client
	Configs  ConfigSource
	States   StateStore
	Notifier Notifier
	Logger   *slog.Logger

	// Budget caps one pass. Zero means defaultBudget.
	Budget time.Duration
	// Clock is injected for tests. Nil means time.Now.
	Clock func() time.Time
	// Classify maps a client error to its kind. Nil means everything is
	// transient, the safe direction.
	Classify func(error) notifier.ErrorKind
	// NotifyCleared enables availability-disappeared notifications.
	NotifyCleared bool
}

// Monitor orchestrates monitoring passes.
type Monitor struct {
	client   Client
	configs  ConfigSource
	states   StateStore
	notifier Notifier
	logger   *slog.Logger
	budget   time.Duration
	clock    func() time.Time
	classify func(error) notifier.ErrorKind
	decider  decide.Decider
}

// New creates a monitor.
func New(cfg *Config) *Monitor {
	m := &Monitor{
		client:   cfg.Client,
		configs:  cfg.Configs,
		states:   cfg.States,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		budget:   cfg.Budget,
		clock:    cfg.Clock,
		classify: cfg.Classify,
		decider:  decide.Decider{NotifyCleared: cfg.NotifyCleared},
	}
	if m.budget == 0 {
		m.budget = defaultBudget
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.classify == nil {
		m.classify = func(error) notifier.ErrorKind { return notifier.ErrorTransient }
	}
	return m
}

// parkOutcome caches one availability fetch for the duration of a pass,
// so overlapping searches hit each park only once.
type parkOutcome struct {
	avail *notifier.ParkAvailability
	err   error
}

// Sweep processes every enabled user in listing order. It always returns
// a summary; per-user and per-search failures become summary entries, and
// budget exhaustion truncates the pass instead of failing it.
func (m *Monitor) Sweep(ctx context.Context) *notifier.RunSummary {
	summary := &notifier.RunSummary{StartedAt: m.clock()}
	budget := NewBudget(m.budget, m.clock)

	configs, err := m.configs.ListEnabled(ctx)
	if err != nil {
		// The one unrecoverable setup failure: no config source, no run.
		summary.Error = fmt.Sprintf("list user configs: %v", err)
		summary.FinishedAt = m.clock()
		m.logger.Error("Sweep aborted", "error", err)
		return summary
	}

	m.logger.Info("Sweep starting",
		"users", len(configs),
		"budget", m.budget.String())

	cache := make(map[string]*parkOutcome)
	for _, cfg := range configs {
		if !budget.Enough(perSearchEstimate) {
			m.skipUser(cfg, summary)
			continue
		}
		m.processUser(ctx, cfg, budget, cache, summary)
	}

	summary.FinishedAt = m.clock()
	m.logger.Info("Sweep completed",
		"users_processed", summary.UsersProcessed,
		"users_skipped", summary.UsersSkipped,
		"searches_processed", summary.SearchesProcessed,
		"searches_skipped", summary.SearchesSkipped,
		"availabilities_found", summary.AvailabilitiesFound,
		"notifications_sent", summary.NotificationsSent,
		"truncated", summary.Truncated)
	return summary
}

// CheckUser runs the same evaluation pipeline for a single user, then
// reports the outcome back to them. Used for manual checks.
func (m *Monitor) CheckUser(ctx context.Context, userID string) *notifier.RunSummary {
	summary := &notifier.RunSummary{StartedAt: m.clock()}
	budget := NewBudget(m.budget, m.clock)

	cfg, err := m.configs.LoadUser(ctx, userID)
	if err != nil {
		summary.Error = fmt.Sprintf("load user config: %v", err)
		summary.FinishedAt = m.clock()
		m.logger.Warn("Manual check failed", "user_id", userID, "error", err)
		return summary
	}

	m.logger.Info("Manual check starting", "user_id", userID, "searches", len(cfg.Searches))

	cache := make(map[string]*parkOutcome)
	m.processUser(ctx, cfg, budget, cache, summary)
	summary.FinishedAt = m.clock()

	failed := 0
	for _, out := range summary.Outcomes {
		if out.Error != "" {
			failed++
		}
	}
	if err := m.notifier.SendCheckSummary(ctx, cfg, summary.AvailabilitiesFound, summary.SearchesProcessed, failed); err != nil {
		m.logger.Warn("Failed to send manual check summary", "user_id", userID, "error", err)
	}

	return summary
}

// skipUser records every enabled search of an unprocessed user as skipped
// due to the time limit.
func (m *Monitor) skipUser(cfg *notifier.UserConfig, summary *notifier.RunSummary) {
	summary.Truncated = true
	summary.UsersSkipped++
	for i := range cfg.Searches {
		if !cfg.Searches[i].Enabled {
			continue
		}
		summary.SearchesSkipped++
		summary.Outcomes = append(summary.Outcomes, notifier.SearchOutcome{
			UserID:     cfg.UserID,
			SearchName: cfg.Searches[i].Name,
			Skipped:    true,
		})
	}
	m.logger.Info("User skipped, time budget exhausted", "user_id", cfg.UserID)
}

// processUser is the per-user error boundary: nothing that happens inside
// may take down the rest of the sweep.
func (m *Monitor) processUser(ctx context.Context, cfg *notifier.UserConfig, budget *Budget, cache map[string]*parkOutcome, summary *notifier.RunSummary) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("User processing panicked", "user_id", cfg.UserID, "panic", r)
			summary.Outcomes = append(summary.Outcomes, notifier.SearchOutcome{
				UserID: cfg.UserID,
				Error:  fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	summary.UsersProcessed++

	for i := range cfg.Searches {
		search := &cfg.Searches[i]
		if !search.Enabled {
			continue
		}

		if !budget.Enough(perSearchEstimate) {
			summary.Truncated = true
			summary.SearchesSkipped++
			summary.Outcomes = append(summary.Outcomes, notifier.SearchOutcome{
				UserID:     cfg.UserID,
				SearchName: search.Name,
				Skipped:    true,
			})
			m.logger.Info("Search skipped, time budget exhausted",
				"user_id", cfg.UserID, "search", search.Name)
			continue
		}

		outcome := m.evaluateSearch(ctx, cfg, search, budget, cache)
		summary.SearchesProcessed++
		if outcome.HasAvailability {
			summary.AvailabilitiesFound++
		}
		if outcome.NotificationSent {
			summary.NotificationsSent++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
}

// evaluateSearch runs the full pipeline for one search: fetch, match,
// decide, persist, deliver. Errors stay inside the returned outcome.
func (m *Monitor) evaluateSearch(ctx context.Context, cfg *notifier.UserConfig, search *notifier.Search, budget *Budget, cache map[string]*parkOutcome) notifier.SearchOutcome {
	out := notifier.SearchOutcome{UserID: cfg.UserID, SearchName: search.Name}

	criteria, err := match.Compile(search)
	if err != nil {
		out.Error = fmt.Sprintf("invalid search: %v", err)
		m.logger.Warn("Search config invalid",
			"user_id", cfg.UserID, "search", search.Name, "error", err)
		return out
	}

	var result *notifier.MatchResult
	if !criteria.Feasible() {
		// Permanently non-matching (no parks, or nights exceed the
		// span): evaluates to empty without any upstream calls.
		result = &notifier.MatchResult{}
	} else {
		avail, failures := m.fetchParks(ctx, criteria, budget, cache)
		result = criteria.Evaluate(avail, failures)
	}

	out.HasAvailability = result.HasAvailability
	out.ParksChecked = len(result.ParksChecked)
	out.ParksFailed = result.ParksFailed
	out.WindowCount = len(result.Windows)

	prev, err := m.states.LoadState(ctx, cfg.UserID, search.Name)
	if err != nil {
		out.Error = fmt.Sprintf("load state: %v", err)
		return out
	}

	now := m.clock()
	action, next := m.decider.Decide(prev, result, now)

	// State is written before delivery is attempted: a failed delivery is
	// recorded but not retried on the next pass.
	if err := m.states.SaveState(ctx, cfg.UserID, search.Name, &next); err != nil {
		out.Error = fmt.Sprintf("save state: %v", err)
		return out
	}

	m.logger.Info("Search evaluated",
		"user_id", cfg.UserID,
		"search", search.Name,
		"action", action.String(),
		"has_availability", result.HasAvailability,
		"windows", len(result.Windows),
		"parks_failed", len(result.ParksFailed))

	var deliveryErr error
	switch action {
	case decide.NotifyFound:
		deliveryErr = m.notifier.SendFound(ctx, cfg, search, result)
	case decide.NotifyCleared:
		deliveryErr = m.notifier.SendCleared(ctx, cfg, search)
	case decide.NotifyError:
		deliveryErr = m.notifier.SendError(ctx, cfg, search.Name, failureDetail(result))
	case decide.Suppress:
		return out
	}

	if deliveryErr != nil {
		out.DeliveryError = deliveryErr.Error()
		m.logger.Warn("Notification delivery failed",
			"user_id", cfg.UserID, "search", search.Name, "error", deliveryErr)
		return out
	}
	out.NotificationSent = true
	return out
}

// fetchParks resolves availability for every park in the criteria,
// fanning uncached fetches out concurrently. Results are reattributed to
// their park IDs and returned in criteria order regardless of completion
// order.
func (m *Monitor) fetchParks(ctx context.Context, c *match.Criteria, budget *Budget, cache map[string]*parkOutcome) ([]*notifier.ParkAvailability, []notifier.ParkFailure) {
	type fetchResult struct {
		parkID  string
		outcome *parkOutcome
	}

	var missing []string
	for _, parkID := range c.Parks {
		if _, ok := cache[cacheKey(parkID, c)]; !ok {
			missing = append(missing, parkID)
		}
	}

	if len(missing) > 0 {
		timeout := parkCallTimeout
		if rem := budget.Remaining(); rem < timeout {
			timeout = rem
		}
		if timeout <= 0 {
			timeout = time.Second
		}

		results := make(chan fetchResult, len(missing))
		var wg sync.WaitGroup
		for _, parkID := range missing {
			wg.Add(1)
			go func(parkID string) {
				defer wg.Done()
				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				avail, err := m.client.FetchAvailability(callCtx, parkID, c.Start, c.End)
				results <- fetchResult{parkID, &parkOutcome{avail: avail, err: err}}
			}(parkID)
		}
		go func() {
			wg.Wait()
			close(results)
		}()
		for res := range results {
			cache[cacheKey(res.parkID, c)] = res.outcome
		}
	}

	var avails []*notifier.ParkAvailability
	var failures []notifier.ParkFailure
	for _, parkID := range c.Parks {
		outcome := cache[cacheKey(parkID, c)]
		if outcome.err != nil {
			kind := m.classify(outcome.err)
			m.logger.Warn("Park availability fetch failed",
				"park_id", parkID, "kind", string(kind), "error", outcome.err)
			failures = append(failures, notifier.ParkFailure{
				ParkID: parkID,
				Kind:   kind,
				Detail: outcome.err.Error(),
			})
			continue
		}
		avails = append(avails, outcome.avail)
	}
	return avails, failures
}

func cacheKey(parkID string, c *match.Criteria) string {
	return parkID + "|" + c.Start.Format(notifier.DateLayout) + "|" + c.End.Format(notifier.DateLayout)
}

func failureDetail(result *notifier.MatchResult) string {
	details := make([]string, 0, len(result.ParksFailed))
	for _, f := range result.ParksFailed {
		details = append(details, fmt.Sprintf("park %s: %s", f.ParkID, f.Detail))
	}
	return strings.Join(details, "\n")
}
