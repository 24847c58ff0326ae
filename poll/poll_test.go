package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"campsite-notifier/pkg/notifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (*discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeClock advances only when told to, making budget behavior exact.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeClient serves canned availability per park and can advance the
// clock to simulate slow upstream calls.
type fakeClient struct {
	mu      sync.Mutex
	parks   map[string]*notifier.ParkAvailability
	errs    map[string]error
	calls   int
	perCall time.Duration
	clock   *fakeClock
}

func (f *fakeClient) FetchAvailability(_ context.Context, parkID string, _, _ time.Time) (*notifier.ParkAvailability, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.perCall > 0 {
		f.clock.Advance(f.perCall)
	}
	if err, ok := f.errs[parkID]; ok {
		return nil, err
	}
	if avail, ok := f.parks[parkID]; ok {
		return avail, nil
	}
	return &notifier.ParkAvailability{ParkID: parkID, Sites: map[string]*notifier.Campsite{}}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConfigs struct {
	configs []*notifier.UserConfig
	listErr error
}

func (f *fakeConfigs) ListEnabled(context.Context) ([]*notifier.UserConfig, error) {
	return f.configs, f.listErr
}

func (f *fakeConfigs) LoadUser(_ context.Context, userID string) (*notifier.UserConfig, error) {
	for _, cfg := range f.configs {
		if cfg.UserID == userID {
			return cfg, nil
		}
	}
	return nil, errors.New("user not found")
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]*notifier.NotificationState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*notifier.NotificationState)}
}

func (f *fakeStates) LoadState(_ context.Context, userID, searchName string) (*notifier.NotificationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[userID+"/"+searchName], nil
}

func (f *fakeStates) SaveState(_ context.Context, userID, searchName string, state *notifier.NotificationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[userID+"/"+searchName] = state
	return nil
}

type notifierCall struct {
	kind   string
	userID string
	search string
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   []notifierCall
	sendErr error
}

func (f *fakeNotifier) record(kind, userID, search string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifierCall{kind, userID, search})
}

func (f *fakeNotifier) SendFound(_ context.Context, user *notifier.UserConfig, search *notifier.Search, _ *notifier.MatchResult) error {
	f.record("found", user.UserID, search.Name)
	return f.sendErr
}

func (f *fakeNotifier) SendCleared(_ context.Context, user *notifier.UserConfig, search *notifier.Search) error {
	f.record("cleared", user.UserID, search.Name)
	return f.sendErr
}

func (f *fakeNotifier) SendError(_ context.Context, user *notifier.UserConfig, searchName, _ string) error {
	f.record("error", user.UserID, searchName)
	return f.sendErr
}

func (f *fakeNotifier) SendCheckSummary(_ context.Context, user *notifier.UserConfig, _, _, _ int) error {
	f.record("summary", user.UserID, "")
	return f.sendErr
}

func (f *fakeNotifier) callsOf(kind string) []notifierCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifierCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// openPark returns a park with one site available every day in July 2026.
func openPark(parkID string) *notifier.ParkAvailability {
	avail := make(map[string]bool)
	for d := 1; d <= 31; d++ {
		avail[fmt.Sprintf("2026-07-%02d", d)] = true
	}
	return &notifier.ParkAvailability{
		ParkID: parkID,
		Sites: map[string]*notifier.Campsite{
			"100": {ID: "100", Site: "A01", Available: avail},
		},
	}
}

func user(id string, searches ...notifier.Search) *notifier.UserConfig {
	return &notifier.UserConfig{
		UserID:               id,
		NotificationSettings: notifier.NotificationSettings{TelegramEnabled: true},
		Searches:             searches,
	}
}

func search(name, park string) notifier.Search {
	return notifier.Search{
		Name:      name,
		Enabled:   true,
		Parks:     []string{park},
		StartDate: "2026-07-01",
		EndDate:   "2026-07-05",
		Nights:    2,
	}
}

type fixture struct {
	clock    *fakeClock
	client   *fakeClient
	configs  *fakeConfigs
	states   *fakeStates
	notifier *fakeNotifier
}

func newFixture(configs ...*notifier.UserConfig) *fixture {
	clock := newFakeClock()
	return &fixture{
		clock:    clock,
		client:   &fakeClient{parks: map[string]*notifier.ParkAvailability{}, errs: map[string]error{}, clock: clock},
		configs:  &fakeConfigs{configs: configs},
		states:   newFakeStates(),
		notifier: &fakeNotifier{},
	}
}

func (f *fixture) monitor(budget time.Duration) *Monitor {
	return New(&Config{
		Client:   f.client,
		Configs:  f.configs,
		States:   f.states,
		Notifier: f.notifier,
		Logger:   testLogger(),
		Budget:   budget,
		Clock:    f.clock.Now,
	})
}

func TestSweepNotifiesOnNewAvailability(t *testing.T) {
	f := newFixture(user("100", search("trip", "232447")))
	f.client.parks["232447"] = openPark("232447")
	m := f.monitor(time.Hour)

	summary := m.Sweep(context.Background())

	if summary.Error != "" {
		t.Fatalf("summary.Error = %q", summary.Error)
	}
	if summary.UsersProcessed != 1 || summary.SearchesProcessed != 1 {
		t.Errorf("processed users=%d searches=%d, want 1/1", summary.UsersProcessed, summary.SearchesProcessed)
	}
	if summary.AvailabilitiesFound != 1 || summary.NotificationsSent != 1 {
		t.Errorf("found=%d sent=%d, want 1/1", summary.AvailabilitiesFound, summary.NotificationsSent)
	}
	if got := f.notifier.callsOf("found"); len(got) != 1 || got[0].userID != "100" || got[0].search != "trip" {
		t.Errorf("found calls = %+v, want one for user 100 search trip", got)
	}

	state, _ := f.states.LoadState(context.Background(), "100", "trip")
	if state == nil || !state.LastMatch {
		t.Errorf("persisted state = %+v, want LastMatch true", state)
	}
	if len(summary.Outcomes) != 1 || !summary.Outcomes[0].NotificationSent {
		t.Errorf("outcomes = %+v", summary.Outcomes)
	}
}

// The same availability across consecutive sweeps produces exactly one
// notification.
func TestSweepEdgeTriggered(t *testing.T) {
	f := newFixture(user("100", search("trip", "232447")))
	f.client.parks["232447"] = openPark("232447")
	m := f.monitor(time.Hour)

	for range 3 {
		m.Sweep(context.Background())
	}

	if got := f.notifier.callsOf("found"); len(got) != 1 {
		t.Errorf("got %d found notifications over 3 sweeps, want 1", len(got))
	}
}

func TestSweepListError(t *testing.T) {
	f := newFixture()
	f.configs.listErr = errors.New("bucket unavailable")
	m := f.monitor(time.Hour)

	summary := m.Sweep(context.Background())
	if summary.Error == "" {
		t.Error("summary.Error empty, want list failure recorded")
	}
	if summary.UsersProcessed != 0 {
		t.Errorf("UsersProcessed = %d, want 0", summary.UsersProcessed)
	}
}

// With a one-minute budget and 30s per upstream call, exactly two of
// five users fit; the rest are skipped, deterministically the trailing
// ones in listing order.
func TestSweepBudgetTruncation(t *testing.T) {
	var users []*notifier.UserConfig
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("%d00", i)
		users = append(users, user(id, search("trip", fmt.Sprintf("park-%d", i))))
	}
	f := newFixture(users...)
	f.client.perCall = 30 * time.Second
	m := f.monitor(time.Minute)

	summary := m.Sweep(context.Background())

	if !summary.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if summary.UsersProcessed != 2 || summary.UsersSkipped != 3 {
		t.Errorf("processed=%d skipped=%d, want 2/3", summary.UsersProcessed, summary.UsersSkipped)
	}
	if summary.SearchesSkipped != 3 {
		t.Errorf("SearchesSkipped = %d, want 3", summary.SearchesSkipped)
	}

	var skipped []string
	for _, out := range summary.Outcomes {
		if out.Skipped {
			skipped = append(skipped, out.UserID)
		}
	}
	want := []string{"300", "400", "500"}
	if len(skipped) != len(want) {
		t.Fatalf("skipped users = %v, want %v", skipped, want)
	}
	for i := range want {
		if skipped[i] != want[i] {
			t.Errorf("skipped[%d] = %s, want %s (listing order)", i, skipped[i], want[i])
		}
	}
}

// One user's malformed search must not affect the users around them.
func TestSweepIsolatesBadSearch(t *testing.T) {
	bad := search("broken", "232448")
	bad.StartDate = "not-a-date"

	f := newFixture(
		user("100", search("a", "232447")),
		user("200", bad),
		user("300", search("c", "232449")),
	)
	f.client.parks["232447"] = openPark("232447")
	f.client.parks["232449"] = openPark("232449")
	m := f.monitor(time.Hour)

	summary := m.Sweep(context.Background())

	if summary.UsersProcessed != 3 {
		t.Errorf("UsersProcessed = %d, want 3", summary.UsersProcessed)
	}
	if got := f.notifier.callsOf("found"); len(got) != 2 {
		t.Errorf("got %d found notifications, want 2 (users 100 and 300)", len(got))
	}

	var badOutcome *notifier.SearchOutcome
	for i := range summary.Outcomes {
		if summary.Outcomes[i].UserID == "200" {
			badOutcome = &summary.Outcomes[i]
		}
	}
	if badOutcome == nil || badOutcome.Error == "" {
		t.Fatalf("user 200 outcome = %+v, want invalid-search error", badOutcome)
	}
}

// A transient upstream outage stays silent and preserves the stored
// match state, so recovery cannot produce a duplicate notification.
func TestSweepTransientOutageIsSilent(t *testing.T) {
	f := newFixture(user("100", search("trip", "232447")))
	f.client.parks["232447"] = openPark("232447")
	m := New(&Config{
		Client:   f.client,
		Configs:  f.configs,
		States:   f.states,
		Notifier: f.notifier,
		Logger:   testLogger(),
		Budget:   time.Hour,
		Clock:    f.clock.Now,
		Classify: func(error) notifier.ErrorKind { return notifier.ErrorTransient },
	})

	// First sweep finds availability and notifies.
	m.Sweep(context.Background())

	// Upstream breaks transiently.
	f.client.errs["232447"] = errors.New("503 service unavailable")
	m.Sweep(context.Background())

	if len(f.notifier.calls) != 1 {
		t.Errorf("got %d notifier calls after outage, want the original 1: %+v", len(f.notifier.calls), f.notifier.calls)
	}
	state, _ := f.states.LoadState(context.Background(), "100", "trip")
	if state == nil || !state.LastMatch {
		t.Errorf("state after outage = %+v, want LastMatch preserved", state)
	}

	// Upstream recovers, availability unchanged: still silent.
	delete(f.client.errs, "232447")
	m.Sweep(context.Background())
	if got := f.notifier.callsOf("found"); len(got) != 1 {
		t.Errorf("got %d found notifications after recovery, want 1", len(got))
	}
}

// A permanently failing park notifies the user once, not on every pass.
func TestSweepPermanentFailureNotifiesOnce(t *testing.T) {
	f := newFixture(user("100", search("trip", "999999")))
	f.client.errs["999999"] = errors.New("404 campground not found")
	m := New(&Config{
		Client:   f.client,
		Configs:  f.configs,
		States:   f.states,
		Notifier: f.notifier,
		Logger:   testLogger(),
		Budget:   time.Hour,
		Clock:    f.clock.Now,
		Classify: func(error) notifier.ErrorKind { return notifier.ErrorPermanent },
	})

	for range 3 {
		m.Sweep(context.Background())
	}

	if got := f.notifier.callsOf("error"); len(got) != 1 {
		t.Errorf("got %d error notifications over 3 sweeps, want 1", len(got))
	}
}

// Two users watching the same park over the same dates share one
// upstream fetch per sweep.
func TestSweepSharesParkFetches(t *testing.T) {
	f := newFixture(
		user("100", search("a", "232447")),
		user("200", search("b", "232447")),
	)
	f.client.parks["232447"] = openPark("232447")
	m := f.monitor(time.Hour)

	m.Sweep(context.Background())

	if got := f.client.callCount(); got != 1 {
		t.Errorf("client called %d times for shared park and dates, want 1", got)
	}
}

// Searches that can never match make no upstream calls at all.
func TestSweepInfeasibleSearchSkipsFetch(t *testing.T) {
	s := search("too-long", "232447")
	s.Nights = 30 // span holds 5 days

	f := newFixture(user("100", s))
	m := f.monitor(time.Hour)

	summary := m.Sweep(context.Background())

	if got := f.client.callCount(); got != 0 {
		t.Errorf("client called %d times for infeasible search, want 0", got)
	}
	if summary.SearchesProcessed != 1 {
		t.Errorf("SearchesProcessed = %d, want 1", summary.SearchesProcessed)
	}
	if summary.AvailabilitiesFound != 0 {
		t.Errorf("AvailabilitiesFound = %d, want 0", summary.AvailabilitiesFound)
	}
}

func TestSweepSkipsDisabledSearches(t *testing.T) {
	s := search("paused", "232447")
	s.Enabled = false

	f := newFixture(user("100", s))
	f.client.parks["232447"] = openPark("232447")
	m := f.monitor(time.Hour)

	summary := m.Sweep(context.Background())

	if summary.SearchesProcessed != 0 {
		t.Errorf("SearchesProcessed = %d, want 0 for disabled search", summary.SearchesProcessed)
	}
	if got := f.client.callCount(); got != 0 {
		t.Errorf("client called %d times, want 0", got)
	}
}

func TestSweepRecordsDeliveryFailure(t *testing.T) {
	f := newFixture(user("100", search("trip", "232447")))
	f.client.parks["232447"] = openPark("232447")
	f.notifier.sendErr = errors.New("telegram unreachable")
	m := f.monitor(time.Hour)

	summary := m.Sweep(context.Background())

	if summary.NotificationsSent != 0 {
		t.Errorf("NotificationsSent = %d, want 0", summary.NotificationsSent)
	}
	if len(summary.Outcomes) != 1 || summary.Outcomes[0].DeliveryError == "" {
		t.Errorf("outcomes = %+v, want delivery error recorded", summary.Outcomes)
	}
}

func TestSweepDoesNotRetryFailedDelivery(t *testing.T) {
	f := newFixture(user("100", search("trip", "232447")))
	f.client.parks["232447"] = openPark("232447")
	f.notifier.sendErr = errors.New("telegram unreachable")
	m := f.monitor(time.Hour)

	m.Sweep(context.Background())
	f.notifier.sendErr = nil
	summary := m.Sweep(context.Background())

	// The first sweep recorded the state transition, so the second sweep
	// suppresses even though the user never received the message.
	if got := f.notifier.callsOf("found"); len(got) != 1 {
		t.Errorf("got %d found attempts, want 1 (no redelivery)", len(got))
	}
	if summary.NotificationsSent != 0 {
		t.Errorf("second sweep NotificationsSent = %d, want 0", summary.NotificationsSent)
	}
}

func TestCheckUserSendsSummary(t *testing.T) {
	f := newFixture(user("100", search("trip", "232447")))
	f.client.parks["232447"] = openPark("232447")
	m := f.monitor(time.Hour)

	summary := m.CheckUser(context.Background(), "100")

	if summary.Error != "" {
		t.Fatalf("summary.Error = %q", summary.Error)
	}
	if summary.SearchesProcessed != 1 || summary.AvailabilitiesFound != 1 {
		t.Errorf("processed=%d found=%d, want 1/1", summary.SearchesProcessed, summary.AvailabilitiesFound)
	}
	if got := f.notifier.callsOf("summary"); len(got) != 1 || got[0].userID != "100" {
		t.Errorf("summary calls = %+v, want one for user 100", got)
	}
}

func TestCheckUserUnknown(t *testing.T) {
	f := newFixture()
	m := f.monitor(time.Hour)

	summary := m.CheckUser(context.Background(), "404")
	if summary.Error == "" {
		t.Error("summary.Error empty for unknown user, want load failure")
	}
	if len(f.notifier.calls) != 0 {
		t.Errorf("notifier called %d times for unknown user, want 0", len(f.notifier.calls))
	}
}

func TestBudget(t *testing.T) {
	clock := newFakeClock()
	b := NewBudget(time.Minute, clock.Now)

	if !b.Enough(30 * time.Second) {
		t.Error("fresh budget should have 30s available")
	}
	clock.Advance(50 * time.Second)
	if b.Enough(30 * time.Second) {
		t.Error("10s remaining should not satisfy a 30s estimate")
	}
	if !b.Enough(10 * time.Second) {
		t.Error("exactly 10s remaining should satisfy a 10s estimate")
	}
	clock.Advance(time.Minute)
	if b.Remaining() >= 0 {
		t.Errorf("Remaining() = %v after deadline, want negative", b.Remaining())
	}
}
