package poll

import "time"

// Budget tracks the hard deadline for one monitoring pass. The deadline
// is fixed at construction; Remaining is re-evaluated against the
// injected clock so truncation behavior is testable without real time.
type Budget struct {
	deadline time.Time
	clock    func() time.Time
}

// NewBudget starts a budget of duration d from the clock's current time.
func NewBudget(d time.Duration, clock func() time.Time) *Budget {
	return &Budget{
		deadline: clock().Add(d),
		clock:    clock,
	}
}

// Deadline returns the instant after which no new work may start.
func (b *Budget) Deadline() time.Time { return b.deadline }

// Remaining returns the time left before the deadline. Negative once the
// budget is exhausted.
func (b *Budget) Remaining() time.Duration {
	return b.deadline.Sub(b.clock())
}

// Enough reports whether at least estimate remains. Checked before each
// user and each search; work already started is never aborted.
func (b *Budget) Enough(estimate time.Duration) bool {
	return b.Remaining() >= estimate
}
