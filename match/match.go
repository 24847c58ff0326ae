// Package match decides whether raw day-level availability satisfies a
// search's constraints. Pure functions, no I/O.
package match

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"campsite-notifier/pkg/notifier"
)

// Weekend rule: a candidate window qualifies for weekends_only searches
// when its first night falls on one of these days.
var weekendStartDays = map[time.Weekday]bool{
	time.Friday:   true,
	time.Saturday: true,
}

// Criteria is the parsed, validated form of a search. Compile once per
// evaluation; the zero value is not usable.
type Criteria struct {
	Parks        []string // de-duplicated, original order
	Start        time.Time
	End          time.Time
	Nights       int
	WeekendsOnly bool
	CampsiteType string
	CampsiteIDs  map[string]bool
}

// Compile validates a search and resolves its defaults. Errors indicate a
// malformed search record, not an upstream condition.
func Compile(s *notifier.Search) (*Criteria, error) {
	if s.Name == "" {
		return nil, errors.New("search has no name")
	}

	start, err := time.ParseInLocation(notifier.DateLayout, s.StartDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse start_date %q: %w", s.StartDate, err)
	}
	end, err := time.ParseInLocation(notifier.DateLayout, s.EndDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse end_date %q: %w", s.EndDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end_date %s before start_date %s", s.EndDate, s.StartDate)
	}
	if s.Nights < 0 {
		return nil, fmt.Errorf("nights must be positive, got %d", s.Nights)
	}

	nights := s.Nights
	if nights == 0 {
		// Default: the full span.
		nights = spanDays(start, end)
	}

	c := &Criteria{
		Parks:        dedupe(s.Parks),
		Start:        start,
		End:          end,
		Nights:       nights,
		WeekendsOnly: s.WeekendsOnly,
		CampsiteType: s.CampsiteType,
	}
	if len(s.CampsiteIDs) > 0 {
		c.CampsiteIDs = make(map[string]bool, len(s.CampsiteIDs))
		for _, id := range s.CampsiteIDs {
			c.CampsiteIDs[id] = true
		}
	}
	return c, nil
}

// Feasible reports whether the criteria can ever match. A search asking
// for more nights than its span holds is permanently non-matching, which
// is not an error: no availability call is worth making for it.
func (c *Criteria) Feasible() bool {
	return len(c.Parks) > 0 && c.Nights <= spanDays(c.Start, c.End)
}

// Evaluate computes the match result for the parks that produced data plus
// the recorded failures. Parks are scanned in their criteria order and
// sites in ID order, so the window list is deterministic.
func (c *Criteria) Evaluate(parks []*notifier.ParkAvailability, failures []notifier.ParkFailure) *notifier.MatchResult {
	result := &notifier.MatchResult{
		ParksFailed: failures,
	}

	for _, park := range parks {
		result.ParksChecked = append(result.ParksChecked, park.ParkID)
		for _, siteID := range sortedSiteIDs(park.Sites) {
			site := park.Sites[siteID]
			if !c.siteEligible(site) {
				continue
			}
			result.Windows = append(result.Windows, c.siteWindows(park.ParkID, site)...)
		}
	}

	result.HasAvailability = len(result.Windows) > 0
	return result
}

func (c *Criteria) siteEligible(site *notifier.Campsite) bool {
	if c.CampsiteType != "" && site.Type != c.CampsiteType {
		return false
	}
	if c.CampsiteIDs != nil && !c.CampsiteIDs[site.ID] {
		return false
	}
	return true
}

// siteWindows scans one site's date-ordered availability and emits every
// window of exactly Nights consecutive open days fully contained in a
// maximal open run.
func (c *Criteria) siteWindows(parkID string, site *notifier.Campsite) []notifier.Window {
	days := c.days()
	open := make([]bool, len(days))
	for i, d := range days {
		open[i] = site.Available[d.Format(notifier.DateLayout)]
	}

	var windows []notifier.Window
	runStart := -1
	for i := 0; i <= len(open); i++ {
		inRun := i < len(open) && open[i]
		if inRun && runStart < 0 {
			runStart = i
		}
		if !inRun && runStart >= 0 {
			windows = append(windows, c.runWindows(parkID, site, days, runStart, i-1)...)
			runStart = -1
		}
	}
	return windows
}

func (c *Criteria) runWindows(parkID string, site *notifier.Campsite, days []time.Time, runStart, runEnd int) []notifier.Window {
	var windows []notifier.Window
	for s := runStart; s+c.Nights-1 <= runEnd; s++ {
		if c.WeekendsOnly && !weekendStartDays[days[s].Weekday()] {
			continue
		}
		windows = append(windows, notifier.Window{
			ParkID: parkID,
			SiteID: site.ID,
			Site:   site.Site,
			Start:  days[s],
			Nights: c.Nights,
		})
	}
	return windows
}

// days returns every calendar day in [Start, End], in order.
func (c *Criteria) days() []time.Time {
	out := make([]time.Time, 0, spanDays(c.Start, c.End))
	for d := c.Start; !d.After(c.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// spanDays counts calendar days in the inclusive range [start, end].
func spanDays(start, end time.Time) int {
	return int(end.Sub(start)/(24*time.Hour)) + 1
}

func dedupe(parks []string) []string {
	seen := make(map[string]bool, len(parks))
	out := make([]string, 0, len(parks))
	for _, p := range parks {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func sortedSiteIDs(sites map[string]*notifier.Campsite) []string {
	ids := make([]string, 0, len(sites))
	for id := range sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
