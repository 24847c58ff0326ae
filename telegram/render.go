package telegram

import (
	"fmt"
	"html"
	"strings"

	"campsite-notifier/pkg/notifier"
)

const (
	// Telegram rejects messages over 4096 characters; cap well below that
	// so the truncation marker always fits.
	maxMessageLen = 3000

	// Safety limit: a popular weekend can produce hundreds of windows.
	maxWindowsPerMessage = 5

	bookingURL = "https://www.recreation.gov/camping/campgrounds/%s"
)

// RenderFound formats an availability notification. Messages use
// Telegram HTML markup; user-controlled strings are escaped.
func RenderFound(search *notifier.Search, result *notifier.MatchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎉 <b>FOUND: %s</b>\n\n", html.EscapeString(search.Name))

	perPark := make(map[string]int)
	for _, w := range result.Windows {
		perPark[w.ParkID]++
	}
	for _, parkID := range result.ParksChecked {
		if n := perPark[parkID]; n > 0 {
			fmt.Fprintf(&b, "🏕 Park %s: %d open window(s)\n", html.EscapeString(parkID), n)
		}
	}

	b.WriteString("\n")
	for i, w := range result.Windows {
		if i == maxWindowsPerMessage {
			fmt.Fprintf(&b, "… and %d more\n", len(result.Windows)-maxWindowsPerMessage)
			break
		}
		site := w.Site
		if site == "" {
			site = w.SiteID
		}
		fmt.Fprintf(&b, "• Site %s from %s, %d night(s)\n",
			html.EscapeString(site), w.Start.Format("Mon Jan 2"), w.Nights)
	}

	b.WriteString("\n📅 <b>Book now:</b>\n")
	for _, parkID := range result.ParksChecked {
		if perPark[parkID] > 0 {
			fmt.Fprintf(&b, bookingURL+"\n", parkID)
		}
	}

	return truncate(b.String())
}

// RenderCleared formats an availability-disappeared notification.
func RenderCleared(search *notifier.Search) string {
	return truncate(fmt.Sprintf(
		"😔 <b>GONE: %s</b>\n\nThe availability for this search has been booked up. I'll keep watching. 🔍",
		html.EscapeString(search.Name)))
}

// RenderError formats a persistent-failure notification.
func RenderError(searchName, detail string) string {
	return truncate(fmt.Sprintf(
		"⚠️ <b>Error in search: %s</b>\n\n%s\n\nPlease check your search criteria.",
		html.EscapeString(searchName), html.EscapeString(detail)))
}

// RenderCheckSummary formats the wrap-up message after a manual check.
func RenderCheckSummary(found, total, failed int) string {
	var b strings.Builder
	b.WriteString("✅ <b>Manual Check Complete!</b>\n\n")
	if found > 0 {
		fmt.Fprintf(&b, "🎉 Found availability in %d of %d searches!\n\nDetailed results were sent above. 🏕", found, total)
	} else {
		fmt.Fprintf(&b, "❌ No availability found in %d search(es).\n\nI'll keep monitoring automatically. 🔍", total)
	}
	if failed > 0 {
		fmt.Fprintf(&b, "\n\n⚠️ %d search(es) had errors - check your search criteria.", failed)
	}
	return truncate(b.String())
}

func truncate(text string) string {
	if len(text) <= maxMessageLen {
		return text
	}
	return text[:maxMessageLen-50] + "...\n\n[Message truncated]"
}

// stripTags removes HTML markup for providers and fallback paths that
// only accept plain text.
func stripTags(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
