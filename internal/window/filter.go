package window

import (
	"fmt"
	"sort"
	"time"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

// FilterUpcoming keeps events that are still ahead of now: timed events with
// start strictly after now, and all-day events whose calendar date in loc is
// today or later. Events without a usable start are dropped with a warning.
func FilterUpcoming(events []model.Event, now time.Time, loc *time.Location) ([]model.Event, []string) {
	if loc == nil {
		loc = time.UTC
	}
	today := timeutil.StartOfDay(now, loc)

	var (
		kept     []model.Event
		warnings []string
	)
	for _, ev := range events {
		if ev.Start.IsZero() {
			warnings = append(warnings, fmt.Sprintf("dropping event %q: no start time", ev.ID))
			continue
		}
		if ev.IsAllDay {
			if !timeutil.StartOfDay(ev.Start.Instant, loc).Before(today) {
				kept = append(kept, ev)
			}
			continue
		}
		if ev.Start.Instant.After(now) {
			kept = append(kept, ev)
		}
	}
	return kept, warnings
}

// FilterSkipped drops events whose ID appears in the skipped set. A nil set
// is the identity.
func FilterSkipped(events []model.Event, skipped map[string]string) []model.Event {
	if len(skipped) == 0 {
		return events
	}
	kept := events[:0:0]
	for _, ev := range events {
		if _, ok := skipped[ev.ID]; ok {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// FilterServeable drops events a consumer never wants spoken: cancelled
// events and events marked free.
func FilterServeable(events []model.Event) []model.Event {
	kept := events[:0:0]
	for _, ev := range events {
		if ev.IsCancelled || ev.ShowAs == model.ShowAsFree {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// SortEvents orders events ascending by start instant, breaking ties on ID
// so the published order is total.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Instant.Equal(b.Start.Instant) {
			return a.Start.Instant.Before(b.Start.Instant)
		}
		return a.ID < b.ID
	})
}

// SmartFallback decides whether a refresh result should replace the current
// window. The only preserve case: the refresh produced nothing while the
// window still holds events, which reads as "all sources failed".
func SmartFallback(parsedCount, existingCount, sourcesCount int) (bool, string) {
	if parsedCount == 0 && existingCount > 0 {
		return true, fmt.Sprintf("all %d sources failed, preserving %d existing events", sourcesCount, existingCount)
	}
	if parsedCount == 0 {
		return false, fmt.Sprintf("all %d sources failed, no cached events", sourcesCount)
	}
	return false, "processing new events normally"
}
