package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

// exDateTolerance absorbs sub-second drift between an EXDATE and the
// occurrence it targets (providers disagree about rounding).
const exDateTolerance = time.Second

// ApplyExDates removes occurrences matching any EXDATE entry within the
// tolerance. Unparseable entries are skipped and reported as warnings;
// applying an empty list is the identity.
func ApplyExDates(occurrences []time.Time, exdates []string) ([]time.Time, []string) {
	if len(exdates) == 0 {
		return occurrences, nil
	}

	var (
		excluded []time.Time
		warnings []string
	)
	for _, raw := range exdates {
		t, err := parseExDate(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping EXDATE %q: %v", raw, err))
			continue
		}
		excluded = append(excluded, t)
	}
	if len(excluded) == 0 {
		return occurrences, warnings
	}

	var kept []time.Time
	for _, occ := range occurrences {
		match := false
		for _, ex := range excluded {
			d := occ.Sub(ex)
			if d < 0 {
				d = -d
			}
			if d <= exDateTolerance {
				match = true
				break
			}
		}
		if !match {
			kept = append(kept, occ)
		}
	}
	return kept, warnings
}

// parseExDate accepts 20060102T150405Z, TZID=<iana>:20060102T150405, and the
// bare date form.
func parseExDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "TZID="); ok {
		tz, value, ok := strings.Cut(rest, ":")
		if !ok {
			return time.Time{}, fmt.Errorf("missing value after TZID")
		}
		loc, err := timeutil.LoadLocation(tz)
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.ParseInLocation("20060102T150405", strings.TrimSpace(value), loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad local timestamp: %w", err)
		}
		return t, nil
	}
	if t, err := time.Parse("20060102T150405Z", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("20060102", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized form")
}
