package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ParseError reports an RRULE string the expander cannot work with. Callers
// leave the master event unexpanded when they see one.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid RRULE %q: %s", e.Raw, e.Reason)
}

// Rule is a validated recurrence rule. Only the frequencies a calendar feed
// realistically carries are admitted; sub-daily rules are rejected before
// they can explode the expansion.
type Rule struct {
	Freq       string
	Interval   int
	Count      int
	Until      *time.Time
	ByDay      []string
	ByMonth    []int
	ByMonthDay []int

	raw string
}

var validFreqs = map[string]bool{
	"DAILY":   true,
	"WEEKLY":  true,
	"MONTHLY": true,
	"YEARLY":  true,
}

var validWeekdays = map[string]bool{
	"MO": true, "TU": true, "WE": true, "TH": true,
	"FR": true, "SA": true, "SU": true,
}

// Parse validates an RRULE value string like
// FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;UNTIL=20251028T120000Z.
func Parse(raw string) (*Rule, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:"))
	if trimmed == "" {
		return nil, &ParseError{Raw: raw, Reason: "empty rule"}
	}

	rule := &Rule{Interval: 1, raw: trimmed}
	for _, part := range strings.Split(trimmed, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("malformed component %q", part)}
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			freq := strings.ToUpper(value)
			if !validFreqs[freq] {
				return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("unsupported FREQ %q", value)}
			}
			rule.Freq = freq
		case "INTERVAL":
			n, err := parsePositiveInt(value)
			if err != nil {
				return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("INTERVAL %q: %v", value, err)}
			}
			rule.Interval = n
		case "COUNT":
			n, err := parsePositiveInt(value)
			if err != nil {
				return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("COUNT %q: %v", value, err)}
			}
			rule.Count = n
		case "UNTIL":
			t, err := parseUntil(value)
			if err != nil {
				return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("UNTIL %q: %v", value, err)}
			}
			rule.Until = &t
		case "BYDAY":
			for _, day := range strings.Split(strings.ToUpper(value), ",") {
				day = strings.TrimSpace(day)
				if !validByDay(day) {
					return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("BYDAY token %q", day)}
				}
				rule.ByDay = append(rule.ByDay, day)
			}
		case "BYMONTH":
			months, err := parseIntList(value, 1, 12)
			if err != nil {
				return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("BYMONTH %q: %v", value, err)}
			}
			rule.ByMonth = months
		case "BYMONTHDAY":
			days, err := parseIntList(value, -31, 31)
			if err != nil {
				return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("BYMONTHDAY %q: %v", value, err)}
			}
			rule.ByMonthDay = days
		}
	}

	if rule.Freq == "" {
		return nil, &ParseError{Raw: raw, Reason: "missing FREQ"}
	}
	return rule, nil
}

// materialize binds the rule to a concrete series start and returns the
// rrule-go iterator source.
func (r *Rule) materialize(dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(r.raw)
	if err != nil {
		return nil, &ParseError{Raw: r.raw, Reason: err.Error()}
	}
	opt.Dtstart = dtstart
	out, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &ParseError{Raw: r.raw, Reason: err.Error()}
	}
	return out, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

func parseIntList(s string, min, max int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("not an integer")
		}
		if n == 0 || n < min || n > max {
			return nil, fmt.Errorf("%d out of range", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func validByDay(token string) bool {
	if token == "" {
		return false
	}
	day := token
	if i := strings.IndexAny(token, "MTWFS"); i > 0 {
		ord := token[:i]
		day = token[i:]
		if _, err := strconv.Atoi(ord); err != nil {
			return false
		}
	}
	return validWeekdays[day]
}

// parseUntil accepts the UTC form 20060102T150405Z and, leniently, the bare
// date form some feeds emit for all-day series.
func parseUntil(s string) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("20060102", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("not in YYYYMMDDThhmmssZ form")
}
