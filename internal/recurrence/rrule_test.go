package recurrence

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseValidRules(t *testing.T) {
	rule, err := Parse("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;UNTIL=20251028T120000Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.Freq != "WEEKLY" {
		t.Errorf("freq = %q", rule.Freq)
	}
	if rule.Interval != 2 {
		t.Errorf("interval = %d", rule.Interval)
	}
	if len(rule.ByDay) != 2 || rule.ByDay[0] != "MO" || rule.ByDay[1] != "WE" {
		t.Errorf("byday = %v", rule.ByDay)
	}
	wantUntil := time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)
	if rule.Until == nil || !rule.Until.Equal(wantUntil) {
		t.Errorf("until = %v", rule.Until)
	}

	rule, err = Parse("FREQ=MONTHLY;BYMONTHDAY=15;COUNT=6")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.Count != 6 {
		t.Errorf("count = %d", rule.Count)
	}
	if len(rule.ByMonthDay) != 1 || rule.ByMonthDay[0] != 15 {
		t.Errorf("bymonthday = %v", rule.ByMonthDay)
	}

	rule, err = Parse("FREQ=YEARLY;BYMONTH=3,9")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rule.ByMonth) != 2 {
		t.Errorf("bymonth = %v", rule.ByMonth)
	}
}

func TestParseDefaults(t *testing.T) {
	rule, err := Parse("FREQ=DAILY")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.Interval != 1 {
		t.Errorf("default interval = %d", rule.Interval)
	}
	if rule.Count != 0 || rule.Until != nil {
		t.Errorf("unexpected bounds: count=%d until=%v", rule.Count, rule.Until)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		raw    string
		reason string
	}{
		{"", "empty"},
		{"INTERVAL=2", "missing FREQ"},
		{"FREQ=SECONDLY", "unsupported FREQ"},
		{"FREQ=HOURLY", "unsupported FREQ"},
		{"FREQ=WEEKLY;INTERVAL=0", "INTERVAL"},
		{"FREQ=WEEKLY;INTERVAL=abc", "INTERVAL"},
		{"FREQ=WEEKLY;COUNT=-3", "COUNT"},
		{"FREQ=WEEKLY;UNTIL=tomorrow", "UNTIL"},
		{"FREQ=WEEKLY;BYDAY=XX", "BYDAY"},
		{"FREQ=WEEKLY;BYMONTH=13", "BYMONTH"},
		{"FREQ=", "malformed"},
	}
	for _, tc := range cases {
		_, err := Parse(tc.raw)
		if err == nil {
			t.Errorf("Parse(%q): expected error", tc.raw)
			continue
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Parse(%q): error type %T", tc.raw, err)
		}
		if !strings.Contains(err.Error(), tc.reason) {
			t.Errorf("Parse(%q): error %q missing %q", tc.raw, err, tc.reason)
		}
	}
}

func TestApplyExDatesIdentity(t *testing.T) {
	occ := []time.Time{
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}
	kept, warnings := ApplyExDates(occ, nil)
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(kept) != len(occ) {
		t.Fatalf("kept = %d", len(kept))
	}
	for i := range occ {
		if !kept[i].Equal(occ[i]) {
			t.Errorf("occurrence %d changed", i)
		}
	}
}

func TestApplyExDatesMatching(t *testing.T) {
	occ := []time.Time{
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC),
	}

	kept, warnings := ApplyExDates(occ, []string{"20260309T100000Z"})
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %d", len(kept))
	}
	if kept[0].Day() != 2 || kept[1].Day() != 16 {
		t.Errorf("wrong occurrences kept: %v", kept)
	}
}

func TestApplyExDatesTZIDForm(t *testing.T) {
	// 10:00 in Berlin is 09:00 UTC in March (CET).
	occ := []time.Time{time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)}
	kept, warnings := ApplyExDates(occ, []string{"TZID=Europe/Berlin:20260309T100000"})
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(kept) != 0 {
		t.Errorf("expected exclusion, kept %v", kept)
	}
}

func TestApplyExDatesTolerance(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	within := []time.Time{base.Add(900 * time.Millisecond)}
	kept, _ := ApplyExDates(within, []string{"20260309T100000Z"})
	if len(kept) != 0 {
		t.Errorf("sub-second drift should still match")
	}

	outside := []time.Time{base.Add(2 * time.Second)}
	kept, _ = ApplyExDates(outside, []string{"20260309T100000Z"})
	if len(kept) != 1 {
		t.Errorf("2s drift should not match")
	}
}

func TestApplyExDatesUnparseable(t *testing.T) {
	occ := []time.Time{time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)}
	kept, warnings := ApplyExDates(occ, []string{"not-a-date", "20260309T100000Z"})
	if len(kept) != 0 {
		t.Errorf("valid exdate ignored")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "not-a-date") {
		t.Errorf("warnings = %v", warnings)
	}
}
