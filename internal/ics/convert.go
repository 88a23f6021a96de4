package ics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

// maxSubjectRunes clamps absurdly long summaries before they reach speech
// rendering.
const maxSubjectRunes = 512

var onlineMeetingPattern = regexp.MustCompile(
	`https?://[^\s<>"]*(?:teams\.microsoft\.com|teams\.live\.com|zoom\.us|meet\.google\.com|webex\.com)[^\s<>"]*`)

// EventFromComponent converts a parsed VEVENT into the normalized event
// model. defaultTZ names the calendar timezone used for floating times and
// all-day dates; empty means UTC.
func EventFromComponent(comp *ical.Component, sourceURL, defaultTZ string) (model.Event, []string, error) {
	var warnings []string
	ev := model.Event{ShowAs: model.ShowAsBusy}

	loc := timeutil.LocationOrUTC(defaultTZ)
	tzName := defaultTZ
	if tzName == "" {
		tzName = "UTC"
	}

	summary := propText(comp, ical.PropSummary)
	if n := len([]rune(summary)); n > maxSubjectRunes {
		summary = string([]rune(summary)[:maxSubjectRunes])
		warnings = append(warnings, fmt.Sprintf("subject truncated to %d runes", maxSubjectRunes))
	}
	ev.Subject = summary
	ev.Body = propText(comp, ical.PropDescription)
	ev.Location = propText(comp, ical.PropLocation)

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return ev, warnings, fmt.Errorf("missing DTSTART")
	}
	start, allDay, startTZ, err := parseDateTimeProp(dtstart, loc, tzName)
	if err != nil {
		return ev, warnings, fmt.Errorf("invalid DTSTART: %w", err)
	}
	ev.Start = model.EventTime{Instant: start, Timezone: startTZ}
	ev.IsAllDay = allDay

	if uid := comp.Props.Get(ical.PropUID); uid != nil && strings.TrimSpace(uid.Value) != "" {
		ev.ID = strings.TrimSpace(uid.Value)
	} else {
		seed := sourceURL + "|" + ev.Subject + "|" + dtstart.Value
		ev.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
		warnings = append(warnings, "event missing UID, derived one")
	}

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, _, endTZ, err := parseDateTimeProp(comp.Props.Get(ical.PropDateTimeEnd), loc, tzName)
		if err != nil {
			return ev, warnings, fmt.Errorf("invalid DTEND: %w", err)
		}
		ev.End = model.EventTime{Instant: end, Timezone: endTZ}
	case comp.Props.Get(ical.PropDuration) != nil:
		dur, err := parseDuration(comp.Props.Get(ical.PropDuration).Value)
		if err != nil {
			return ev, warnings, fmt.Errorf("invalid DURATION: %w", err)
		}
		ev.End = model.EventTime{Instant: start.Add(dur), Timezone: startTZ}
	case allDay:
		ev.End = model.EventTime{Instant: start.Add(24 * time.Hour), Timezone: startTZ}
	default:
		ev.End = ev.Start
	}

	if status := comp.Props.Get(ical.PropStatus); status != nil {
		if strings.EqualFold(strings.TrimSpace(status.Value), "CANCELLED") {
			ev.IsCancelled = true
		}
	}
	applyShowAs(&ev, comp)

	if rr := comp.Props.Get(ical.PropRecurrenceRule); rr != nil && strings.TrimSpace(rr.Value) != "" {
		ev.IsRecurring = true
		ev.RRule = strings.TrimSpace(rr.Value)
	}
	for _, exProp := range comp.Props.Values(ical.PropExceptionDates) {
		tzid := exProp.Params.Get(ical.ParamTimezoneID)
		for _, val := range strings.Split(exProp.Value, ",") {
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			if tzid != "" && !strings.HasSuffix(val, "Z") {
				ev.ExDates = append(ev.ExDates, "TZID="+tzid+":"+val)
			} else {
				ev.ExDates = append(ev.ExDates, val)
			}
		}
	}

	if lm := comp.Props.Get(ical.PropLastModified); lm != nil {
		if t, _, _, err := parseDateTimeValue(lm.Value, time.UTC, "UTC"); err == nil {
			utc := t.UTC()
			ev.LastModified = &utc
		}
	}

	for _, attProp := range comp.Props.Values(ical.PropAttendee) {
		attendee := model.Attendee{
			Name:  attProp.Params.Get(ical.ParamCommonName),
			Email: strings.TrimPrefix(strings.TrimSpace(attProp.Value), "mailto:"),
		}
		ev.Attendees = append(ev.Attendees, attendee)
	}

	detectOnlineMeeting(&ev, comp)

	return ev, warnings, nil
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	if text, err := prop.Text(); err == nil {
		return text
	}
	return prop.Value
}

func applyShowAs(ev *model.Event, comp *ical.Component) {
	if busy := comp.Props.Get("X-MICROSOFT-CDO-BUSYSTATUS"); busy != nil {
		switch strings.ToUpper(strings.TrimSpace(busy.Value)) {
		case "FREE":
			ev.ShowAs = model.ShowAsFree
		case "TENTATIVE":
			ev.ShowAs = model.ShowAsTentative
		case "BUSY":
			ev.ShowAs = model.ShowAsBusy
		case "OOF":
			ev.ShowAs = model.ShowAsOOF
		default:
			ev.ShowAs = model.ShowAsUnknown
		}
		return
	}
	if transp := comp.Props.Get(ical.PropTransparency); transp != nil {
		if strings.EqualFold(strings.TrimSpace(transp.Value), "TRANSPARENT") {
			ev.ShowAs = model.ShowAsFree
		}
	}
}

func detectOnlineMeeting(ev *model.Event, comp *ical.Component) {
	candidates := []string{}
	for _, name := range []string{"X-MICROSOFT-ONLINEMEETINGURL", "X-MICROSOFT-SKYPETEAMSMEETINGURL"} {
		if prop := comp.Props.Get(name); prop != nil {
			candidates = append(candidates, prop.Value)
		}
	}
	if prop := comp.Props.Get(ical.PropURL); prop != nil {
		candidates = append(candidates, prop.Value)
	}
	candidates = append(candidates, ev.Location, ev.Body)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if m := onlineMeetingPattern.FindString(c); m != "" {
			ev.IsOnlineMeeting = true
			ev.OnlineMeetingURL = m
			return
		}
	}
}

// parseDateTimeProp resolves DTSTART/DTEND values, honoring the VALUE=DATE
// and TZID parameters. Returns the instant, an all-day flag, and the
// timezone name the value was anchored to.
func parseDateTimeProp(prop *ical.Prop, defaultLoc *time.Location, defaultTZ string) (time.Time, bool, string, error) {
	loc := defaultLoc
	tzName := defaultTZ
	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if l, err := timeutil.LoadLocation(tzid); err == nil {
			loc = l
			tzName = tzid
		}
	}
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") {
		t, err := time.ParseInLocation("20060102", strings.TrimSpace(prop.Value), loc)
		if err != nil {
			return time.Time{}, false, "", err
		}
		return t, true, tzName, nil
	}
	return parseDateTimeValue(prop.Value, loc, tzName)
}

// parseDateTimeValue parses the three RFC 5545 date-time shapes: date only,
// floating local time, and UTC-suffixed.
func parseDateTimeValue(value string, loc *time.Location, tzName string) (time.Time, bool, string, error) {
	s := strings.TrimSpace(value)
	switch {
	case len(s) == 8:
		t, err := time.ParseInLocation("20060102", s, loc)
		return t, true, tzName, err
	case len(s) == 16 && strings.HasSuffix(s, "Z"):
		t, err := time.Parse("20060102T150405Z", s)
		return t, false, "UTC", err
	case len(s) == 15:
		t, err := time.ParseInLocation("20060102T150405", s, loc)
		return t, false, tzName, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, "", fmt.Errorf("unrecognized date-time %q", clip(s, 24))
	}
	return t, false, tzName, nil
}

// parseDuration handles the ISO 8601 subset RFC 5545 uses: P[nD][T[nH][nM][nS]]
// with an optional leading sign.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", clip(raw, 20))
	}

	var (
		total   time.Duration
		current strings.Builder
		inTime  bool
	)
	num := func() (int, error) {
		n := 0
		str := current.String()
		current.Reset()
		if str == "" {
			return 0, fmt.Errorf("invalid duration %q", clip(raw, 20))
		}
		for _, r := range str {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid duration %q", clip(raw, 20))
			}
			n = n*10 + int(r-'0')
		}
		return n, nil
	}
	for _, r := range s[1:] {
		switch r {
		case 'T':
			inTime = true
			current.Reset()
		case 'W':
			n, err := num()
			if err != nil {
				return 0, err
			}
			total += time.Duration(n) * 7 * 24 * time.Hour
		case 'D':
			n, err := num()
			if err != nil {
				return 0, err
			}
			total += time.Duration(n) * 24 * time.Hour
		case 'H':
			n, err := num()
			if err != nil || !inTime {
				return 0, fmt.Errorf("invalid duration %q", clip(raw, 20))
			}
			total += time.Duration(n) * time.Hour
		case 'M':
			n, err := num()
			if err != nil || !inTime {
				return 0, fmt.Errorf("invalid duration %q", clip(raw, 20))
			}
			total += time.Duration(n) * time.Minute
		case 'S':
			n, err := num()
			if err != nil || !inTime {
				return 0, fmt.Errorf("invalid duration %q", clip(raw, 20))
			}
			total += time.Duration(n) * time.Second
		default:
			current.WriteRune(r)
		}
	}
	if neg {
		total = -total
	}
	return total, nil
}
