package ics

import (
	"bytes"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
)

const prodID = "-//calendarbot//EN"

// Serialize renders a single event back into VCALENDAR bytes. The output is
// not byte-identical to the source feed; it preserves subject, start, end,
// all-day flag, and recurrence semantics.
func Serialize(ev model.Event) ([]byte, error) {
	cal := &ical.Calendar{
		Component: &ical.Component{
			Name:  ical.CompCalendar,
			Props: make(ical.Props),
		},
	}
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	comp := &ical.Component{Name: ical.CompEvent, Props: make(ical.Props)}
	comp.Props.Set(&ical.Prop{Name: ical.PropUID, Value: ev.ID})
	comp.Props.Set(&ical.Prop{
		Name:  ical.PropDateTimeStamp,
		Value: time.Now().UTC().Format("20060102T150405Z"),
	})

	setEventTime(comp, ical.PropDateTimeStart, ev.Start, ev.IsAllDay)
	if !ev.End.IsZero() {
		setEventTime(comp, ical.PropDateTimeEnd, ev.End, ev.IsAllDay)
	}

	if ev.Subject != "" {
		p := ical.NewProp(ical.PropSummary)
		p.SetText(ev.Subject)
		comp.Props.Set(p)
	}
	if ev.Body != "" {
		p := ical.NewProp(ical.PropDescription)
		p.SetText(ev.Body)
		comp.Props.Set(p)
	}
	if ev.Location != "" {
		p := ical.NewProp(ical.PropLocation)
		p.SetText(ev.Location)
		comp.Props.Set(p)
	}
	if ev.IsCancelled {
		comp.Props.Set(&ical.Prop{Name: ical.PropStatus, Value: "CANCELLED"})
	}
	if ev.ShowAs == model.ShowAsFree {
		comp.Props.Set(&ical.Prop{Name: ical.PropTransparency, Value: "TRANSPARENT"})
	}
	if ev.RRule != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropRecurrenceRule, Value: ev.RRule})
	}
	for _, ex := range ev.ExDates {
		p := ical.NewProp(ical.PropExceptionDates)
		if rest, ok := strings.CutPrefix(ex, "TZID="); ok {
			if tz, val, ok := strings.Cut(rest, ":"); ok {
				p.Params.Set(ical.ParamTimezoneID, tz)
				p.Value = val
			} else {
				p.Value = ex
			}
		} else {
			p.Value = ex
		}
		comp.Props.Add(p)
	}

	cal.Children = []*ical.Component{comp}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setEventTime(comp *ical.Component, name string, t model.EventTime, allDay bool) {
	p := ical.NewProp(name)
	if allDay {
		p.Params.Set(ical.ParamValue, "DATE")
		p.Value = t.Instant.Format("20060102")
	} else {
		p.Value = t.Instant.UTC().Format("20060102T150405Z")
	}
	comp.Props.Set(p)
}
