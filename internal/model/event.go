package model

import (
	"strings"
	"time"
)

// ShowAs mirrors the busy-status of an event as calendar providers report it.
type ShowAs string

const (
	ShowAsFree      ShowAs = "FREE"
	ShowAsTentative ShowAs = "TENTATIVE"
	ShowAsBusy      ShowAs = "BUSY"
	ShowAsOOF       ShowAs = "OOF"
	ShowAsUnknown   ShowAs = "UNKNOWN"
)

// EventTime pairs an absolute UTC instant with the IANA timezone the event
// was authored in. The instant is authoritative; the timezone name is kept
// for local-date computations and display.
type EventTime struct {
	Instant  time.Time
	Timezone string
}

// IsZero reports whether the instant was never set.
func (t EventTime) IsZero() bool { return t.Instant.IsZero() }

// In returns the instant in the given location, falling back to UTC.
func (t EventTime) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return t.Instant.In(loc)
}

// Attendee is a minimal name/email pair. Attendees only participate in
// deduplication tie-breaking; no scheduling semantics are attached.
type Attendee struct {
	Name  string
	Email string
}

// Event is the normalized calendar event flowing through the pipeline and
// held in the event window. Expanded recurrence instances are distinct
// events whose ID carries the occurrence timestamp and whose RRuleMasterUID
// points back to the master.
type Event struct {
	ID      string
	Subject string
	Body    string

	Start EventTime
	End   EventTime

	IsAllDay    bool
	ShowAs      ShowAs
	IsCancelled bool

	Location         string
	IsOnlineMeeting  bool
	OnlineMeetingURL string

	IsRecurring    bool
	RRule          string
	ExDates        []string
	RRuleMasterUID string

	LastModified *time.Time
	Attendees    []Attendee
}

// Duration is the span between start and end. Events missing an end report
// zero.
func (e *Event) Duration() time.Duration {
	if e.Start.IsZero() || e.End.IsZero() {
		return 0
	}
	return e.End.Instant.Sub(e.Start.Instant)
}

// InstanceID builds the identifier of an expanded occurrence of this event.
func (e *Event) InstanceID(occurrence time.Time) string {
	return e.ID + ":" + occurrence.UTC().Format("20060102T150405Z")
}

// IsInstance reports whether the event is an expanded recurrence instance.
func (e *Event) IsInstance() bool { return e.RRuleMasterUID != "" }

// InfoScore ranks duplicate events by how much information they carry.
// Used by the dedupe stage to keep the richer copy.
func (e *Event) InfoScore() int {
	score := 0
	if strings.TrimSpace(e.Body) != "" {
		score++
	}
	if len(e.Attendees) > 0 {
		score += 2
	}
	if strings.TrimSpace(e.Location) != "" {
		score++
	}
	if e.OnlineMeetingURL != "" {
		score++
	}
	return score
}

// CalendarMetadata carries calendar-level properties surfaced by the parser.
type CalendarMetadata struct {
	Name        string
	Description string
	Timezone    string
	ProdID      string
}
