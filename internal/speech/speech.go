// Package speech turns structured meeting facts into voice output. Handlers
// never format sentences inline; they hand facts to a Presenter and embed
// whatever comes back.
package speech

import (
	"fmt"
	"time"
)

// Output bundles the plain sentence with optional SSML markup. SSML is empty
// when the active presenter produces none.
type Output struct {
	Text string
	SSML string
}

// Meeting is the subset of event facts the presenters speak about.
type Meeting struct {
	Subject  string
	Start    time.Time
	Until    time.Duration
	Location string
	IsOnline bool
}

// DoneForDay carries the end-of-day verdict.
type DoneForDay struct {
	HasMeetings bool
	Done        bool
	LocalEnd    time.Time
}

// LaunchSummary combines the in-progress, next, and done-for-day answers.
type LaunchSummary struct {
	InProgress *Meeting
	Next       *Meeting
	Done       DoneForDay
}

// MorningSummary carries the facts for the day-preview answer. FirstStart,
// LastEnd, and WakeUp are already in the caller's timezone.
type MorningSummary struct {
	PreviewFor  string
	Total       int
	AllDayCount int
	Density     string
	BackToBack  int
	EarlyStart  bool
	FirstStart  time.Time
	LastEnd     time.Time
	WakeUp      string
	Subjects    []string
}

// Presenter renders one answer kind into voice output.
type Presenter interface {
	NextMeeting(m *Meeting) Output
	TimeUntil(m *Meeting) Output
	DoneForDay(d DoneForDay) Output
	LaunchSummary(l LaunchSummary) Output
	MorningSummary(m MorningSummary) Output
}

// SpeakDuration renders a time-until as spoken text: seconds under a minute,
// minutes under an hour, then hours with a minute remainder. Anything
// negative already happened.
func SpeakDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs < 0:
		return "in the past"
	case secs < 60:
		return "in " + countNoun(int(secs), "second")
	case secs < 3600:
		return "in " + countNoun(int(secs/60), "minute")
	default:
		hours := int(secs / 3600)
		minutes := int(secs % 3600 / 60)
		if minutes == 0 {
			return "in " + countNoun(hours, "hour")
		}
		return fmt.Sprintf("in %s and %s", countNoun(hours, "hour"), countNoun(minutes, "minute"))
	}
}

// SpeakClock renders a local wall-clock time, e.g. "5:30 PM".
func SpeakClock(t time.Time) string {
	return t.Format("3:04 PM")
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func subjectOr(subject, fallback string) string {
	if subject == "" {
		return fallback
	}
	return subject
}
