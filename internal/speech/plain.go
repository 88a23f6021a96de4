package speech

import (
	"fmt"
	"strings"
)

// Plain is the default presenter: plain sentences, no markup.
type Plain struct{}

func (Plain) NextMeeting(m *Meeting) Output {
	if m == nil {
		return Output{Text: "No upcoming meetings"}
	}
	subject := subjectOr(m.Subject, "an untitled meeting")
	text := fmt.Sprintf("Your next meeting is %s %s.", subject, SpeakDuration(m.Until))
	if m.Location != "" && !m.IsOnline {
		text = fmt.Sprintf("Your next meeting is %s %s, in %s.", subject, SpeakDuration(m.Until), m.Location)
	}
	return Output{Text: text}
}

func (Plain) TimeUntil(m *Meeting) Output {
	if m == nil {
		return Output{Text: "No upcoming meetings"}
	}
	return Output{Text: fmt.Sprintf("Your next meeting starts %s.", SpeakDuration(m.Until))}
}

func (Plain) DoneForDay(d DoneForDay) Output {
	if !d.HasMeetings {
		return Output{Text: "You have no meetings today!"}
	}
	if d.Done {
		return Output{Text: "You're all done for today!"}
	}
	return Output{Text: fmt.Sprintf("You'll be done at %s.", SpeakClock(d.LocalEnd))}
}

func (p Plain) LaunchSummary(l LaunchSummary) Output {
	var parts []string
	if l.InProgress != nil {
		parts = append(parts, fmt.Sprintf("You're currently in %s.",
			subjectOr(l.InProgress.Subject, "a meeting")))
	}
	if l.Next != nil {
		parts = append(parts, fmt.Sprintf("Your next meeting is %s %s.",
			subjectOr(l.Next.Subject, "an untitled meeting"), SpeakDuration(l.Next.Until)))
	} else if l.InProgress == nil {
		parts = append(parts, "You have no upcoming meetings.")
	}
	if l.Done.HasMeetings {
		parts = append(parts, p.DoneForDay(l.Done).Text)
	}
	return Output{Text: strings.Join(parts, " ")}
}

func (Plain) MorningSummary(m MorningSummary) Output {
	parts := []string{fmt.Sprintf("Here's your preview for %s.", m.PreviewFor)}
	if m.Total == 0 {
		parts = append(parts, "You have no meetings scheduled.")
		return Output{Text: strings.Join(parts, " ")}
	}

	count := fmt.Sprintf("You have %s", countNoun(m.Total, "meeting"))
	if m.AllDayCount > 0 {
		count += fmt.Sprintf(", including %s", countNoun(m.AllDayCount, "all-day event"))
	}
	parts = append(parts, count+".")

	if !m.FirstStart.IsZero() {
		if m.EarlyStart {
			parts = append(parts, fmt.Sprintf("Heads up, your day starts early at %s.", SpeakClock(m.FirstStart)))
		} else {
			parts = append(parts, fmt.Sprintf("Your first meeting is at %s.", SpeakClock(m.FirstStart)))
		}
	}
	if m.BackToBack > 0 {
		parts = append(parts, fmt.Sprintf("You have %s of back-to-back meetings.", countNoun(m.BackToBack, "run")))
	}
	if m.Density == "heavy" {
		parts = append(parts, "It's a packed day.")
	}
	if len(m.Subjects) > 0 {
		parts = append(parts, fmt.Sprintf("On the agenda: %s.", joinSpoken(m.Subjects)))
	}
	if m.WakeUp != "" {
		parts = append(parts, fmt.Sprintf("Consider waking up by %s.", m.WakeUp))
	}
	return Output{Text: strings.Join(parts, " ")}
}

// joinSpoken joins items the way a sentence would: "A", "A and B",
// "A, B, and C".
func joinSpoken(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}
