package api

import (
	"strconv"
	"time"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/speech"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

const (
	// earlyStartHour marks a day as early when the first timed meeting begins
	// before this local hour.
	earlyStartHour = 8
	// backToBackGap is the largest gap between consecutive timed meetings
	// that still counts as back-to-back.
	backToBackGap = 15 * time.Minute
	// wakeUpLead is how long before the first timed meeting the wake-up
	// recommendation lands, floored at wakeUpFloorHour local.
	wakeUpLead      = 90 * time.Minute
	wakeUpFloorHour = 5

	defaultMaxEvents = 5
)

type morningEventPayload struct {
	Subject  string `json:"subject"`
	StartISO string `json:"start_iso"`
	EndISO   string `json:"end_iso,omitempty"`
	IsAllDay bool   `json:"is_all_day"`
}

type morningSummaryPayload struct {
	PreviewFor              string                `json:"preview_for"`
	TotalMeetingsEquivalent int                   `json:"total_meetings_equivalent"`
	EarlyStartFlag          bool                  `json:"early_start_flag"`
	Density                 string                `json:"density"`
	BackToBackCount         int                   `json:"back_to_back_count"`
	TimeframeStart          *string               `json:"timeframe_start"`
	TimeframeEnd            *string               `json:"timeframe_end"`
	WakeUpRecommendation    string                `json:"wake_up_recommendation"`
	Events                  []morningEventPayload `json:"events"`
}

type morningSummaryResponse struct {
	SpeechText string                `json:"speech_text"`
	Summary    morningSummaryPayload `json:"summary"`
	SSML       string                `json:"ssml,omitempty"`
}

// daySummary aggregates the window events of one local calendar day.
type daySummary struct {
	events     []model.Event
	timed      []model.Event
	allDay     int
	density    string
	backToBack int
	earlyStart bool
	firstStart time.Time
	lastEnd    time.Time
	wakeUp     time.Time
}

func (h *Handlers) computeMorningSummary(rq *request) any {
	today := timeutil.StartOfDay(rq.now, rq.loc)
	target := today.AddDate(0, 0, 1)
	if v := rq.params["date"]; v != "" {
		if parsed, err := time.ParseInLocation(time.DateOnly, v, rq.loc); err == nil {
			target = parsed
		}
	}

	maxEvents := defaultMaxEvents
	if v := rq.params["max_events"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxEvents = n
		}
	}
	detail := rq.params["detail_level"]
	if detail == "" {
		detail = "normal"
	}

	presenter := h.presenter
	if v, ok := rq.params["prefer_ssml"]; ok {
		if truthy(v) {
			presenter = speech.NewSSML()
		} else {
			presenter = speech.Plain{}
		}
	}

	day := buildDaySummary(rq.events, target, rq.loc)
	out := presenter.MorningSummary(speech.MorningSummary{
		PreviewFor:  previewLabel(target, today),
		Total:       len(day.timed) + day.allDay,
		AllDayCount: day.allDay,
		Density:     day.density,
		BackToBack:  day.backToBack,
		EarlyStart:  day.earlyStart,
		FirstStart:  day.firstStart,
		LastEnd:     day.lastEnd,
		WakeUp:      wakeUpLabel(day.wakeUp),
		Subjects:    spokenSubjects(day, detail, maxEvents, rq.loc),
	})

	summary := morningSummaryPayload{
		PreviewFor:              target.Format(time.DateOnly),
		TotalMeetingsEquivalent: len(day.timed) + day.allDay,
		EarlyStartFlag:          day.earlyStart,
		Density:                 day.density,
		BackToBackCount:         day.backToBack,
		WakeUpRecommendation:    wakeUpLabel(day.wakeUp),
		Events:                  []morningEventPayload{},
	}
	if !day.firstStart.IsZero() {
		summary.TimeframeStart = localISOPtr(day.firstStart, rq.loc)
		summary.TimeframeEnd = localISOPtr(day.lastEnd, rq.loc)
	}
	for i, ev := range day.events {
		if i >= maxEvents {
			break
		}
		p := morningEventPayload{
			Subject:  ev.Subject,
			StartISO: timeutil.FormatISO(ev.Start.Instant),
			IsAllDay: ev.IsAllDay,
		}
		if !ev.End.IsZero() {
			p.EndISO = timeutil.FormatISO(ev.End.Instant)
		}
		summary.Events = append(summary.Events, p)
	}

	return morningSummaryResponse{SpeechText: out.Text, Summary: summary, SSML: out.SSML}
}

// buildDaySummary collects the events falling on the target local date and
// derives the day's shape from its timed meetings. The incoming slice is
// already in start order, so the per-day slices stay chronological.
func buildDaySummary(events []model.Event, target time.Time, loc *time.Location) daySummary {
	var day daySummary
	for _, ev := range events {
		if ev.Start.IsZero() || !timeutil.StartOfDay(ev.Start.Instant, loc).Equal(target) {
			continue
		}
		day.events = append(day.events, ev)
		if ev.IsAllDay {
			day.allDay++
			continue
		}
		day.timed = append(day.timed, ev)
	}

	switch n := len(day.timed); {
	case n <= 2:
		day.density = "light"
	case n <= 4:
		day.density = "medium"
	default:
		day.density = "heavy"
	}

	for i := 1; i < len(day.timed); i++ {
		prevEnd := day.timed[i-1].End.Instant
		if prevEnd.IsZero() {
			prevEnd = day.timed[i-1].Start.Instant
		}
		if day.timed[i].Start.Instant.Sub(prevEnd) <= backToBackGap {
			day.backToBack++
		}
	}

	if len(day.timed) == 0 {
		return day
	}
	day.firstStart = day.timed[0].Start.Instant.In(loc)
	day.earlyStart = day.firstStart.Hour() < earlyStartHour
	for _, ev := range day.timed {
		end := ev.End.Instant
		if end.IsZero() {
			end = ev.Start.Instant
		}
		if day.lastEnd.IsZero() || end.After(day.lastEnd) {
			day.lastEnd = end
		}
	}
	day.lastEnd = day.lastEnd.In(loc)

	wake := day.firstStart.Add(-wakeUpLead)
	floor := time.Date(target.Year(), target.Month(), target.Day(), wakeUpFloorHour, 0, 0, 0, loc)
	if wake.Before(floor) {
		wake = floor
	}
	day.wakeUp = wake
	return day
}

// previewLabel names the target date the way a person would.
func previewLabel(target, today time.Time) string {
	switch {
	case target.Equal(today):
		return "today"
	case target.Equal(today.AddDate(0, 0, 1)):
		return "tomorrow"
	}
	return target.Format("Monday, January 2")
}

func wakeUpLabel(wake time.Time) string {
	if wake.IsZero() {
		return ""
	}
	return speech.SpeakClock(wake)
}

// spokenSubjects picks which meetings get named out loud. Brief mode names
// none; detailed mode adds the start time to each timed meeting.
func spokenSubjects(day daySummary, detail string, maxEvents int, loc *time.Location) []string {
	if detail == "brief" {
		return nil
	}
	var subjects []string
	for _, ev := range day.events {
		if len(subjects) >= maxEvents {
			break
		}
		subject := ev.Subject
		if subject == "" {
			subject = "an untitled meeting"
		}
		switch {
		case detail == "detailed" && !ev.IsAllDay:
			subject += " at " + speech.SpeakClock(ev.Start.Instant.In(loc))
		case detail == "detailed" && ev.IsAllDay:
			subject += " all day"
		}
		subjects = append(subjects, subject)
	}
	return subjects
}
