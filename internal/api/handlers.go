package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sonroyaalmerol/calendarbot/internal/health"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/precompute"
	"github.com/sonroyaalmerol/calendarbot/internal/respcache"
	"github.com/sonroyaalmerol/calendarbot/internal/speech"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

type meetingPayload struct {
	Subject           string `json:"subject"`
	StartISO          string `json:"start_iso"`
	SecondsUntilStart int64  `json:"seconds_until_start"`
	DurationSpoken    string `json:"duration_spoken"`
	SpeechText        string `json:"speech_text"`
}

type inProgressPayload struct {
	Subject         string `json:"subject"`
	StartISO        string `json:"start_iso"`
	EndISO          string `json:"end_iso"`
	SecondsUntilEnd int64  `json:"seconds_until_end"`
}

type nextMeetingResponse struct {
	Meeting    *meetingPayload `json:"meeting"`
	SpeechText string          `json:"speech_text"`
	SSML       string          `json:"ssml,omitempty"`
}

type timeUntilResponse struct {
	SecondsUntilStart *int64  `json:"seconds_until_start"`
	DurationSpoken    *string `json:"duration_spoken"`
	SpeechText        string  `json:"speech_text"`
	SSML              string  `json:"ssml,omitempty"`
}

type doneForDayResponse struct {
	NowISO                 string  `json:"now_iso"`
	TZ                     string  `json:"tz"`
	HasMeetingsToday       bool    `json:"has_meetings_today"`
	LastMeetingStartISO    *string `json:"last_meeting_start_iso"`
	LastMeetingEndISO      *string `json:"last_meeting_end_iso"`
	LastMeetingEndLocalISO *string `json:"last_meeting_end_local_iso"`
	SpeechText             string  `json:"speech_text"`
	SSML                   string  `json:"ssml,omitempty"`
}

type launchDonePayload struct {
	HasMeetingsToday       bool    `json:"has_meetings_today"`
	Done                   bool    `json:"done"`
	LastMeetingEndISO      *string `json:"last_meeting_end_iso"`
	LastMeetingEndLocalISO *string `json:"last_meeting_end_local_iso"`
	SpeechText             string  `json:"speech_text"`
}

type launchSummaryResponse struct {
	SpeechText       string             `json:"speech_text"`
	HasMeetingsToday bool               `json:"has_meetings_today"`
	NextMeeting      *meetingPayload    `json:"next_meeting,omitempty"`
	InProgress       *inProgressPayload `json:"in_progress,omitempty"`
	DoneForDay       launchDonePayload  `json:"done_for_day"`
	SSML             string             `json:"ssml,omitempty"`
}

type healthResponse struct {
	health.Status
	ResponseCache respcache.Stats `json:"response_cache"`
}

// Health serves the liveness snapshot. No auth and no caching; monitors poll
// it and must always see fresh state.
func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}
		body, err := json.Marshal(healthResponse{
			Status:        h.tracker.Snapshot(),
			ResponseCache: h.cache.Snapshot(),
		})
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred")
			return
		}
		h.writeRaw(w, http.StatusOK, body)
	}
}

func (h *Handlers) NextMeeting() http.HandlerFunc {
	return h.alexa(handlerNextMeeting, tzSchema(), h.computeNextMeeting)
}

func (h *Handlers) TimeUntilNext() http.HandlerFunc {
	return h.alexa(handlerTimeUntil, tzSchema(), h.computeTimeUntil)
}

func (h *Handlers) DoneForDay() http.HandlerFunc {
	return h.alexa(handlerDoneForDay, tzSchema(), h.computeDoneForDay)
}

func (h *Handlers) LaunchSummary() http.HandlerFunc {
	return h.alexa(handlerLaunchSummary, tzSchema(), h.computeLaunchSummary)
}

func (h *Handlers) MorningSummary() http.HandlerFunc {
	return h.alexa(handlerMorningSummary, morningSchema(), h.computeMorningSummary)
}

func (h *Handlers) computeNextMeeting(rq *request) any {
	m := h.nextUpcoming(precompute.KindNextMeeting, rq)
	out := h.presenter.NextMeeting(m)
	resp := nextMeetingResponse{SpeechText: out.Text, SSML: out.SSML}
	if m != nil {
		resp.Meeting = &meetingPayload{
			Subject:           m.Subject,
			StartISO:          timeutil.FormatISO(m.Start),
			SecondsUntilStart: int64(m.Until / time.Second),
			DurationSpoken:    speech.SpeakDuration(m.Until),
			SpeechText:        out.Text,
		}
	}
	return resp
}

func (h *Handlers) computeTimeUntil(rq *request) any {
	m := h.nextUpcoming(precompute.KindTimeUntil, rq)
	out := h.presenter.TimeUntil(m)
	resp := timeUntilResponse{SpeechText: out.Text, SSML: out.SSML}
	if m != nil {
		secs := int64(m.Until / time.Second)
		spoken := speech.SpeakDuration(m.Until)
		resp.SecondsUntilStart = &secs
		resp.DurationSpoken = &spoken
	}
	return resp
}

func (h *Handlers) computeDoneForDay(rq *request) any {
	hasMeetings, lastStart, lastEnd := h.doneVerdict(rq)

	out := h.presenter.DoneForDay(speech.DoneForDay{
		HasMeetings: hasMeetings,
		Done:        hasMeetings && !rq.now.Before(lastEnd),
		LocalEnd:    lastEnd.In(rq.loc),
	})
	resp := doneForDayResponse{
		NowISO:           timeutil.FormatISO(rq.now),
		TZ:               rq.tz,
		HasMeetingsToday: hasMeetings,
		SpeechText:       out.Text,
		SSML:             out.SSML,
	}
	if hasMeetings {
		resp.LastMeetingStartISO = isoPtr(lastStart)
		resp.LastMeetingEndISO = isoPtr(lastEnd)
		resp.LastMeetingEndLocalISO = localISOPtr(lastEnd, rq.loc)
	}
	return resp
}

func (h *Handlers) computeLaunchSummary(rq *request) any {
	inProgress := firstInProgress(rq.events, rq.now)
	next := h.nextUpcoming(precompute.KindNextMeeting, rq)
	hasMeetings, _, lastEnd := h.doneVerdict(rq)

	done := speech.DoneForDay{
		HasMeetings: hasMeetings,
		Done:        hasMeetings && !rq.now.Before(lastEnd),
		LocalEnd:    lastEnd.In(rq.loc),
	}
	var inProgressFacts *speech.Meeting
	if inProgress != nil {
		inProgressFacts = &speech.Meeting{
			Subject:  inProgress.Subject,
			Start:    inProgress.Start.Instant,
			Until:    inProgress.Start.Instant.Sub(rq.now),
			Location: inProgress.Location,
			IsOnline: inProgress.IsOnlineMeeting,
		}
	}
	out := h.presenter.LaunchSummary(speech.LaunchSummary{
		InProgress: inProgressFacts,
		Next:       next,
		Done:       done,
	})

	resp := launchSummaryResponse{
		SpeechText:       out.Text,
		HasMeetingsToday: hasMeetings,
		DoneForDay: launchDonePayload{
			HasMeetingsToday: hasMeetings,
			Done:             done.Done,
			SpeechText:       h.presenter.DoneForDay(done).Text,
		},
		SSML: out.SSML,
	}
	if hasMeetings {
		resp.DoneForDay.LastMeetingEndISO = isoPtr(lastEnd)
		resp.DoneForDay.LastMeetingEndLocalISO = localISOPtr(lastEnd, rq.loc)
	}
	if next != nil {
		nextOut := h.presenter.NextMeeting(next)
		resp.NextMeeting = &meetingPayload{
			Subject:           next.Subject,
			StartISO:          timeutil.FormatISO(next.Start),
			SecondsUntilStart: int64(next.Until / time.Second),
			DurationSpoken:    speech.SpeakDuration(next.Until),
			SpeechText:        nextOut.Text,
		}
	}
	if inProgress != nil {
		resp.InProgress = &inProgressPayload{
			Subject:         inProgress.Subject,
			StartISO:        timeutil.FormatISO(inProgress.Start.Instant),
			EndISO:          timeutil.FormatISO(inProgress.End.Instant),
			SecondsUntilEnd: int64(inProgress.End.Instant.Sub(rq.now) / time.Second),
		}
	}
	return resp
}

// nextUpcoming finds the first event starting after now, preferring the
// precomputed selection for the request's window version. A selection whose
// candidates have all started is recomputed from the live window; both paths
// apply the same ordering, so the answer is identical either way.
func (h *Handlers) nextUpcoming(kind string, rq *request) *speech.Meeting {
	if sel, ok := h.pre.Get(kind, rq.tz, rq.version); ok {
		for _, c := range sel.Candidates {
			if c.Start.After(rq.now) {
				return &speech.Meeting{
					Subject:  c.Subject,
					Start:    c.Start,
					Until:    c.Start.Sub(rq.now),
					Location: c.Location,
					IsOnline: c.IsOnline,
				}
			}
		}
	}
	for i := range rq.events {
		ev := &rq.events[i]
		if ev.Start.Instant.After(rq.now) {
			return &speech.Meeting{
				Subject:  ev.Subject,
				Start:    ev.Start.Instant,
				Until:    ev.Start.Instant.Sub(rq.now),
				Location: ev.Location,
				IsOnline: ev.IsOnlineMeeting,
			}
		}
	}
	return nil
}

// doneVerdict resolves today's verdict, consulting the precomputed selection
// when it matches both the window version and today's local date.
func (h *Handlers) doneVerdict(rq *request) (bool, time.Time, time.Time) {
	if sel, ok := h.pre.Get(precompute.KindDoneForDay, rq.tz, rq.version); ok {
		if sel.LocalDate == rq.now.In(rq.loc).Format(time.DateOnly) {
			return sel.HasMeetings, sel.LastStart, sel.LastEnd
		}
	}
	return precompute.DoneVerdict(rq.events, rq.now, rq.loc)
}

// firstInProgress returns the earliest event with start <= now < end.
func firstInProgress(events []model.Event, now time.Time) *model.Event {
	for i := range events {
		ev := &events[i]
		if ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		if !ev.Start.Instant.After(now) && now.Before(ev.End.Instant) {
			return ev
		}
	}
	return nil
}

func isoPtr(t time.Time) *string {
	s := timeutil.FormatISO(t)
	return &s
}

func localISOPtr(t time.Time, loc *time.Location) *string {
	s := timeutil.FormatLocalISO(t, loc)
	return &s
}
