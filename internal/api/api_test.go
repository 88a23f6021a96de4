package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/auth"
	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/health"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/pipeline"
	"github.com/sonroyaalmerol/calendarbot/internal/precompute"
	"github.com/sonroyaalmerol/calendarbot/internal/respcache"
	"github.com/sonroyaalmerol/calendarbot/internal/window"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultTimezone: "UTC",
		Refresh:         config.RefreshConfig{EventWindowSize: 50},
		Cache:           config.CacheConfig{MaxEntries: 16},
	}
}

type fixture struct {
	handlers *Handlers
	window   *window.Manager
	cache    *respcache.Cache
	pre      *precompute.Store
	tracker  *health.Tracker
	clock    *clockwork.FakeClock
}

func newFixture(cfg *config.Config, at time.Time) *fixture {
	clock := clockwork.NewFakeClockAt(at)
	win := window.NewManager(cfg.Refresh.EventWindowSize, time.UTC, clock, zerolog.Nop())
	cache := respcache.New(cfg.Cache.MaxEntries)
	pre := precompute.NewStore()
	tracker := health.NewTracker(clock)
	authn := auth.NewChain(cfg.Auth, zerolog.Nop())
	return &fixture{
		handlers: NewHandlers(cfg, win, cache, pre, tracker, authn, clock, zerolog.Nop()),
		window:   win,
		cache:    cache,
		pre:      pre,
		tracker:  tracker,
		clock:    clock,
	}
}

func timedEvent(id, subject string, start, end time.Time) model.Event {
	return model.Event{
		ID:      id,
		Subject: subject,
		ShowAs:  model.ShowAsBusy,
		Start:   model.EventTime{Instant: start, Timezone: "UTC"},
		End:     model.EventTime{Instant: end, Timezone: "UTC"},
	}
}

func serveGet(h http.HandlerFunc, target, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestNextMeetingEmptyWindow(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	rec := serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"meeting":null,"speech_text":"No upcoming meetings"}` {
		t.Errorf("body = %s", got)
	}
}

func TestNextMeetingSimple(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", now.Add(900*time.Second), now.Add(1800*time.Second)),
	}, nil, 1)

	body := decodeBody(t, serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", ""))
	meeting, ok := body["meeting"].(map[string]any)
	if !ok {
		t.Fatalf("meeting = %v", body["meeting"])
	}
	if meeting["subject"] != "Standup" {
		t.Errorf("subject = %v", meeting["subject"])
	}
	if meeting["seconds_until_start"] != float64(900) {
		t.Errorf("seconds_until_start = %v", meeting["seconds_until_start"])
	}
	if meeting["duration_spoken"] != "in 15 minutes" {
		t.Errorf("duration_spoken = %v", meeting["duration_spoken"])
	}
	if meeting["start_iso"] != "2026-03-10T12:15:00Z" {
		t.Errorf("start_iso = %v", meeting["start_iso"])
	}
	if body["speech_text"] != "Your next meeting is Standup in 15 minutes." {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}

func TestNextMeetingSkipsStartedEvents(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Started", now.Add(10*time.Minute), now.Add(30*time.Minute)),
		timedEvent("e2", "Later", now.Add(2*time.Hour), now.Add(3*time.Hour)),
	}, nil, 1)

	// e1 begins between publication and the request.
	fx.clock.Advance(20 * time.Minute)

	body := decodeBody(t, serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", ""))
	meeting := body["meeting"].(map[string]any)
	if meeting["subject"] != "Later" {
		t.Errorf("subject = %v", meeting["subject"])
	}
}

func TestTimeUntilNext(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", now.Add(2*time.Hour), now.Add(3*time.Hour)),
	}, nil, 1)

	body := decodeBody(t, serveGet(fx.handlers.TimeUntilNext(), "/api/alexa/time-until-next", ""))
	if body["seconds_until_start"] != float64(7200) {
		t.Errorf("seconds_until_start = %v", body["seconds_until_start"])
	}
	if body["duration_spoken"] != "in 2 hours" {
		t.Errorf("duration_spoken = %v", body["duration_spoken"])
	}
	if body["speech_text"] != "Your next meeting starts in 2 hours." {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}

func TestTimeUntilNextEmpty(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	body := decodeBody(t, serveGet(fx.handlers.TimeUntilNext(), "/api/alexa/time-until-next", ""))
	if body["seconds_until_start"] != nil || body["duration_spoken"] != nil {
		t.Errorf("expected nulls, got %v / %v", body["seconds_until_start"], body["duration_spoken"])
	}
	if body["speech_text"] != "No upcoming meetings" {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}

func TestDoneForDayInProgress(t *testing.T) {
	// 10:00 in Los Angeles; both events land on the same local date.
	t0 := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), t0)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", t0.Add(10*time.Minute), t0.Add(30*time.Minute)),
		timedEvent("e2", "Review", t0.Add(130*time.Minute), t0.Add(190*time.Minute)),
	}, nil, 1)

	// Standup is now in progress.
	fx.clock.Advance(20 * time.Minute)

	rec := serveGet(fx.handlers.DoneForDay(), "/api/alexa/done-for-day?tz=America/Los_Angeles", "")
	body := decodeBody(t, rec)
	if body["has_meetings_today"] != true {
		t.Fatalf("has_meetings_today = %v", body["has_meetings_today"])
	}
	if body["tz"] != "America/Los_Angeles" {
		t.Errorf("tz = %v", body["tz"])
	}
	if body["last_meeting_end_iso"] != "2026-03-10T20:10:00Z" {
		t.Errorf("last_meeting_end_iso = %v", body["last_meeting_end_iso"])
	}
	if body["last_meeting_start_iso"] != "2026-03-10T19:10:00Z" {
		t.Errorf("last_meeting_start_iso = %v", body["last_meeting_start_iso"])
	}
	speechText, _ := body["speech_text"].(string)
	if !strings.HasPrefix(speechText, "You'll be done at") {
		t.Errorf("speech_text = %q", speechText)
	}
}

func TestDoneForDayAllDone(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), t0)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", t0.Add(10*time.Minute), t0.Add(30*time.Minute)),
	}, nil, 1)

	fx.clock.Advance(time.Hour)

	body := decodeBody(t, serveGet(fx.handlers.DoneForDay(), "/api/alexa/done-for-day", ""))
	if body["speech_text"] != "You're all done for today!" {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}

func TestDoneForDayNoMeetings(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	body := decodeBody(t, serveGet(fx.handlers.DoneForDay(), "/api/alexa/done-for-day", ""))
	if body["has_meetings_today"] != false {
		t.Errorf("has_meetings_today = %v", body["has_meetings_today"])
	}
	if body["last_meeting_end_iso"] != nil {
		t.Errorf("last_meeting_end_iso = %v", body["last_meeting_end_iso"])
	}
	if body["speech_text"] != "You have no meetings today!" {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}

func TestLaunchSummaryComposition(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), t0)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", t0.Add(10*time.Minute), t0.Add(40*time.Minute)),
		timedEvent("e2", "Review", t0.Add(2*time.Hour), t0.Add(3*time.Hour)),
	}, nil, 1)

	fx.clock.Advance(20 * time.Minute)

	body := decodeBody(t, serveGet(fx.handlers.LaunchSummary(), "/api/alexa/launch-summary", ""))
	if body["has_meetings_today"] != true {
		t.Errorf("has_meetings_today = %v", body["has_meetings_today"])
	}
	inProgress, ok := body["in_progress"].(map[string]any)
	if !ok || inProgress["subject"] != "Standup" {
		t.Errorf("in_progress = %v", body["in_progress"])
	}
	next, ok := body["next_meeting"].(map[string]any)
	if !ok || next["subject"] != "Review" {
		t.Errorf("next_meeting = %v", body["next_meeting"])
	}
	done, ok := body["done_for_day"].(map[string]any)
	if !ok || done["done"] != false {
		t.Errorf("done_for_day = %v", body["done_for_day"])
	}
	speechText, _ := body["speech_text"].(string)
	for _, want := range []string{"You're currently in Standup.", "Your next meeting is Review"} {
		if !strings.Contains(speechText, want) {
			t.Errorf("speech_text %q missing %q", speechText, want)
		}
	}
}

func TestLaunchSummaryEmpty(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	body := decodeBody(t, serveGet(fx.handlers.LaunchSummary(), "/api/alexa/launch-summary", ""))
	if body["has_meetings_today"] != false {
		t.Errorf("has_meetings_today = %v", body["has_meetings_today"])
	}
	if _, ok := body["next_meeting"]; ok {
		t.Error("next_meeting present on empty window")
	}
	if body["speech_text"] != "You have no upcoming meetings." {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}

func publishMorningFixture(fx *fixture, now time.Time) {
	day := now.AddDate(0, 0, 1)
	at := func(h, m int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC)
	}
	allDay := timedEvent("conf", "Conference", at(0, 0), at(0, 0).Add(24*time.Hour))
	allDay.IsAllDay = true
	fx.window.Publish([]model.Event{
		timedEvent("m1", "Standup", at(7, 30), at(7, 45)),
		timedEvent("m2", "Review", at(7, 50), at(8, 30)),
		timedEvent("m3", "One on one", at(8, 35), at(9, 0)),
		timedEvent("m4", "Lunch", at(12, 0), at(13, 0)),
		timedEvent("m5", "Retro", at(15, 0), at(16, 0)),
		allDay,
	}, nil, 1)
}

func TestMorningSummary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	publishMorningFixture(fx, now)

	body := decodeBody(t, serveGet(fx.handlers.MorningSummary(), "/api/alexa/morning-summary", ""))
	summary, ok := body["summary"].(map[string]any)
	if !ok {
		t.Fatalf("summary = %v", body["summary"])
	}
	if summary["preview_for"] != "2026-03-11" {
		t.Errorf("preview_for = %v", summary["preview_for"])
	}
	if summary["total_meetings_equivalent"] != float64(6) {
		t.Errorf("total_meetings_equivalent = %v", summary["total_meetings_equivalent"])
	}
	if summary["density"] != "heavy" {
		t.Errorf("density = %v", summary["density"])
	}
	if summary["back_to_back_count"] != float64(2) {
		t.Errorf("back_to_back_count = %v", summary["back_to_back_count"])
	}
	if summary["early_start_flag"] != true {
		t.Errorf("early_start_flag = %v", summary["early_start_flag"])
	}
	if summary["wake_up_recommendation"] != "6:00 AM" {
		t.Errorf("wake_up_recommendation = %v", summary["wake_up_recommendation"])
	}
	if summary["timeframe_start"] != "2026-03-11T07:30:00+00:00" {
		t.Errorf("timeframe_start = %v", summary["timeframe_start"])
	}
	if summary["timeframe_end"] != "2026-03-11T16:00:00+00:00" {
		t.Errorf("timeframe_end = %v", summary["timeframe_end"])
	}
	events, ok := summary["events"].([]any)
	if !ok || len(events) != 5 {
		t.Errorf("events = %v", summary["events"])
	}

	speechText, _ := body["speech_text"].(string)
	for _, want := range []string{
		"Here's your preview for tomorrow.",
		"You have 6 meetings, including 1 all-day event.",
		"starts early at 7:30 AM",
		"2 runs of back-to-back",
		"packed day",
		"waking up by 6:00 AM",
	} {
		if !strings.Contains(speechText, want) {
			t.Errorf("speech_text %q missing %q", speechText, want)
		}
	}
}

func TestMorningSummaryDetailLevels(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	publishMorningFixture(fx, now)

	brief := decodeBody(t, serveGet(fx.handlers.MorningSummary(),
		"/api/alexa/morning-summary?detail_level=brief", ""))
	if text, _ := brief["speech_text"].(string); strings.Contains(text, "On the agenda") {
		t.Errorf("brief speech lists subjects: %q", text)
	}

	detailed := decodeBody(t, serveGet(fx.handlers.MorningSummary(),
		"/api/alexa/morning-summary?detail_level=detailed", ""))
	if text, _ := detailed["speech_text"].(string); !strings.Contains(text, "Standup at 7:30 AM") {
		t.Errorf("detailed speech missing start times: %q", text)
	}
}

func TestMorningSummaryMaxEvents(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	publishMorningFixture(fx, now)

	body := decodeBody(t, serveGet(fx.handlers.MorningSummary(),
		"/api/alexa/morning-summary?max_events=2", ""))
	summary := body["summary"].(map[string]any)
	if events := summary["events"].([]any); len(events) != 2 {
		t.Errorf("events = %d", len(events))
	}
}

func TestMorningSummaryEmptyDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	publishMorningFixture(fx, now)

	body := decodeBody(t, serveGet(fx.handlers.MorningSummary(),
		"/api/alexa/morning-summary?date=2026-03-20", ""))
	summary := body["summary"].(map[string]any)
	if summary["total_meetings_equivalent"] != float64(0) {
		t.Errorf("total = %v", summary["total_meetings_equivalent"])
	}
	if summary["timeframe_start"] != nil {
		t.Errorf("timeframe_start = %v", summary["timeframe_start"])
	}
	if text, _ := body["speech_text"].(string); !strings.Contains(text, "no meetings scheduled") {
		t.Errorf("speech_text = %q", text)
	}
}

func TestMorningSummaryPreferSSML(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	publishMorningFixture(fx, now)

	body := decodeBody(t, serveGet(fx.handlers.MorningSummary(),
		"/api/alexa/morning-summary?prefer_ssml=true", ""))
	ssml, _ := body["ssml"].(string)
	if !strings.HasPrefix(ssml, "<speak>") {
		t.Errorf("ssml = %q", ssml)
	}

	body = decodeBody(t, serveGet(fx.handlers.MorningSummary(),
		"/api/alexa/morning-summary?prefer_ssml=false", ""))
	if _, ok := body["ssml"]; ok {
		t.Error("ssml present with prefer_ssml=false")
	}
}

func TestAuthGate(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.BearerToken = "s3cret"
	fx := newFixture(cfg, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	rec := serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"Unauthorized"}` {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "Bearer wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", rec.Code)
	}

	rec = serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "Bearer s3cret")
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d", rec.Code)
	}

	// Auth is checked before validation: bad params still read as 401.
	rec = serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting?bogus=1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated bad params status = %d", rec.Code)
	}

	// Health stays open.
	rec = serveGet(fx.handlers.Health(), "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	req := httptest.NewRequest(http.MethodPost, "/api/alexa/next-meeting", nil)
	rec := httptest.NewRecorder()
	fx.handlers.NextMeeting()(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"Method not allowed"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestValidationErrors(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	cases := []struct {
		name    string
		handler http.HandlerFunc
		target  string
	}{
		{"unknown param", fx.handlers.NextMeeting(), "/api/alexa/next-meeting?foo=1"},
		{"bad timezone", fx.handlers.DoneForDay(), "/api/alexa/done-for-day?tz=Mars/Olympus"},
		{"bad date", fx.handlers.MorningSummary(), "/api/alexa/morning-summary?date=tomorrow"},
		{"bad detail level", fx.handlers.MorningSummary(), "/api/alexa/morning-summary?detail_level=verbose"},
		{"max events low", fx.handlers.MorningSummary(), "/api/alexa/morning-summary?max_events=0"},
		{"max events high", fx.handlers.MorningSummary(), "/api/alexa/morning-summary?max_events=21"},
		{"max events garbage", fx.handlers.MorningSummary(), "/api/alexa/morning-summary?max_events=ten"},
	}
	for _, tc := range cases {
		rec := serveGet(tc.handler, tc.target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", tc.name, rec.Code)
			continue
		}
		body := decodeBody(t, rec)
		if body["error"] != "Bad request" {
			t.Errorf("%s: error = %v", tc.name, body["error"])
		}
		if msg, _ := body["message"].(string); msg == "" {
			t.Errorf("%s: empty message", tc.name)
		}
	}
}

func TestErrorBodySanitized(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	targets := []string{
		"/api/alexa/morning-summary?timezone=" + "%2Fhome%2Fsecret%2Fzoneinfo",
		"/api/alexa/next-meeting?tz=" + "%2Fusr%2Fshare%2Fzoneinfo%2F..%2Fetc",
		"/api/alexa/next-meeting?" + "%2Fhome%2F=x",
	}
	for _, target := range targets {
		rec := serveGet(fx.handlers.MorningSummary(), target, "")
		if rec.Code/100 != 4 {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
		for _, marker := range []string{"0x", `File "`, "/home/", `C:\`, "/usr/"} {
			if strings.Contains(rec.Body.String(), marker) {
				t.Errorf("%s: body %q contains %q", target, rec.Body.String(), marker)
			}
		}
	}
}

func TestPanicMapsToInternalError(t *testing.T) {
	cfg := testConfig()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	cache := respcache.New(cfg.Cache.MaxEntries)
	authn := auth.NewChain(cfg.Auth, zerolog.Nop())
	// No window manager: the compute path dereferences nil and panics.
	h := NewHandlers(cfg, nil, cache, precompute.NewStore(), health.NewTracker(clock), authn, clock, zerolog.Nop())

	rec := serveGet(h.NextMeeting(), "/api/alexa/next-meeting", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"Internal server error","message":"An unexpected error occurred"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestResponseCacheHit(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", now.Add(time.Hour), now.Add(2*time.Hour)),
	}, nil, 1)

	first := serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "")
	second := serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "")
	if first.Body.String() != second.Body.String() {
		t.Errorf("cached body differs: %s vs %s", first.Body.String(), second.Body.String())
	}

	stats := fx.cache.Snapshot()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}

	// Distinct params take distinct cache slots.
	serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting?tz=Europe/Berlin", "")
	if got := fx.cache.Snapshot().Misses; got != 2 {
		t.Errorf("misses = %d", got)
	}
}

func TestResponseCacheInvalidation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", now.Add(time.Hour), now.Add(2*time.Hour)),
	}, nil, 1)

	serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", "")

	fx.window.Publish([]model.Event{
		timedEvent("e2", "Planning", now.Add(30*time.Minute), now.Add(90*time.Minute)),
	}, nil, 1)
	fx.cache.InvalidateAll()

	body := decodeBody(t, serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", ""))
	meeting := body["meeting"].(map[string]any)
	if meeting["subject"] != "Planning" {
		t.Errorf("subject = %v, stale cache served", meeting["subject"])
	}
}

func TestPrecomputedMatchesOnDemand(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	seeded := newFixture(testConfig(), now)
	plain := newFixture(testConfig(), now)
	events := []model.Event{
		timedEvent("e1", "Standup", now.Add(time.Hour), now.Add(2*time.Hour)),
		timedEvent("e2", "Review", now.Add(3*time.Hour), now.Add(4*time.Hour)),
	}
	seeded.window.Publish(events, nil, 1)
	plain.window.Publish(events, nil, 1)

	// Run the precompute stages the way the refresher does.
	snap, version := seeded.window.Snapshot()
	pctx := &pipeline.Context{Events: snap}
	pipeline.New(zerolog.Nop(), precompute.Stages("UTC", seeded.clock)...).Run(context.Background(), pctx)
	seeded.pre.ReplaceAll(precompute.Collect(pctx, version))

	for name, pair := range map[string][2]http.HandlerFunc{
		"next-meeting":    {seeded.handlers.NextMeeting(), plain.handlers.NextMeeting()},
		"time-until-next": {seeded.handlers.TimeUntilNext(), plain.handlers.TimeUntilNext()},
		"done-for-day":    {seeded.handlers.DoneForDay(), plain.handlers.DoneForDay()},
	} {
		got := serveGet(pair[0], "/api/alexa/"+name, "").Body.String()
		want := serveGet(pair[1], "/api/alexa/"+name, "").Body.String()
		if got != want {
			t.Errorf("%s: precomputed %s != on-demand %s", name, got, want)
		}
	}
}

func TestStaleSelectionIgnored(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Real", now.Add(time.Hour), now.Add(2*time.Hour)),
	}, nil, 1)

	_, version := fx.window.Snapshot()
	fx.pre.ReplaceAll(map[string]precompute.Selection{
		"NextMeeting:UTC": {
			Kind: precompute.KindNextMeeting, Timezone: "UTC", WindowVersion: version + 10,
			Candidates: []precompute.Candidate{{ID: "ghost", Subject: "Phantom", Start: now.Add(30 * time.Minute)}},
		},
	})

	body := decodeBody(t, serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", ""))
	meeting := body["meeting"].(map[string]any)
	if meeting["subject"] != "Real" {
		t.Errorf("subject = %v, stale selection served", meeting["subject"])
	}
}

func TestSelectionFallsBackWhenAllStarted(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(testConfig(), now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Soon", now.Add(10*time.Minute), now.Add(20*time.Minute)),
		timedEvent("e2", "Later", now.Add(2*time.Hour), now.Add(3*time.Hour)),
	}, nil, 1)

	// Selection only knows the first event.
	_, version := fx.window.Snapshot()
	fx.pre.ReplaceAll(map[string]precompute.Selection{
		"NextMeeting:UTC": {
			Kind: precompute.KindNextMeeting, Timezone: "UTC", WindowVersion: version,
			Candidates: []precompute.Candidate{{ID: "e1", Subject: "Soon", Start: now.Add(10 * time.Minute)}},
		},
	})

	fx.clock.Advance(30 * time.Minute)

	body := decodeBody(t, serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", ""))
	meeting := body["meeting"].(map[string]any)
	if meeting["subject"] != "Later" {
		t.Errorf("subject = %v, exhausted selection not recomputed", meeting["subject"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	fx := newFixture(testConfig(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	body := decodeBody(t, serveGet(fx.handlers.Health(), "/health", ""))
	if body["status"] != "degraded" {
		t.Errorf("status = %v", body["status"])
	}
	if _, ok := body["response_cache"].(map[string]any); !ok {
		t.Errorf("response_cache = %v", body["response_cache"])
	}

	fx.tracker.RecordRefreshAttempt()
	fx.tracker.RecordRefreshSuccess(3)
	body = decodeBody(t, serveGet(fx.handlers.Health(), "/health", ""))
	if body["status"] != "ok" {
		t.Errorf("status after success = %v", body["status"])
	}
	if body["event_count"] != float64(3) {
		t.Errorf("event_count = %v", body["event_count"])
	}
	if body["last_refresh_success_age_seconds"] != float64(0) {
		t.Errorf("age = %v", body["last_refresh_success_age_seconds"])
	}
}

func TestSSMLPresenterIncluded(t *testing.T) {
	cfg := testConfig()
	cfg.SpeechSSML = true
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newFixture(cfg, now)
	fx.window.Publish([]model.Event{
		timedEvent("e1", "Standup", now.Add(time.Hour), now.Add(2*time.Hour)),
	}, nil, 1)

	body := decodeBody(t, serveGet(fx.handlers.NextMeeting(), "/api/alexa/next-meeting", ""))
	ssml, _ := body["ssml"].(string)
	if !strings.HasPrefix(ssml, "<speak>") || !strings.HasSuffix(ssml, "</speak>") {
		t.Errorf("ssml = %q", ssml)
	}
	if body["speech_text"] != "Your next meeting is Standup in 1 hour." {
		t.Errorf("speech_text = %v", body["speech_text"])
	}
}
