package integration

import (
	"net/http"
	"testing"
	"time"
)

func testNextMeeting(t *testing.T, client *http.Client, baseURL string) {
	status, body, _ := getJSON(t, client, baseURL+"/api/alexa/next-meeting?tz=UTC", testToken)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	meeting := asObject(body, "meeting")
	if meeting == nil {
		t.Fatalf("meeting = %v", body["meeting"])
	}
	// The skipped event starts sooner but never reaches the window.
	if meeting["subject"] != "Standup" {
		t.Errorf("subject = %v", meeting["subject"])
	}
	secs, ok := meeting["seconds_until_start"].(float64)
	if !ok || secs <= 3000 || secs > 3600 {
		t.Errorf("seconds_until_start = %v", meeting["seconds_until_start"])
	}
	if _, err := time.Parse("2006-01-02T15:04:05Z", asString(meeting, "start_iso")); err != nil {
		t.Errorf("start_iso = %q: %v", asString(meeting, "start_iso"), err)
	}
	if asString(body, "speech_text") == "" {
		t.Error("speech_text empty")
	}
}

func testTimeUntilNext(t *testing.T, client *http.Client, baseURL string) {
	status, body, _ := getJSON(t, client, baseURL+"/api/alexa/time-until-next", testToken)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	secs, ok := body["seconds_until_start"].(float64)
	if !ok || secs <= 3000 || secs > 3600 {
		t.Errorf("seconds_until_start = %v", body["seconds_until_start"])
	}
	if asString(body, "duration_spoken") == "" {
		t.Error("duration_spoken empty")
	}
}

func testDoneForDay(t *testing.T, client *http.Client, baseURL string) {
	status, body, _ := getJSON(t, client, baseURL+"/api/alexa/done-for-day?tz=UTC", testToken)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["tz"] != "UTC" {
		t.Errorf("tz = %v", body["tz"])
	}
	if _, ok := body["has_meetings_today"].(bool); !ok {
		t.Errorf("has_meetings_today = %v", body["has_meetings_today"])
	}
	if _, err := time.Parse("2006-01-02T15:04:05Z", asString(body, "now_iso")); err != nil {
		t.Errorf("now_iso = %q: %v", asString(body, "now_iso"), err)
	}
	if asString(body, "speech_text") == "" {
		t.Error("speech_text empty")
	}
}

func testLaunchSummary(t *testing.T, client *http.Client, baseURL string) {
	status, body, _ := getJSON(t, client, baseURL+"/api/alexa/launch-summary", testToken)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if asString(body, "speech_text") == "" {
		t.Error("speech_text empty")
	}
	done := asObject(body, "done_for_day")
	if done == nil {
		t.Fatalf("done_for_day = %v", body["done_for_day"])
	}
	if _, ok := done["done"].(bool); !ok {
		t.Errorf("done = %v", done["done"])
	}
}

func testMorningSummary(t *testing.T, client *http.Client, baseURL string) {
	tomorrow := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	url := baseURL + "/api/alexa/morning-summary?date=" + tomorrow.Format("2006-01-02") +
		"&detail_level=detailed&max_events=10"
	status, body, _ := getJSON(t, client, url, testToken)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	summary := asObject(body, "summary")
	if summary == nil {
		t.Fatal("summary missing")
	}
	if got := asString(summary, "preview_for"); got != tomorrow.Format("2006-01-02") {
		t.Errorf("preview_for = %q", got)
	}
	total, _ := summary["total_meetings_equivalent"].(float64)
	if total < 1 {
		t.Errorf("total_meetings_equivalent = %v", summary["total_meetings_equivalent"])
	}
	events, ok := summary["events"].([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("events = %v", summary["events"])
	}
	found := false
	for _, raw := range events {
		ev, _ := raw.(map[string]any)
		if ev["subject"] == "Planning" {
			found = true
		}
	}
	if !found {
		t.Error("Planning event missing from preview")
	}

	// Unknown params are rejected, not ignored.
	status, body, _ = getJSON(t, client, baseURL+"/api/alexa/morning-summary?frobnicate=1", testToken)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown param: status = %d", status)
	}
	if body["error"] != "Bad request" {
		t.Errorf("unknown param: body = %v", body)
	}
}
