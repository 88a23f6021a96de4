package precompute

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/pipeline"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

// Stages returns the side pipeline run after each window update. All stages
// operate on the final merged event list and only write selections; none of
// them mutates Events.
func Stages(tz string, clock clockwork.Clock) []pipeline.Stage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return []pipeline.Stage{
		&NextMeetingStage{Timezone: tz},
		&TimeUntilStage{Timezone: tz},
		&DoneForDayStage{Timezone: tz, Clock: clock},
	}
}

// Collect pulls the selections a precompute run left in the pipeline context
// and stamps them with the window version they were computed from.
func Collect(pctx *pipeline.Context, version uint64) map[string]Selection {
	out := make(map[string]Selection)
	raw, ok := pctx.Extra[ExtraKey]
	if !ok {
		return out
	}
	sels, ok := raw.(map[string]Selection)
	if !ok {
		return out
	}
	for k, sel := range sels {
		sel.WindowVersion = version
		out[k] = sel
	}
	return out
}

func putSelection(pctx *pipeline.Context, sel Selection) {
	if pctx.Extra == nil {
		pctx.Extra = make(map[string]any)
	}
	sels, _ := pctx.Extra[ExtraKey].(map[string]Selection)
	if sels == nil {
		sels = make(map[string]Selection)
		pctx.Extra[ExtraKey] = sels
	}
	sels[selectionKey(sel.Kind, sel.Timezone)] = sel
}

func buildCandidates(events []model.Event) []Candidate {
	cands := make([]Candidate, 0, len(events))
	for _, ev := range events {
		cands = append(cands, Candidate{
			ID:       ev.ID,
			Subject:  ev.Subject,
			Start:    ev.Start.Instant,
			End:      ev.End.Instant,
			Location: ev.Location,
			IsOnline: ev.IsOnlineMeeting,
			IsAllDay: ev.IsAllDay,
		})
	}
	return cands
}

// NextMeetingStage captures the ordered candidates the next-meeting handler
// scans. The handler picks the first candidate starting after serve-time now,
// so the selection stays valid for the whole life of the window version.
type NextMeetingStage struct {
	Timezone string
}

func (s *NextMeetingStage) Name() string { return "precompute_next_meeting" }

func (s *NextMeetingStage) Process(_ context.Context, pctx *pipeline.Context) pipeline.Result {
	res := newStageResult(s.Name(), len(pctx.Events))
	putSelection(pctx, Selection{
		Kind:       KindNextMeeting,
		Timezone:   s.Timezone,
		Candidates: buildCandidates(pctx.Events),
	})
	return res
}

// TimeUntilStage mirrors NextMeetingStage under its own key; the two handlers
// share selection logic but invalidate independently.
type TimeUntilStage struct {
	Timezone string
}

func (s *TimeUntilStage) Name() string { return "precompute_time_until" }

func (s *TimeUntilStage) Process(_ context.Context, pctx *pipeline.Context) pipeline.Result {
	res := newStageResult(s.Name(), len(pctx.Events))
	putSelection(pctx, Selection{
		Kind:       KindTimeUntil,
		Timezone:   s.Timezone,
		Candidates: buildCandidates(pctx.Events),
	})
	return res
}

// DoneForDayStage resolves today's verdict: whether any event falls on
// today's local date and when the last one ends. The selection records the
// date it answered for; a handler serving on a later date must recompute.
type DoneForDayStage struct {
	Timezone string
	Clock    clockwork.Clock
}

func (s *DoneForDayStage) Name() string { return "precompute_done_for_day" }

func (s *DoneForDayStage) Process(_ context.Context, pctx *pipeline.Context) pipeline.Result {
	res := newStageResult(s.Name(), len(pctx.Events))

	loc := timeutil.LocationOrUTC(s.Timezone)
	now := s.Clock.Now()

	sel := Selection{
		Kind:      KindDoneForDay,
		Timezone:  s.Timezone,
		LocalDate: now.In(loc).Format(time.DateOnly),
	}
	sel.HasMeetings, sel.LastStart, sel.LastEnd = DoneVerdict(pctx.Events, now, loc)
	putSelection(pctx, sel)
	return res
}

// DoneVerdict scans events whose local date matches now's and returns whether
// any exist plus the start and end of the one ending last. Handlers falling
// back to on-demand computation use the same scan, so the precomputed and
// live answers cannot drift.
func DoneVerdict(events []model.Event, now time.Time, loc *time.Location) (hasMeetings bool, lastStart, lastEnd time.Time) {
	for _, ev := range events {
		if ev.Start.IsZero() || !timeutil.SameLocalDate(ev.Start.Instant, now, loc) {
			continue
		}
		end := ev.End.Instant
		if end.IsZero() {
			end = ev.Start.Instant
		}
		if !hasMeetings || end.After(lastEnd) {
			hasMeetings = true
			lastStart = ev.Start.Instant
			lastEnd = end
		}
	}
	return hasMeetings, lastStart, lastEnd
}

func newStageResult(stage string, count int) pipeline.Result {
	return pipeline.Result{
		StageName: stage,
		Success:   true,
		EventsIn:  count,
		EventsOut: count,
	}
}
