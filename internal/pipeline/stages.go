package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/sonroyaalmerol/calendarbot/internal/ics"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/recurrence"
	"github.com/sonroyaalmerol/calendarbot/internal/window"
)

// ParseStage feeds RawContent through the streaming parser and seeds
// Events, Components, and Metadata.
type ParseStage struct {
	Parser *ics.Parser
}

func (s *ParseStage) Name() string { return "parse" }

func (s *ParseStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))

	parsed := s.Parser.Parse(ctx, ics.NewBytesSource(pctx.RawContent), pctx.SourceURL)
	for _, w := range parsed.Warnings {
		res.AddWarning(w)
	}
	if !parsed.Success {
		res.AddError(parsed.ErrorMessage)
		res.finish(0)
		return res
	}

	pctx.Events = parsed.Events
	pctx.Components = parsed.Components
	pctx.Metadata = parsed.Metadata
	res.finish(len(pctx.Events))
	return res
}

// ExpandStage materializes recurring masters into concrete instances. A
// master whose rule cannot be parsed stays in the list unexpanded with a
// warning; a master that expands is replaced by its instances.
type ExpandStage struct {
	Pool  *recurrence.Pool
	Clock clockwork.Clock
}

func (s *ExpandStage) Name() string { return "rrule_expansion" }

func (s *ExpandStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))
	anchor := s.Clock.Now()

	out := make([]model.Event, 0, len(pctx.Events))
	for _, ev := range pctx.Events {
		if !ev.IsRecurring || ev.RRule == "" {
			out = append(out, ev)
			continue
		}

		instances, warnings, err := s.Pool.Expand(ctx, ev, anchor)
		for _, w := range warnings {
			res.AddWarning(w)
		}
		if err != nil {
			var perr *recurrence.ParseError
			if errors.As(err, &perr) {
				res.AddWarning(fmt.Sprintf("event %q left unexpanded: %v", ev.ID, err))
				out = append(out, ev)
				continue
			}
			res.AddError(fmt.Sprintf("expanding event %q: %v", ev.ID, err))
			res.finish(len(out))
			return res
		}
		out = append(out, instances...)
	}

	pctx.Events = out
	// Expansion usually grows the list; filtered counts only make sense for
	// the shrinking stages.
	res.EventsOut = len(out)
	return res
}

// DedupeStage keeps one event per ID. When two copies share an ID the one
// carrying more information wins; on equal scores the first seen stays.
// Running it twice equals running it once.
type DedupeStage struct{}

func (s *DedupeStage) Name() string { return "deduplication" }

func (s *DedupeStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))

	index := make(map[string]int, len(pctx.Events))
	out := make([]model.Event, 0, len(pctx.Events))
	for _, ev := range pctx.Events {
		at, seen := index[ev.ID]
		if !seen {
			index[ev.ID] = len(out)
			out = append(out, ev)
			continue
		}
		if ev.InfoScore() > out[at].InfoScore() {
			out[at] = ev
		}
	}

	pctx.Events = out
	res.finish(len(out))
	return res
}

// SortStage orders events ascending by start with an ID tie-break.
type SortStage struct{}

func (s *SortStage) Name() string { return "sort" }

func (s *SortStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))
	window.SortEvents(pctx.Events)
	res.finish(len(pctx.Events))
	return res
}

// SkippedFilterStage drops events the user chose to hide.
type SkippedFilterStage struct{}

func (s *SkippedFilterStage) Name() string { return "skipped_filter" }

func (s *SkippedFilterStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))
	pctx.Events = window.FilterSkipped(pctx.Events, pctx.SkippedEventIDs)
	res.finish(len(pctx.Events))
	return res
}

// TimeWindowStage keeps events whose start falls inside the inclusive
// [WindowStart, WindowEnd] range. Either bound may be nil.
type TimeWindowStage struct{}

func (s *TimeWindowStage) Name() string { return "time_window" }

func (s *TimeWindowStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))
	if pctx.WindowStart == nil && pctx.WindowEnd == nil {
		res.finish(len(pctx.Events))
		return res
	}

	kept := pctx.Events[:0:0]
	for _, ev := range pctx.Events {
		start := ev.Start.Instant
		if pctx.WindowStart != nil && start.Before(*pctx.WindowStart) {
			continue
		}
		if pctx.WindowEnd != nil && start.After(*pctx.WindowEnd) {
			continue
		}
		kept = append(kept, ev)
	}

	pctx.Events = kept
	res.finish(len(kept))
	return res
}

// LimitStage truncates the (already sorted) list to the window size.
type LimitStage struct{}

func (s *LimitStage) Name() string { return "event_limit" }

func (s *LimitStage) Process(ctx context.Context, pctx *Context) Result {
	res := newResult(s.Name(), len(pctx.Events))
	if pctx.EventWindowSize > 0 && len(pctx.Events) > pctx.EventWindowSize {
		pctx.Events = pctx.Events[:pctx.EventWindowSize]
	}
	res.finish(len(pctx.Events))
	return res
}
