// Package refresh drives the periodic ingestion cycle: fetch every source,
// parse and expand each feed, merge, publish the event window, then rebuild
// the response cache and the precomputed selections. Source failures are
// isolated; a tick never takes the loop down.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/fetch"
	"github.com/sonroyaalmerol/calendarbot/internal/health"
	"github.com/sonroyaalmerol/calendarbot/internal/ics"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/pipeline"
	"github.com/sonroyaalmerol/calendarbot/internal/precompute"
	"github.com/sonroyaalmerol/calendarbot/internal/recurrence"
	"github.com/sonroyaalmerol/calendarbot/internal/respcache"
	"github.com/sonroyaalmerol/calendarbot/internal/skipped"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
	"github.com/sonroyaalmerol/calendarbot/internal/window"
)

const heartbeatTask = "refresher"

// Fetch fan-out stays small regardless of configuration; feeds are few and
// remote calendars dislike bursts.
const (
	minFetchConcurrency = 1
	maxFetchConcurrency = 3
)

// sourceState carries what one source needs for conditional requests: the
// validators of the last 200 and the events parsed from it, reused on a 304.
type sourceState struct {
	etag         string
	lastModified string
	events       []model.Event
}

// TickResult summarizes one refresh pass.
type TickResult struct {
	SourcesOK    int
	SourcesTotal int
	Publish      window.PublishResult
	Success      bool
}

type Refresher struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
	pool    *recurrence.Pool
	window  *window.Manager
	cache   *respcache.Cache
	pre     *precompute.Store
	tracker *health.Tracker
	store   skipped.Store
	clock   clockwork.Clock
	logger  zerolog.Logger

	perSource *pipeline.Pipeline
	merge     *pipeline.Pipeline
	loc       *time.Location
	interval  time.Duration
	fanOut    int

	mu     sync.Mutex
	states map[string]*sourceState
}

func New(cfg *config.Config, pool *recurrence.Pool, win *window.Manager, cache *respcache.Cache, pre *precompute.Store, tracker *health.Tracker, store skipped.Store, clock clockwork.Clock, logger zerolog.Logger) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.Refresh.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	fanOut := cfg.Refresh.FetchConcurrency
	if fanOut < minFetchConcurrency {
		fanOut = minFetchConcurrency
	}
	if fanOut > maxFetchConcurrency {
		fanOut = maxFetchConcurrency
	}

	parser := ics.NewParser(cfg.Parser, clock, logger)
	return &Refresher{
		cfg:     cfg,
		fetcher: fetch.New(cfg.Fetch, clock, logger),
		pool:    pool,
		window:  win,
		cache:   cache,
		pre:     pre,
		tracker: tracker,
		store:   store,
		clock:   clock,
		logger:  logger,
		perSource: pipeline.New(logger,
			&pipeline.ParseStage{Parser: parser},
			&pipeline.ExpandStage{Pool: pool, Clock: clock},
			&pipeline.TimeWindowStage{},
			&pipeline.DedupeStage{},
			&pipeline.SortStage{},
			&pipeline.LimitStage{},
		),
		merge: pipeline.New(logger,
			&pipeline.DedupeStage{},
			&pipeline.SortStage{},
		),
		loc:      timeutil.LocationOrUTC(cfg.DefaultTimezone),
		interval: interval,
		fanOut:   fanOut,
		states:   make(map[string]*sourceState),
	}
}

// Run drives the periodic cycle until ctx is cancelled. The first refresh
// happens immediately so the window fills before the first tick elapses.
func (r *Refresher) Run(ctx context.Context) {
	r.RefreshOnce(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("refresher stopping")
			return
		case <-ticker.Chan():
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce executes one full refresh pass. A panic anywhere in the pass is
// contained here so the loop survives it.
func (r *Refresher) RefreshOnce(ctx context.Context) (result TickResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("refresh tick panicked")
		}
	}()

	started := r.clock.Now()
	r.tracker.RecordRefreshAttempt()
	r.tracker.RecordHeartbeat(heartbeatTask)

	result.SourcesTotal = len(r.cfg.Sources)
	skippedIDs := r.skippedIDs(ctx)

	var (
		mu     sync.Mutex
		merged []model.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanOut)
	for _, src := range r.cfg.Sources {
		g.Go(func() error {
			events, ok := r.refreshSource(gctx, src)
			if !ok {
				return nil
			}
			mu.Lock()
			merged = append(merged, events...)
			result.SourcesOK++
			mu.Unlock()
			return nil
		})
	}
	// Per-source errors never propagate; Wait only orders the fan-in.
	_ = g.Wait()

	if len(r.cfg.Sources) > 1 {
		mctx := &pipeline.Context{Events: merged, SourceURL: "merge"}
		r.merge.Run(ctx, mctx)
		merged = mctx.Events
	}

	result.Publish = r.window.Publish(merged, skippedIDs, len(r.cfg.Sources))
	if result.Publish.Updated {
		// Invalidation first: selections must be keyed to the new version.
		r.cache.InvalidateAll()
		r.rebuildSelections(ctx)
	}

	result.Success = result.SourcesOK > 0 || result.Publish.Preserved
	if result.Success {
		r.tracker.RecordRefreshSuccess(result.Publish.Count)
	}

	r.logger.Info().
		Int("sources_ok", result.SourcesOK).
		Int("sources_total", result.SourcesTotal).
		Int("events", result.Publish.Count).
		Uint64("window_version", result.Publish.Version).
		Bool("preserved", result.Publish.Preserved).
		Dur("elapsed", r.clock.Since(started)).
		Msg("refresh pass finished")
	return result
}

// refreshSource fetches and parses one feed. Returns the events it
// contributes and whether the source counts as successful this pass. A 304
// reuses the previous parse without touching the pipeline.
func (r *Refresher) refreshSource(ctx context.Context, src string) ([]model.Event, bool) {
	state := r.state(src)
	res := r.fetcher.Fetch(ctx, src, state.etag, state.lastModified)
	if !res.Success {
		r.logger.Warn().
			Str("source_url", src).
			Str("reason", res.ErrorMessage).
			Int("attempts", res.Attempts).
			Msg("source fetch failed")
		return nil, false
	}
	if res.NotModified {
		r.logger.Debug().
			Str("source_url", src).
			Int("events", len(state.events)).
			Msg("source unchanged, reusing cached parse")
		return state.events, true
	}

	// Events from before today's local date can never be served; dropping
	// them here keeps the per-source cap from wasting slots on the past.
	horizonStart := timeutil.StartOfDay(r.clock.Now(), r.loc)
	pctx := &pipeline.Context{
		RawContent:      res.Body,
		SourceURL:       src,
		WindowStart:     &horizonStart,
		EventWindowSize: r.cfg.Refresh.EventWindowSize,
	}
	run := r.perSource.Run(ctx, pctx)
	if !run.Success {
		return nil, false
	}

	r.setState(src, res.ETag, res.LastModified, pctx.Events)
	return pctx.Events, true
}

// rebuildSelections runs the precompute side pipeline over the freshly
// published window for the server default timezone.
func (r *Refresher) rebuildSelections(ctx context.Context) {
	events, version := r.window.Snapshot()
	pctx := &pipeline.Context{Events: events, SourceURL: "precompute"}
	run := pipeline.New(r.logger, precompute.Stages(r.cfg.DefaultTimezone, r.clock)...).Run(ctx, pctx)
	if !run.Success {
		return
	}
	r.pre.ReplaceAll(precompute.Collect(pctx, version))
}

// skippedIDs loads the active skip list. Store trouble never blocks a
// refresh; the tick serves everything and logs the reason.
func (r *Refresher) skippedIDs(ctx context.Context) map[string]string {
	if r.store == nil {
		return nil
	}
	ids, err := r.store.ActiveList(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("skipped store unavailable, serving all events")
		return nil
	}
	return ids
}

func (r *Refresher) state(src string) sourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[src]; ok {
		return *st
	}
	return sourceState{}
}

func (r *Refresher) setState(src, etag, lastModified string, events []model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[src] = &sourceState{etag: etag, lastModified: lastModified, events: events}
}
