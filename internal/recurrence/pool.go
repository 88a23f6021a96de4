package recurrence

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
)

// ErrPoolClosed is returned by Expand after Shutdown has been called.
var ErrPoolClosed = errors.New("recurrence: pool closed")

// Pool expands recurring masters into concrete occurrences under hard
// budgets: a concurrency bound, a per-rule occurrence cap, a day window, and
// a per-rule time budget. Expansion terminates on whichever budget trips
// first (UNTIL and COUNT are enforced inside the rule iterator).
type Pool struct {
	concurrency    int
	maxOccurrences int
	expansionDays  int
	timeBudget     time.Duration
	yieldEvery     int

	sem    *semaphore.Weighted
	clock  clockwork.Clock
	logger zerolog.Logger

	lifeCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(cfg config.ExpanderConfig, clock clockwork.Clock, logger zerolog.Logger) *Pool {
	p := &Pool{
		concurrency:    cfg.Concurrency,
		maxOccurrences: cfg.MaxOccurrencesPerRule,
		expansionDays:  cfg.ExpansionDays,
		timeBudget:     cfg.TimeBudgetPerRule,
		yieldEvery:     cfg.YieldFrequency,
		clock:          clock,
		logger:         logger,
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.maxOccurrences < 1 {
		p.maxOccurrences = 250
	}
	if p.expansionDays < 1 {
		p.expansionDays = 365
	}
	if p.timeBudget <= 0 {
		p.timeBudget = 200 * time.Millisecond
	}
	if p.yieldEvery < 1 {
		p.yieldEvery = 50
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	p.sem = semaphore.NewWeighted(int64(p.concurrency))
	p.lifeCtx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Expand materializes the master's RRULE into instance events whose start
// falls in [anchor, anchor+expansionDays]. Durations are preserved, instance
// IDs carry the occurrence timestamp, and each instance links back to the
// master through RRuleMasterUID.
func (p *Pool) Expand(ctx context.Context, master model.Event, anchor time.Time) ([]model.Event, []string, error) {
	if err := p.lifeCtx.Err(); err != nil {
		return nil, nil, ErrPoolClosed
	}
	rule, err := Parse(master.RRule)
	if err != nil {
		return nil, nil, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer p.sem.Release(1)
	p.wg.Add(1)
	defer p.wg.Done()

	materialized, err := rule.materialize(master.Start.Instant)
	if err != nil {
		return nil, nil, err
	}

	var (
		windowEnd = anchor.AddDate(0, 0, p.expansionDays)
		deadline  = p.clock.Now().Add(p.timeBudget)
		duration  = master.Duration()
		next      = materialized.Iterator()

		occurrences []time.Time
		generated   int
		stop        string
	)

	for {
		if generated > 0 && generated%p.yieldEvery == 0 {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			if err := p.lifeCtx.Err(); err != nil {
				return nil, nil, ErrPoolClosed
			}
		}
		if p.clock.Now().After(deadline) {
			stop = "time_budget"
			break
		}
		occ, ok := next()
		if !ok {
			break
		}
		generated++
		if occ.After(windowEnd) {
			stop = "window_end"
			break
		}
		if occ.Before(anchor) {
			continue
		}
		occurrences = append(occurrences, occ)
		if len(occurrences) >= p.maxOccurrences {
			stop = "max_occurrences"
			break
		}
	}

	if stop != "" {
		p.logger.Debug().
			Str("master_uid", master.ID).
			Str("reason", stop).
			Int("occurrences", len(occurrences)).
			Msg("rrule expansion stopped early")
	}

	kept, warnings := ApplyExDates(occurrences, master.ExDates)

	instances := make([]model.Event, 0, len(kept))
	for _, occ := range kept {
		inst := master
		inst.ID = master.InstanceID(occ)
		inst.RRuleMasterUID = master.ID
		inst.RRule = ""
		inst.ExDates = nil
		inst.Start = model.EventTime{Instant: occ, Timezone: master.Start.Timezone}
		inst.End = model.EventTime{Instant: occ.Add(duration), Timezone: master.End.Timezone}
		instances = append(instances, inst)
	}
	return instances, warnings, nil
}

// Shutdown cancels all in-flight expansions and waits for them to unwind,
// bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
