// Package pipeline composes the ordered stages that turn raw ICS bytes into
// the ranked event list handed to the window manager. Stages share one
// mutable Context and report per-stage counts; the first failing stage
// short-circuits the run.
package pipeline

import (
	"context"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
)

// Context is the shared container flowing through the stages. Each stage
// reads what it needs and replaces Events in place.
type Context struct {
	Events          []model.Event
	RawContent      []byte
	Components      []*ical.Component
	SourceURL       string
	SkippedEventIDs map[string]string
	WindowStart     *time.Time
	WindowEnd       *time.Time
	EventWindowSize int
	Metadata        model.CalendarMetadata
	Extra           map[string]any
}

// Result describes what one stage did.
type Result struct {
	StageName      string
	Success        bool
	EventsIn       int
	EventsOut      int
	EventsFiltered int
	Warnings       []string
	Errors         []string
}

func newResult(stage string, in int) Result {
	return Result{StageName: stage, Success: true, EventsIn: in}
}

// AddWarning records a non-fatal observation.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddError records a failure; any error marks the stage unsuccessful.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}

func (r *Result) finish(out int) {
	r.EventsOut = out
	if d := r.EventsIn - out; d > 0 {
		r.EventsFiltered = d
	}
}

// Stage is one processing step. Process mutates pctx.Events and returns a
// Result; returning Success=false stops the pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, pctx *Context) Result
}

// RunResult aggregates the per-stage results of one pipeline run.
type RunResult struct {
	Success  bool
	Results  []Result
	Warnings []string
}

// FailedStage returns the first failing stage result, if any.
func (r *RunResult) FailedStage() *Result {
	for i := range r.Results {
		if !r.Results[i].Success {
			return &r.Results[i]
		}
	}
	return nil
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	stages []Stage
	logger zerolog.Logger
}

func New(logger zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger}
}

// Run executes the stages in order against pctx. The first stage reporting
// failure short-circuits the run; warnings accumulate across stages.
func (p *Pipeline) Run(ctx context.Context, pctx *Context) RunResult {
	run := RunResult{Success: true}
	for _, stage := range p.stages {
		res := stage.Process(ctx, pctx)
		run.Results = append(run.Results, res)
		run.Warnings = append(run.Warnings, res.Warnings...)

		p.logger.Debug().
			Str("stage", res.StageName).
			Str("source_url", pctx.SourceURL).
			Int("events_in", res.EventsIn).
			Int("events_out", res.EventsOut).
			Int("events_filtered", res.EventsFiltered).
			Bool("success", res.Success).
			Msg("pipeline stage")

		if !res.Success {
			run.Success = false
			p.logger.Error().
				Str("stage", res.StageName).
				Str("source_url", pctx.SourceURL).
				Strs("errors", res.Errors).
				Msg("pipeline stage failed, aborting run")
			return run
		}
	}
	return run
}
