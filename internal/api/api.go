// Package api serves the voice query endpoints and the health surface.
// Every query endpoint runs the same envelope: method check, auth, parameter
// validation, response-cache lookup, window snapshot, compute, cache store,
// telemetry. Payloads are rendered fully before the first byte is written, so
// a panic always maps to a clean 500.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/auth"
	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/health"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
	"github.com/sonroyaalmerol/calendarbot/internal/precompute"
	"github.com/sonroyaalmerol/calendarbot/internal/respcache"
	"github.com/sonroyaalmerol/calendarbot/internal/speech"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
	"github.com/sonroyaalmerol/calendarbot/internal/window"
)

// Handler names used in cache keys and telemetry.
const (
	handlerNextMeeting    = "next_meeting"
	handlerTimeUntil      = "time_until_next"
	handlerDoneForDay     = "done_for_day"
	handlerLaunchSummary  = "launch_summary"
	handlerMorningSummary = "morning_summary"
)

type Handlers struct {
	cfg       *config.Config
	window    *window.Manager
	cache     *respcache.Cache
	pre       *precompute.Store
	tracker   *health.Tracker
	auth      *auth.Chain
	presenter speech.Presenter
	clock     clockwork.Clock
	logger    zerolog.Logger
}

func NewHandlers(cfg *config.Config, win *window.Manager, cache *respcache.Cache, pre *precompute.Store, tracker *health.Tracker, authn *auth.Chain, clock clockwork.Clock, logger zerolog.Logger) *Handlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var presenter speech.Presenter = speech.Plain{}
	if cfg.SpeechSSML {
		presenter = speech.NewSSML()
	}
	return &Handlers{
		cfg:       cfg,
		window:    win,
		cache:     cache,
		pre:       pre,
		tracker:   tracker,
		auth:      authn,
		presenter: presenter,
		clock:     clock,
		logger:    logger,
	}
}

// request carries the per-request state the compute functions consume: the
// validated params, the resolved timezone, and one window snapshot.
type request struct {
	params  map[string]string
	tz      string
	loc     *time.Location
	now     time.Time
	events  []model.Event
	version uint64
}

type computeFunc func(rq *request) any

// alexa wraps a compute function in the shared request envelope.
func (h *Handlers) alexa(name string, schema paramSchema, compute computeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := h.clock.Now()
		status := http.StatusOK
		cacheHit := false

		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error().
					Str("handler", name).
					Interface("panic", rec).
					Msg("handler panicked")
				status = http.StatusInternalServerError
				h.writeError(w, status, "Internal server error", "An unexpected error occurred")
			}
			h.logger.Info().
				Str("handler", name).
				Int("status", status).
				Bool("cache_hit", cacheHit).
				Float64("latency_ms", float64(h.clock.Since(start).Microseconds())/1000.0).
				Msg("request handled")
		}()

		if r.Method != http.MethodGet {
			status = http.StatusMethodNotAllowed
			h.writeError(w, status, "Method not allowed", "")
			return
		}
		if _, err := h.auth.Authenticate(r.Context(), r.Header.Get("Authorization")); err != nil {
			status = http.StatusUnauthorized
			h.writeError(w, status, "Unauthorized", "")
			return
		}
		params, err := schema.validate(r.URL.Query())
		if err != nil {
			status = http.StatusBadRequest
			h.writeError(w, status, "Bad request", err.Error())
			return
		}

		key := h.cache.Key(name, params)
		if body, ok := h.cache.Get(key); ok {
			cacheHit = true
			h.writeRaw(w, http.StatusOK, body)
			return
		}

		body, err := json.Marshal(compute(h.newRequest(params)))
		if err != nil {
			status = http.StatusInternalServerError
			h.logger.Error().Err(err).Str("handler", name).Msg("response marshal failed")
			h.writeError(w, status, "Internal server error", "An unexpected error occurred")
			return
		}
		h.cache.Set(key, body)
		h.writeRaw(w, http.StatusOK, body)
	}
}

func (h *Handlers) newRequest(params map[string]string) *request {
	tz := params["tz"]
	if tz == "" {
		tz = params["timezone"]
	}
	if tz == "" {
		tz = h.cfg.DefaultTimezone
	}
	events, version := h.window.Snapshot()
	return &request{
		params:  params,
		tz:      tz,
		loc:     timeutil.LocationOrUTC(tz),
		now:     h.clock.Now(),
		events:  events,
		version: version,
	}
}

func (h *Handlers) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug().Err(err).Msg("response write failed")
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError renders an error body. Both strings pass the scrubber first, so
// no 4xx/5xx body carries memory addresses, tracebacks, or filesystem paths.
func (h *Handlers) writeError(w http.ResponseWriter, status int, errText, message string) {
	body, err := json.Marshal(errorBody{
		Error:   scrub(errText),
		Message: scrub(message),
	})
	if err != nil {
		body = []byte(`{"error":"Internal server error"}`)
	}
	h.writeRaw(w, status, body)
}

var scrubber = strings.NewReplacer(
	"0x", "",
	`File "`, "",
	"/home/", "",
	`C:\`, "",
	"/usr/", "",
)

func scrub(s string) string {
	return scrubber.Replace(s)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
