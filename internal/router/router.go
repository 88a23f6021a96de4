// Package router assembles the HTTP surface: the open health endpoint plus
// the authenticated Alexa query routes, wrapped in request-ID and access-log
// middleware.
package router

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/api"
	"github.com/sonroyaalmerol/calendarbot/internal/config"
)

type Router struct {
	config   *config.Config
	handlers *api.Handlers
	logger   zerolog.Logger
}

func New(cfg *config.Config, h *api.Handlers, logger zerolog.Logger) http.Handler {
	r := &Router{
		config:   cfg,
		handlers: h,
		logger:   logger,
	}
	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", r.handlers.Health())

	// Method and auth checks live in the handler envelope so that rejected
	// requests still get JSON bodies instead of the mux defaults.
	mux.HandleFunc("/api/alexa/next-meeting", r.handlers.NextMeeting())
	mux.HandleFunc("/api/alexa/time-until-next", r.handlers.TimeUntilNext())
	mux.HandleFunc("/api/alexa/done-for-day", r.handlers.DoneForDay())
	mux.HandleFunc("/api/alexa/launch-summary", r.handlers.LaunchSummary())
	mux.HandleFunc("/api/alexa/morning-summary", r.handlers.MorningSummary())

	var handler http.Handler = mux
	if r.config.HTTP.MaxRequestBytes > 0 {
		handler = http.MaxBytesHandler(handler, r.config.HTTP.MaxRequestBytes)
	}
	return r.accessLog(handler)
}
