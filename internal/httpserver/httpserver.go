// Package httpserver wires the service together: skipped store, event
// window, refresh loop, query handlers, and routes, plus ordered shutdown.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/api"
	"github.com/sonroyaalmerol/calendarbot/internal/auth"
	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/health"
	"github.com/sonroyaalmerol/calendarbot/internal/precompute"
	"github.com/sonroyaalmerol/calendarbot/internal/recurrence"
	"github.com/sonroyaalmerol/calendarbot/internal/refresh"
	"github.com/sonroyaalmerol/calendarbot/internal/respcache"
	"github.com/sonroyaalmerol/calendarbot/internal/router"
	"github.com/sonroyaalmerol/calendarbot/internal/skipped"
	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
	"github.com/sonroyaalmerol/calendarbot/internal/window"
)

type Server struct {
	http      *http.Server
	refresher *refresh.Refresher
	pool      *recurrence.Pool
	logger    zerolog.Logger

	cancelRefresh context.CancelFunc
	refreshDone   chan struct{}
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	clock := clockwork.NewRealClock()

	store, err := skipped.Open(cfg.Skipped, logger)
	if err != nil {
		return nil, nil, err
	}

	if len(cfg.Sources) == 0 {
		logger.Warn().Msg("no ICS sources configured, serving an empty window")
	}

	loc := timeutil.LocationOrUTC(cfg.DefaultTimezone)
	win := window.NewManager(cfg.Refresh.EventWindowSize, loc, clock, logger)
	cache := respcache.New(cfg.Cache.MaxEntries)
	pre := precompute.NewStore()
	tracker := health.NewTracker(clock)
	pool := recurrence.NewPool(cfg.Expander, clock, logger)

	authn := auth.NewChain(cfg.Auth, logger)
	refresher := refresh.New(cfg, pool, win, cache, pre, tracker, store, clock, logger)
	handlers := api.NewHandlers(cfg, win, cache, pre, tracker, authn, clock, logger)
	mux := router.New(cfg, handlers, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		},
		refresher: refresher,
		pool:      pool,
		logger:    logger,
	}
	cleanup := func() {
		store.Close()
	}
	logger.Info().Msgf("listening on %s (sources=%d, tz=%s)", cfg.HTTP.Addr, len(cfg.Sources), cfg.DefaultTimezone)
	return srv, cleanup, nil
}

// Start launches the refresh loop and serves HTTP until Shutdown. A graceful
// shutdown returns nil.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRefresh = cancel
	s.refreshDone = make(chan struct{})
	go func() {
		defer close(s.refreshDone)
		s.refresher.Run(ctx)
	}()

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight HTTP requests first, then stops the refresh loop
// and the expansion pool. Every phase is bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	if s.cancelRefresh != nil {
		s.cancelRefresh()
		select {
		case <-s.refreshDone:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}
	}

	if poolErr := s.pool.Shutdown(ctx); poolErr != nil {
		err = errors.Join(err, poolErr)
	}
	return err
}
