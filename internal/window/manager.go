package window

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/model"
)

// PublishResult reports the outcome of one window publication attempt.
type PublishResult struct {
	Updated   bool
	Preserved bool
	Count     int
	Version   uint64
	Message   string
	Warnings  []string
}

// Manager owns the event window: a single-slot reference to an immutable,
// sorted slice of upcoming events plus a monotone version counter. Writers
// replace the slice under the mutex; readers take the mutex only to copy the
// reference and then iterate lock-free. Published slices are never mutated.
type Manager struct {
	size   int
	loc    *time.Location
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	slot    []model.Event
	version uint64
}

func NewManager(size int, loc *time.Location, clock clockwork.Clock, logger zerolog.Logger) *Manager {
	if size < 1 {
		size = 200
	}
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		size:   size,
		loc:    loc,
		clock:  clock,
		logger: logger,
	}
}

// Publish filters, sorts, and truncates the merged refresh output, then
// swaps it into the slot. When the refresh produced nothing and the slot is
// non-empty, the existing window is preserved untouched and the version is
// NOT bumped.
func (m *Manager) Publish(events []model.Event, skipped map[string]string, sourcesCount int) PublishResult {
	parsedCount := len(events)
	now := m.clock.Now()

	kept, warnings := FilterUpcoming(events, now, m.loc)
	kept = FilterServeable(kept)
	kept = FilterSkipped(kept, skipped)
	SortEvents(kept)
	if len(kept) > m.size {
		kept = kept[:m.size]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	preserve, message := SmartFallback(parsedCount, len(m.slot), sourcesCount)
	if preserve {
		m.logger.Warn().
			Int("existing_events", len(m.slot)).
			Int("sources", sourcesCount).
			Msg("refresh produced no events, preserving window")
		return PublishResult{
			Preserved: true,
			Count:     len(m.slot),
			Version:   m.version,
			Message:   message,
			Warnings:  warnings,
		}
	}

	m.slot = kept
	m.version++
	m.logger.Info().
		Int("events", len(kept)).
		Uint64("window_version", m.version).
		Str("decision", message).
		Msg("event window published")
	return PublishResult{
		Updated:  true,
		Count:    len(kept),
		Version:  m.version,
		Message:  message,
		Warnings: warnings,
	}
}

// Snapshot returns the current window slice and its version. The slice is
// immutable by contract; callers iterate it without further locking.
func (m *Manager) Snapshot() ([]model.Event, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot, m.version
}

// Version returns the current window version.
func (m *Manager) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}
