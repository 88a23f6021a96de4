// Package precompute captures, at refresh time, the candidates each query
// handler would consider, so the serve path can skip the window scan. Entries
// are keyed by handler kind and timezone and stamped with the window version;
// handlers re-render time-dependent fields at serve time, which keeps the
// precomputed answer observably identical to on-demand computation.
package precompute

import (
	"sync"
	"time"
)

// Handler kinds used in selection keys.
const (
	KindNextMeeting = "NextMeeting"
	KindTimeUntil   = "TimeUntil"
	KindDoneForDay  = "DoneForDay"
)

// ExtraKey is where the stages leave their selections in the pipeline
// context.
const ExtraKey = "precomputed_responses"

// Candidate is the slice of event state a handler needs to answer.
type Candidate struct {
	ID       string
	Subject  string
	Start    time.Time
	End      time.Time
	Location string
	IsOnline bool
	IsAllDay bool
}

// Selection is one precomputed answer basis. Candidates carries the ordered
// window events for the scanning handlers; the DoneForDay fields carry the
// day verdict together with the local date it was computed for.
type Selection struct {
	Kind          string
	Timezone      string
	WindowVersion uint64

	Candidates []Candidate

	LocalDate   string
	HasMeetings bool
	LastStart   time.Time
	LastEnd     time.Time
}

func selectionKey(kind, tz string) string { return kind + ":" + tz }

// Store holds the latest selections. ReplaceAll swaps the whole map
// atomically, so readers see either the previous refresh or the new one,
// never a mix.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Selection
}

func NewStore() *Store {
	return &Store{entries: make(map[string]Selection)}
}

// ReplaceAll installs the selections from one precompute run.
func (s *Store) ReplaceAll(entries map[string]Selection) {
	next := make(map[string]Selection, len(entries))
	for k, v := range entries {
		next[k] = v
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
}

// Get returns the selection for (kind, tz) if one exists for the given
// window version. Stale versions read as absent, which sends the handler
// down the on-demand path.
func (s *Store) Get(kind, tz string, version uint64) (Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.entries[selectionKey(kind, tz)]
	if !ok || sel.WindowVersion != version {
		return Selection{}, false
	}
	return sel, true
}

// Size reports how many selections are held.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
