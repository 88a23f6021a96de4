// Package health tracks refresh attempts, successes, and background-task
// heartbeats, and renders the snapshot served on /health.
package health

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

const (
	// refreshOKThreshold is how stale the last successful refresh may be
	// before the service reports degraded.
	refreshOKThreshold = 15 * time.Minute
	// heartbeatStaleThreshold is how long a background task may go without a
	// heartbeat before it reports stale.
	heartbeatStaleThreshold = 10 * time.Minute
)

// TaskStatus describes one supervised background task.
type TaskStatus struct {
	Name              string  `json:"name"`
	LastHeartbeatAgeS float64 `json:"last_heartbeat_age_s"`
	Status            string  `json:"status"`
}

// Status is the snapshot served on /health.
type Status struct {
	Status                       string       `json:"status"`
	ServerTimeISO                string       `json:"server_time_iso"`
	UptimeSeconds                float64      `json:"uptime_seconds"`
	PID                          int          `json:"pid"`
	EventCount                   int          `json:"event_count"`
	LastRefreshSuccessAgeSeconds *float64     `json:"last_refresh_success_age_seconds"`
	BackgroundTasks              []TaskStatus `json:"background_tasks"`
}

// Tracker is the mutex-protected monotone health state. All record methods
// are safe for concurrent use; Snapshot never exposes a torn read.
type Tracker struct {
	clock clockwork.Clock

	mu          sync.Mutex
	startedAt   time.Time
	pid         int
	attempts    uint64
	successes   uint64
	lastAttempt time.Time
	lastSuccess time.Time
	eventCount  int
	heartbeats  map[string]time.Time
}

func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		clock:      clock,
		startedAt:  clock.Now(),
		pid:        os.Getpid(),
		heartbeats: make(map[string]time.Time),
	}
}

// RecordRefreshAttempt notes that a refresh tick started.
func (t *Tracker) RecordRefreshAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.lastAttempt = t.clock.Now()
}

// RecordRefreshSuccess notes a refresh that left the window in a good state,
// along with the number of events it holds.
func (t *Tracker) RecordRefreshSuccess(eventCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes++
	t.lastSuccess = t.clock.Now()
	t.eventCount = eventCount
}

// RecordHeartbeat marks the named background task alive.
func (t *Tracker) RecordHeartbeat(task string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heartbeats[task] = t.clock.Now()
}

// Snapshot renders the current health state. The service is ok only while
// the last successful refresh is recent; a task that stopped heartbeating
// reports stale.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	st := Status{
		Status:        "degraded",
		ServerTimeISO: timeutil.FormatISO(now),
		UptimeSeconds: now.Sub(t.startedAt).Seconds(),
		PID:           t.pid,
		EventCount:    t.eventCount,
	}

	if !t.lastSuccess.IsZero() {
		age := now.Sub(t.lastSuccess).Seconds()
		st.LastRefreshSuccessAgeSeconds = &age
		if now.Sub(t.lastSuccess) <= refreshOKThreshold {
			st.Status = "ok"
		}
	}

	for name, beat := range t.heartbeats {
		task := TaskStatus{
			Name:              name,
			LastHeartbeatAgeS: now.Sub(beat).Seconds(),
			Status:            "running",
		}
		if now.Sub(beat) > heartbeatStaleThreshold {
			task.Status = "stale"
		}
		st.BackgroundTasks = append(st.BackgroundTasks, task)
	}
	// Stable order so the JSON payload does not shuffle between requests.
	sort.Slice(st.BackgroundTasks, func(i, j int) bool {
		return st.BackgroundTasks[i].Name < st.BackgroundTasks[j].Name
	})
	return st
}
