// Package skipped provides read access to the externally managed store of
// event IDs the user chose to hide. The serving core only consumes the read
// capability; writes happen through the concrete backends (see
// cmd/calendarbot-skipctl).
package skipped

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/skipped/postgres"
	"github.com/sonroyaalmerol/calendarbot/internal/skipped/sqlite"
)

// Store is the capability set the core consumes. Lookup errors are treated
// as "not skipped" by callers, with a warning log.
type Store interface {
	IsSkipped(ctx context.Context, id string) (bool, error)
	ActiveList(ctx context.Context) (map[string]string, error)
	Close() error
}

// Open builds the configured backend. The default ("null") skips nothing.
func Open(cfg config.SkippedStoreConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "", "null":
		return NullStore{}, nil
	case "memory":
		return NewMemory(cfg.SeedIDs), nil
	case "sqlite":
		return sqlite.New(cfg.SQLitePath, logger)
	case "postgres":
		return postgres.New(cfg.PostgresURL, logger)
	}
	return nil, fmt.Errorf("unknown skipped store type %q", cfg.Type)
}

// NullStore skips nothing. Used when no store is configured.
type NullStore struct{}

func (NullStore) IsSkipped(ctx context.Context, id string) (bool, error) { return false, nil }

func (NullStore) ActiveList(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (NullStore) Close() error { return nil }

// MemoryStore holds skipped IDs in process memory. Seeded from the
// environment for simple deployments; also handy in tests.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

func NewMemory(seed []string) *MemoryStore {
	m := &MemoryStore{ids: make(map[string]string, len(seed))}
	for _, id := range seed {
		m.ids[id] = "seeded"
	}
	return m
}

func (m *MemoryStore) IsSkipped(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[id]
	return ok, nil
}

func (m *MemoryStore) ActiveList(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.ids))
	for id, reason := range m.ids {
		out[id] = reason
	}
	return out, nil
}

func (m *MemoryStore) Add(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason == "" {
		reason = "skipped"
	}
	m.ids[id] = reason
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
