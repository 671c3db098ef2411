package storage

import (
	"context"
	"maps"
	"sync"

	"admission/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-instance
// deployments where audit history does not need to survive a restart.
type MemoryStorage struct {
	mu        sync.RWMutex
	events    []*models.AuditEvent // oldest first
	maxEvents int
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		events:    make([]*models.AuditEvent, 0),
		maxEvents: config.MaxEvents,
	}, nil
}

// RecordEvent stores a copy of event, dropping the oldest events beyond
// the configured cap.
func (m *MemoryStorage) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, copyEvent(event))
	m.events = trimOldest(m.events, m.maxEvents)
	return nil
}

// ListEvents returns events matching filter, newest first
func (m *MemoryStorage) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return selectEvents(m.events, filter), nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

// copyEvent returns a deep copy to prevent external modification.
func copyEvent(e *models.AuditEvent) *models.AuditEvent {
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

// trimOldest drops events from the front so at most max remain.
func trimOldest(events []*models.AuditEvent, max int) []*models.AuditEvent {
	if max <= 0 || len(events) <= max {
		return events
	}
	drop := len(events) - max
	clear(events[:drop])
	return events[drop:]
}

// selectEvents walks events (oldest first) from the end and returns copies
// of the matches, newest first, up to the filter's limit.
func selectEvents(events []*models.AuditEvent, filter models.EventFilter) []*models.AuditEvent {
	limit := filter.EffectiveLimit()
	out := make([]*models.AuditEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(events[i]) {
			out = append(out, copyEvent(events[i]))
		}
	}
	return out
}
