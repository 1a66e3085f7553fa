// Package idempotency remembers which event id a caller-supplied
// idempotency key was first assigned, so a retried publish reuses it.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Store claims keys.
type Store interface {
	// Claim binds key to eventID unless the key is already bound. It returns
	// the bound event id and whether this call made the binding.
	Claim(ctx context.Context, key, eventID string) (boundID string, fresh bool, err error)
	// Complete marks the publish of eventID under key as fully fanned out.
	Complete(ctx context.Context, key, eventID string) error
	// Completed reports whether Complete was called for key and eventID.
	Completed(ctx context.Context, key, eventID string) (bool, error)
}

// Memory is a process-local Store.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	eventID   string
	expires   time.Time
	completed bool
}

// NewMemory returns a Memory store; ttl <= 0 selects DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *Memory) Claim(_ context.Context, key, eventID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return e.eventID, false, nil
	}
	m.entries[key] = memoryEntry{eventID: eventID, expires: now.Add(m.ttl)}
	if len(m.entries)%256 == 0 {
		m.pruneLocked(now)
	}
	return eventID, true, nil
}

func (m *Memory) pruneLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) Complete(_ context.Context, key, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.eventID == eventID && m.now().Before(e.expires) {
		e.completed = true
		m.entries[key] = e
	}
	return nil
}

func (m *Memory) Completed(_ context.Context, key, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && e.completed && e.eventID == eventID && m.now().Before(e.expires), nil
}
