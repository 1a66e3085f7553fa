// Package memory implements store.Store in process memory.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

// Store keeps records in a map guarded by a RWMutex. It is the default for
// single-process deployments and tests.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]*store.Record // ns -> id -> record
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]map[string]*store.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Create(_ context.Context, ns, typ, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[ns]
	if !ok {
		bucket = make(map[string]*store.Record)
		s.records[ns] = bucket
	}
	if _, exists := bucket[id]; exists {
		return store.ErrConflict
	}
	now := s.now()
	bucket[id] = &store.Record{
		Namespace: ns,
		Type:      typ,
		ID:        id,
		Data:      slices.Clone(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *Store) Get(_ context.Context, ns, id string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ns][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) Update(_ context.Context, ns, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ns][id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Data = slices.Clone(data)
	rec.UpdatedAt = s.now()
	return nil
}

func (s *Store) Delete(_ context.Context, ns, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[ns], id)
	return nil
}

func (s *Store) List(_ context.Context, ns, typ string, opts store.ListOptions) ([]*store.Record, error) {
	s.mu.RLock()
	out := make([]*store.Record, 0, len(s.records[ns]))
	for _, rec := range s.records[ns] {
		if rec.Type == typ {
			out = append(out, clone(rec))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *store.Record) int { return strings.Compare(b.ID, a.ID) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func clone(r *store.Record) *store.Record {
	c := *r
	c.Data = slices.Clone(r.Data)
	return &c
}
