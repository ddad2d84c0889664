package storystore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tbleier/fabelwerk/pkg/fault"
)

// MemStore is an in-memory [Store] for development and tests. Values are
// deep-copied through JSON on the way in and out so callers cannot mutate
// stored state.
type MemStore struct {
	mu      sync.RWMutex
	drafts  map[string]*Draft
	stories map[string]*Story
	now     func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		drafts:  make(map[string]*Draft),
		stories: make(map[string]*Story),
		now:     time.Now,
	}
}

// UpsertDraft implements [Store].
func (m *MemStore) UpsertDraft(_ context.Context, d *Draft) error {
	cp, err := deepCopy(d)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if old, ok := m.drafts[d.ID]; ok {
		cp.CreatedAt = old.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	d.CreatedAt, d.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	m.drafts[d.ID] = cp
	return nil
}

// GetDraft implements [Store].
func (m *MemStore) GetDraft(_ context.Context, id string) (*Draft, error) {
	m.mu.RLock()
	d, ok := m.drafts[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fault.NotFoundf("draft %s not found", id)
	}
	return deepCopy(d)
}

// DeleteDraft implements [Store].
func (m *MemStore) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

// SaveStory implements [Store].
func (m *MemStore) SaveStory(_ context.Context, s *Story) error {
	cp, err := deepCopy(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if old, ok := m.stories[s.ID]; ok {
		cp.CreatedAt = old.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.CreatedAt, s.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	m.stories[s.ID] = cp
	return nil
}

// GetStory implements [Store].
func (m *MemStore) GetStory(_ context.Context, id string) (*Story, error) {
	m.mu.RLock()
	s, ok := m.stories[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fault.NotFoundf("story %s not found", id)
	}
	return deepCopy(s)
}

// Ping implements [Store]. Memory is always reachable.
func (m *MemStore) Ping(context.Context) error {
	return nil
}

func deepCopy[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
