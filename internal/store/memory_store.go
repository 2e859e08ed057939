package store

import (
	"context"
	"sync"
	"time"

	"github.com/contentops/promoflow/pkg/api"
)

// MemoryStore is a goroutine-safe Store backed by maps. It is the
// default for tests and single-process development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*api.Session
	bundles  map[string]*api.ContentBundle

	// seq orders sessions with identical StartedAt so "latest for event"
	// is deterministic.
	seq     int64
	created map[string]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*api.Session),
		bundles:  make(map[string]*api.ContentBundle),
		created:  make(map[string]int64),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateSession(ctx context.Context, s *api.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.sessions[s.ID] = s.Clone()
	m.created[s.ID] = m.seq
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, api.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) LatestSessionForEvent(ctx context.Context, eventID string) (*api.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *api.Session
	var bestSeq int64
	for id, s := range m.sessions {
		if s.EventID != eventID {
			continue
		}
		if best == nil || s.StartedAt.After(best.StartedAt) ||
			(s.StartedAt.Equal(best.StartedAt) && m.created[id] > bestSeq) {
			best = s
			bestSeq = m.created[id]
		}
	}
	if best == nil {
		return nil, api.ErrEventNotFound
	}
	return best.Clone(), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, s *api.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return api.ErrSessionNotFound
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[api.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[api.Status]int64)
	for _, s := range m.sessions {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) UpsertBundle(ctx context.Context, eventID string, content api.GeneratedContent) (*api.ContentBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bundles[eventID]
	if !ok {
		b = &api.ContentBundle{EventID: eventID}
		m.bundles[eventID] = b
	}
	b.Content.Merge(content)
	b.GenerationCount++
	b.LastRegenerated = time.Now().UTC()

	out := *b
	return &out, nil
}

func (m *MemoryStore) GetBundle(ctx context.Context, eventID string) (*api.ContentBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bundles[eventID]
	if !ok {
		return nil, api.ErrBundleNotFound
	}
	out := *b
	return &out, nil
}

func (m *MemoryStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, s := range m.sessions {
		if s.Status.Terminal() && s.StartedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.created, id)
			removed++
		}
	}
	return removed, nil
}
