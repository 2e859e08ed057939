package cache

import (
	"context"
	"sync"
	"time"

	"github.com/contentops/promoflow/pkg/api"
	"github.com/google/uuid"
)

// MemoryCache is a goroutine-safe in-process Cache. It backs tests and
// single-node deployments that run without Redis. It never fails, so
// fail-open behaviour is trivially satisfied.
type MemoryCache struct {
	keys Keys

	mu      sync.Mutex
	entries map[string]memoryEntry
	windows map[string][]windowEntry
	subs    map[string][]chan *api.Progress

	// now is swappable in tests to step through rate-limit windows.
	now func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

type windowEntry struct {
	at    time.Time
	token string
}

// NewMemoryCache creates an empty MemoryCache with the given key
// namespace.
func NewMemoryCache(keys Keys) *MemoryCache {
	return &MemoryCache{
		keys:    keys,
		entries: make(map[string]memoryEntry),
		windows: make(map[string][]windowEntry),
		subs:    make(map[string][]chan *api.Progress),
		now:     time.Now,
	}
}

var _ Cache = (*MemoryCache)(nil)

func (m *MemoryCache) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *MemoryCache) Del(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *MemoryCache) Exists(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

func (m *MemoryCache) SetProgress(ctx context.Context, p *api.Progress) {
	data, err := encodeProgress(p)
	if err != nil {
		return
	}
	m.Set(ctx, m.keys.Workflow(p.SessionID), data, ProgressTTL)
}

func (m *MemoryCache) GetProgress(ctx context.Context, sessionID string) (*api.Progress, bool) {
	data, ok := m.Get(ctx, m.keys.Workflow(sessionID))
	if !ok {
		return nil, false
	}
	p, err := decodeProgress(data)
	if err != nil {
		return nil, false
	}
	return p, true
}

func (m *MemoryCache) RemoveProgress(ctx context.Context, sessionID string) {
	m.Del(ctx, m.keys.Workflow(sessionID))
}

func (m *MemoryCache) CheckRateLimit(ctx context.Context, identifier string, window time.Duration, maxRequests int) RateLimitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := m.keys.RateLimit(identifier)
	horizon := now.Add(-window)

	kept := m.windows[key][:0]
	for _, e := range m.windows[key] {
		if e.at.After(horizon) {
			kept = append(kept, e)
		}
	}

	if len(kept) >= maxRequests {
		m.windows[key] = kept
		return RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetTime: now.Add(window),
		}
	}

	kept = append(kept, windowEntry{at: now, token: uuid.NewString()})
	m.windows[key] = kept
	return RateLimitResult{
		Allowed:   true,
		Remaining: maxRequests - len(kept),
		ResetTime: now.Add(window),
	}
}

func (m *MemoryCache) PublishUpdate(ctx context.Context, p *api.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Sends stay under the lock so a concurrent cancel cannot close a
	// channel mid-send. They are non-blocking: a slow subscriber drops
	// the update rather than blocking the publisher, so the hold time
	// is bounded.
	for _, ch := range m.subs[m.keys.Updates(p.SessionID)] {
		select {
		case ch <- p:
		default:
		}
	}
}

func (m *MemoryCache) Subscribe(ctx context.Context, sessionID string) (<-chan *api.Progress, func()) {
	channel := m.keys.Updates(sessionID)
	ch := make(chan *api.Progress, 16)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}
