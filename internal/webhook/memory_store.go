package webhook

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	webhooks map[string]*OutboundWebhook
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{webhooks: make(map[string]*OutboundWebhook)}
}

func (m *MemoryStore) Create(_ context.Context, w *OutboundWebhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *w
	m.webhooks[w.ID] = &stored
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*OutboundWebhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.webhooks[id]
	if !ok {
		return nil, ErrWebhookNotFound
	}
	out := *w
	return &out, nil
}

func (m *MemoryStore) RecordAttempt(_ context.Context, id string, attempts int, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.webhooks[id]
	if !ok {
		return ErrWebhookNotFound
	}
	w.Attempts = attempts
	w.Status = status
	w.LastAttemptAt = &at
	return nil
}

// SetTargetURL redirects a pending webhook. Used by operators to repoint
// in-flight retries.
func (m *MemoryStore) SetTargetURL(id, targetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.webhooks[id]
	if !ok {
		return ErrWebhookNotFound
	}
	w.TargetURL = targetURL
	return nil
}

// All returns a snapshot of every webhook. Test helper.
func (m *MemoryStore) All() []*OutboundWebhook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*OutboundWebhook, 0, len(m.webhooks))
	for _, w := range m.webhooks {
		copied := *w
		out = append(out, &copied)
	}
	return out
}
