package decision

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	decisions   map[string]*Decision // by decision id
	byRequestID map[string]string    // request id -> decision id
	plans       map[string]*Plan     // by plan id
	byDecision  map[string]string    // decision id -> plan id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions:   make(map[string]*Decision),
		byRequestID: make(map[string]string),
		plans:       make(map[string]*Plan),
		byDecision:  make(map[string]string),
	}
}

func (m *MemoryStore) CreateDecision(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.RequestID != "" {
		if _, exists := m.byRequestID[d.RequestID]; exists {
			return ErrDuplicateRequest
		}
		m.byRequestID[d.RequestID] = d.ID
	}

	stored := *d
	stored.Plan = nil
	m.decisions[d.ID] = &stored
	return nil
}

func (m *MemoryStore) GetDecisionByRequestID(_ context.Context, requestID string) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRequestID[requestID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return m.decisionWithPlan(id), nil
}

func (m *MemoryStore) CreatePlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *p
	stored.Installments = append([]Installment(nil), p.Installments...)
	m.plans[p.ID] = &stored
	m.byDecision[p.DecisionID] = p.ID
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, planID string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	out := *p
	out.Installments = append([]Installment(nil), p.Installments...)
	return &out, nil
}

func (m *MemoryStore) ListDecisionsByUser(_ context.Context, userID string, limit int) ([]*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Decision
	for id, d := range m.decisions {
		if d.UserID == userID {
			out = append(out, m.decisionWithPlan(id))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// decisionWithPlan copies a decision and attaches its plan. Callers hold
// at least the read lock.
func (m *MemoryStore) decisionWithPlan(id string) *Decision {
	d := m.decisions[id]
	out := *d
	if planID, ok := m.byDecision[id]; ok {
		p := m.plans[planID]
		plan := *p
		plan.Installments = append([]Installment(nil), p.Installments...)
		out.Plan = &plan
	}
	return &out
}
