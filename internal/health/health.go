// Package health aggregates readiness probes for the gateway's external
// dependencies: the decision database and the bank aggregator API. The
// server surfaces the aggregate on GET /health.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of probing one dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single dependency. Implementations must honor ctx so a
// hung dependency cannot stall the health endpoint.
type Checker func(ctx context.Context) Status

// Registry holds the gateway's checkers and probes them on demand.
// Checkers run in registration order; registering a name twice replaces
// the earlier checker.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	checkers map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for a dependency name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checkers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.checkers[name] = check
}

// CheckAll probes every dependency and reports whether all are healthy,
// along with the individual results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	checkers := make(map[string]Checker, len(r.checkers))
	for name, check := range r.checkers {
		checkers[name] = check
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(order))
	for _, name := range order {
		st := checkers[name](ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
