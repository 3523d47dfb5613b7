// Package health aggregates the liveness of syncd's dependencies (bus,
// queue backend, document store, connectors) behind one HTTP endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the health of one component or of the aggregate system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Monitor runs registered checks and aggregates the results.
type Monitor struct {
	system  string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewMonitor creates a monitor named after the system it reports for.
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system:  system,
		timeout: 5 * time.Second,
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds a named dependency check, replacing any previous one.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check and aggregates. The system is healthy
// when every check passes, degraded when some fail, unhealthy when all do.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()
	sort.Strings(names)

	now := time.Now().UTC()
	subs := make([]Status, 0, len(names))
	failed := 0

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := checks[name](checkCtx)
		cancel()

		sub := Status{Component: name, Healthy: err == nil, Status: StatusHealthy, Timestamp: now}
		if err != nil {
			failed++
			sub.Status = StatusUnhealthy
			sub.Message = err.Error()
		}
		subs = append(subs, sub)
	}

	agg := Status{Component: m.system, Timestamp: now, SubStatuses: subs}
	switch {
	case failed == 0:
		agg.Healthy = true
		agg.Status = StatusHealthy
	case failed < len(subs):
		agg.Status = StatusDegraded
		agg.Message = "some dependencies are failing"
	default:
		agg.Status = StatusUnhealthy
		agg.Message = "all dependencies are failing"
	}
	return agg
}

// Handler serves the aggregate health as JSON: 200 when healthy or
// degraded, 503 when unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
