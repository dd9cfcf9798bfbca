// Package healthcheck provides health checks for the worker's components.
package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/lllypuk/fenrys/internal/infrastructure/httpserver"
)

// Status is the outcome of a single health check.
type Status struct {
	Healthy   bool
	Degraded  bool
	Message   string
	Details   map[string]any
	CheckedAt time.Time
}

// Checker checks one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Status
}

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 3 * time.Second

// Registry runs registered checkers and reports them to the HTTP health endpoints.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

var _ httpserver.HealthChecker = (*Registry)(nil)

// NewRegistry creates a registry with the given checkers.
func NewRegistry(checkers ...Checker) *Registry {
	return &Registry{
		checkers: checkers,
		timeout:  DefaultCheckTimeout,
	}
}

// Add registers a checker.
func (r *Registry) Add(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, c)
}

// Run executes all checkers concurrently and returns their statuses in
// registration order.
func (r *Registry) Run(ctx context.Context) []Status {
	_, statuses := r.run(ctx)
	return statuses
}

func (r *Registry) run(ctx context.Context) ([]Checker, []Status) {
	r.mu.RLock()
	checkers := append([]Checker(nil), r.checkers...)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	statuses := make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	return checkers, statuses
}

// IsReady reports whether no check came back unhealthy.
func (r *Registry) IsReady(ctx context.Context) bool {
	for _, s := range r.Run(ctx) {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// GetHealthStatus implements httpserver.HealthChecker.
func (r *Registry) GetHealthStatus(ctx context.Context) []httpserver.ComponentStatus {
	checkers, statuses := r.run(ctx)

	out := make([]httpserver.ComponentStatus, len(statuses))
	for i, s := range statuses {
		out[i] = httpserver.ComponentStatus{
			Name:    checkers[i].Name(),
			Status:  statusName(s),
			Message: s.Message,
		}
	}
	return out
}

func statusName(s Status) string {
	switch {
	case !s.Healthy:
		return httpserver.StatusUnhealthy
	case s.Degraded:
		return httpserver.StatusDegraded
	default:
		return httpserver.StatusHealthy
	}
}
