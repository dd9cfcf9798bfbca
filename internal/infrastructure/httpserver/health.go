// Package httpserver serves the operational endpoints of the fenrys worker:
// liveness, readiness with per-component detail, and Prometheus metrics.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Component and service states reported by the health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// Health endpoint paths.
const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathDetails = "/health/details"
	PathMetrics = "/metrics"
)

// ComponentStatus is the state of one checked component, such as a queued
// listener backlog, a read model or a broker connection.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status     string            `json:"status"`
	Instance   string            `json:"instance,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker reports the state of the worker's components.
// healthcheck.Registry implements it.
type HealthChecker interface {
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// Overall folds component states into one. An unhealthy component wins over
// a degraded one.
func Overall(components []ComponentStatus) string {
	overall := StatusHealthy
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

type healthHandler struct {
	checker  HealthChecker
	instance string
	now      func() time.Time
}

func (h healthHandler) register(e *echo.Echo) {
	e.GET(PathHealth, h.live)
	e.GET(PathReady, h.ready)
	e.GET(PathDetails, h.details)
}

func (h healthHandler) respond(c echo.Context, code int, status string, components []ComponentStatus) error {
	return c.JSON(code, HealthResponse{
		Status:     status,
		Instance:   h.instance,
		CheckedAt:  h.now().UTC(),
		Components: components,
	})
}

func (h healthHandler) components(ctx context.Context) []ComponentStatus {
	if h.checker == nil {
		return nil
	}
	return h.checker.GetHealthStatus(ctx)
}

// live answers as long as the process serves requests.
func (h healthHandler) live(c echo.Context) error {
	return h.respond(c, http.StatusOK, StatusHealthy, nil)
}

// ready runs the checks once. A degraded component still counts as ready.
func (h healthHandler) ready(c echo.Context) error {
	components := h.components(c.Request().Context())
	if Overall(components) == StatusUnhealthy {
		return h.respond(c, http.StatusServiceUnavailable, StatusNotReady, components)
	}
	return h.respond(c, http.StatusOK, StatusReady, components)
}

func (h healthHandler) details(c echo.Context) error {
	components := h.components(c.Request().Context())
	status := Overall(components)

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return h.respond(c, code, status, components)
}
