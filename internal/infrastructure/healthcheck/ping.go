package healthcheck

import (
	"context"
	"fmt"
	"time"
)

// PingFunc checks a dependency; a nil error means it is reachable.
type PingFunc func(ctx context.Context) error

// PingChecker reports whether a dependency answers a ping.
type PingChecker struct {
	name string
	ping PingFunc
}

// NewPingChecker creates a checker named name around ping.
func NewPingChecker(name string, ping PingFunc) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// Name returns the name of this health checker.
func (c *PingChecker) Name() string {
	return c.name
}

// Check performs the health check.
func (c *PingChecker) Check(ctx context.Context) Status {
	start := time.Now()
	if err := c.ping(ctx); err != nil {
		return Status{
			Healthy:   false,
			Message:   fmt.Sprintf("%s unreachable: %v", c.name, err),
			CheckedAt: time.Now(),
		}
	}

	return Status{
		Healthy:   true,
		Message:   fmt.Sprintf("%s reachable", c.name),
		Details:   map[string]any{"latency": time.Since(start).String()},
		CheckedAt: time.Now(),
	}
}
