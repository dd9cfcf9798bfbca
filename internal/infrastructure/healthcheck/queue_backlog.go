package healthcheck

import (
	"context"
	"fmt"
	"time"
)

// Default thresholds for queue backlog.
const (
	defaultWarningThreshold  = 1000
	defaultCriticalThreshold = 10000
)

// Queue is the view of a queued listener the backlog check needs.
// eventbus.QueuedListener satisfies it.
type Queue interface {
	Name() string
	IsRunning() bool
	Pending() int
	Failed() uint64
	Discarded() uint64
}

// QueueBacklogChecker checks the backlog and failures of a queued listener.
type QueueBacklogChecker struct {
	queue             Queue
	warningThreshold  int
	criticalThreshold int
}

// QueueBacklogOption configures QueueBacklogChecker.
type QueueBacklogOption func(*QueueBacklogChecker)

// WithWarningThreshold sets the backlog at which the queue is reported degraded.
func WithWarningThreshold(threshold int) QueueBacklogOption {
	return func(c *QueueBacklogChecker) {
		c.warningThreshold = threshold
	}
}

// WithCriticalThreshold sets the backlog at which the queue is reported unhealthy.
func WithCriticalThreshold(threshold int) QueueBacklogOption {
	return func(c *QueueBacklogChecker) {
		c.criticalThreshold = threshold
	}
}

// NewQueueBacklogChecker creates a new queue backlog health checker.
func NewQueueBacklogChecker(queue Queue, opts ...QueueBacklogOption) *QueueBacklogChecker {
	c := &QueueBacklogChecker{
		queue:             queue,
		warningThreshold:  defaultWarningThreshold,
		criticalThreshold: defaultCriticalThreshold,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the name of this health checker.
func (c *QueueBacklogChecker) Name() string {
	return "queue:" + c.queue.Name()
}

// Check performs the health check.
func (c *QueueBacklogChecker) Check(_ context.Context) Status {
	pending := c.queue.Pending()
	failed := c.queue.Failed()
	discarded := c.queue.Discarded()

	details := map[string]any{
		"pending":            pending,
		"failed":             failed,
		"discarded":          discarded,
		"warning_threshold":  c.warningThreshold,
		"critical_threshold": c.criticalThreshold,
	}

	if !c.queue.IsRunning() {
		return Status{
			Healthy:   false,
			Message:   "queue worker is not running",
			Details:   details,
			CheckedAt: time.Now(),
		}
	}

	return Status{
		Healthy:   pending < c.criticalThreshold,
		Degraded:  pending >= c.warningThreshold || failed > 0 || discarded > 0,
		Message:   fmt.Sprintf("queue backlog: %d records, %d failed", pending, failed),
		Details:   details,
		CheckedAt: time.Now(),
	}
}
