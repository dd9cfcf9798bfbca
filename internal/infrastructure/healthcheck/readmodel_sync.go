package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
)

const defaultSampleSize = 100

// Verifier compares the read model of one aggregate with its stream.
// projector.Rebuilder satisfies it.
type Verifier interface {
	VerifyConsistency(ctx context.Context, aggregateID string) (bool, error)
}

// ReadModelSyncChecker samples aggregates and compares their read model with
// the event store.
//
// A queued projection lags behind the store, so drift is reported as
// degraded, not unhealthy.
type ReadModelSyncChecker struct {
	ids        eventstore.IDLister
	verifier   Verifier
	sampleSize int
}

// NewReadModelSyncChecker creates a new read model sync health checker.
func NewReadModelSyncChecker(ids eventstore.IDLister, verifier Verifier, sampleSize int) *ReadModelSyncChecker {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}

	return &ReadModelSyncChecker{
		ids:        ids,
		verifier:   verifier,
		sampleSize: sampleSize,
	}
}

// Name returns the name of this health checker.
func (c *ReadModelSyncChecker) Name() string {
	return "readmodel_sync"
}

// Check performs the health check.
func (c *ReadModelSyncChecker) Check(ctx context.Context) Status {
	ids, err := c.ids.AggregateIDs(ctx)
	if err != nil {
		return Status{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to list aggregates: %v", err),
			CheckedAt: time.Now(),
		}
	}

	if len(ids) > c.sampleSize {
		ids = ids[:c.sampleSize]
	}

	var drifted []string
	for _, id := range ids {
		ok, verifyErr := c.verifier.VerifyConsistency(ctx, id)
		if verifyErr != nil {
			return Status{
				Healthy:   false,
				Message:   fmt.Sprintf("failed to verify %s: %v", id, verifyErr),
				CheckedAt: time.Now(),
			}
		}
		if !ok {
			drifted = append(drifted, id)
		}
	}

	details := map[string]any{
		"sampled": len(ids),
		"drifted": len(drifted),
	}
	if len(drifted) > 0 {
		details["drifted_ids"] = drifted
	}

	return Status{
		Healthy:   true,
		Degraded:  len(drifted) > 0,
		Message:   fmt.Sprintf("read model sync: %d of %d sampled aggregates drifted", len(drifted), len(ids)),
		Details:   details,
		CheckedAt: time.Now(),
	}
}
