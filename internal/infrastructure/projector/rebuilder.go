package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
)

// ErrStreamNotFound is returned when an aggregate has no persisted records.
var ErrStreamNotFound = errors.New("stream not found")

// StreamSource reads the persisted stream of an aggregate in version order.
// repository.Repository satisfies it.
type StreamSource interface {
	GetStreamFor(ctx context.Context, aggregateID string) ([]event.Record, error)
}

// ReadModel is a persistent projection that can be rebuilt per aggregate.
type ReadModel interface {
	eventbus.Listener

	// Match reports whether the read model keeps records named eventName
	Match(eventName string) bool

	// Find returns the projected records of an aggregate in version order
	Find(ctx context.Context, aggregateID string) ([]event.Record, error)

	// Purge deletes the projected records of an aggregate
	Purge(ctx context.Context, aggregateID string) error
}

// Rebuilder replays persisted streams into a read model.
type Rebuilder struct {
	source StreamSource
	ids    eventstore.IDLister
	model  ReadModel
	logger *slog.Logger
}

// NewRebuilder creates a rebuilder. ids may be nil when RebuildAll is not used.
func NewRebuilder(source StreamSource, ids eventstore.IDLister, model ReadModel, logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		source: source,
		ids:    ids,
		model:  model,
		logger: logger,
	}
}

// RebuildOne replaces the read model of one aggregate with its replayed stream.
func (r *Rebuilder) RebuildOne(ctx context.Context, aggregateID string) error {
	r.logger.InfoContext(ctx, "rebuilding read model",
		slog.String("aggregate_id", aggregateID),
	)

	records, err := r.source.GetStreamFor(ctx, aggregateID)
	if err != nil {
		return fmt.Errorf("failed to load stream %s: %w", aggregateID, err)
	}

	if len(records) == 0 {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, aggregateID)
	}

	if err = r.model.Purge(ctx, aggregateID); err != nil {
		return err
	}

	for _, rec := range records {
		if err = r.model.OnEvent(ctx, rec); err != nil {
			return fmt.Errorf("failed to project %s: %w", rec, err)
		}
	}

	r.logger.InfoContext(ctx, "successfully rebuilt read model",
		slog.String("aggregate_id", aggregateID),
		slog.Int("events_applied", len(records)),
		slog.Int("version", records[len(records)-1].Version),
	)

	return nil
}

// RebuildAll rebuilds the read model of every aggregate in the store.
func (r *Rebuilder) RebuildAll(ctx context.Context) error {
	if r.ids == nil {
		return errors.New("rebuild all: engine cannot list aggregate ids")
	}

	r.logger.InfoContext(ctx, "starting rebuild of all read models")

	aggregateIDs, err := r.ids.AggregateIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get aggregate IDs: %w", err)
	}

	successCount := 0
	failCount := 0

	for _, id := range aggregateIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rebuildErr := r.RebuildOne(ctx, id); rebuildErr != nil {
			r.logger.ErrorContext(ctx, "failed to rebuild read model",
				slog.String("aggregate_id", id),
				slog.String("error", rebuildErr.Error()),
			)
			failCount++
			continue
		}
		successCount++
	}

	r.logger.InfoContext(ctx, "completed rebuild of all read models",
		slog.Int("total", len(aggregateIDs)),
		slog.Int("success", successCount),
		slog.Int("failed", failCount),
	)

	if failCount > 0 {
		return fmt.Errorf("rebuild completed with %d failures out of %d total", failCount, len(aggregateIDs))
	}

	return nil
}

// VerifyConsistency reports whether the read model of an aggregate holds
// exactly the matching records of its stream.
func (r *Rebuilder) VerifyConsistency(ctx context.Context, aggregateID string) (bool, error) {
	records, err := r.source.GetStreamFor(ctx, aggregateID)
	if err != nil {
		return false, fmt.Errorf("failed to load stream %s: %w", aggregateID, err)
	}

	expected := make([]event.Record, 0, len(records))
	for _, rec := range records {
		if r.model.Match(rec.EventName) {
			expected = append(expected, rec)
		}
	}

	actual, err := r.model.Find(ctx, aggregateID)
	if err != nil {
		return false, err
	}

	if len(actual) != len(expected) {
		r.logger.WarnContext(ctx, "read model inconsistency detected",
			slog.String("aggregate_id", aggregateID),
			slog.Int("expected_count", len(expected)),
			slog.Int("actual_count", len(actual)),
		)
		return false, nil
	}

	for i := range expected {
		if !expected[i].Equal(actual[i]) {
			r.logger.WarnContext(ctx, "read model inconsistency detected",
				slog.String("aggregate_id", aggregateID),
				slog.String("expected", expected[i].String()),
				slog.String("actual", actual[i].String()),
			)
			return false, nil
		}
	}

	return true, nil
}
