// Package repository persists event-sourced aggregates and publishes the
// records they add.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/domain/errs"
	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
)

// ErrEmptyAggregateID is returned when an operation is called without an aggregate id.
var ErrEmptyAggregateID = errors.New("aggregate id is required")

// Factory creates a blank aggregate to rehydrate into.
type Factory[T aggregate.Aggregate] func() (T, error)

// Repository stores the records of aggregates of type T.
//
// Save only appends the records the engine does not hold yet, so saving the
// same aggregate twice writes nothing the second time. Engines must enforce
// uniqueness of (aggregate_id, version); two overlapping saves of the same
// aggregate are then resolved by the engine, and the loser gets
// errs.ErrConcurrentModification.
type Repository[T aggregate.Aggregate] struct {
	engine    eventstore.Engine
	factory   Factory[T]
	listeners *eventbus.Publisher
	shared    *eventbus.Publisher
	logger    *slog.Logger
	metrics   *metrics.EventStoreMetrics
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	publisher *eventbus.Publisher
	logger    *slog.Logger
	metrics   *metrics.EventStoreMetrics
}

// WithPublisher sets the shared publisher saved records are delivered to.
// Defaults to eventbus.Default().
func WithPublisher(p *eventbus.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithLogger sets the logger for the repository.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables repository metrics.
func WithMetrics(m *metrics.EventStoreMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New creates a repository over engine. factory must return a fresh
// aggregate on every call.
func New[T aggregate.Aggregate](engine eventstore.Engine, factory Factory[T], opts ...Option) (*Repository[T], error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if factory == nil {
		return nil, errors.New("factory is required")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = eventbus.Default()
	}

	local := eventbus.NewPublisher(
		eventbus.WithName("repository"),
		eventbus.WithLogger(o.logger),
	)
	if err := local.Register(o.publisher); err != nil {
		return nil, fmt.Errorf("chain shared publisher: %w", err)
	}

	return &Repository[T]{
		engine:    engine,
		factory:   factory,
		listeners: local,
		shared:    o.publisher,
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// RegisterListener adds a listener that receives only this repository's records.
func (r *Repository[T]) RegisterListener(l eventbus.Listener) error {
	return r.listeners.Register(l)
}

// UnregisterListener removes a listener added with RegisterListener.
func (r *Repository[T]) UnregisterListener(l eventbus.Listener) {
	if p, ok := l.(*eventbus.Publisher); ok && p == r.shared {
		return
	}
	r.listeners.Unregister(l)
}

// ContainsListener reports whether l was added with RegisterListener.
func (r *Repository[T]) ContainsListener(l eventbus.Listener) bool {
	return r.listeners.Contains(l)
}

// Load rebuilds the aggregate from its stream. An unknown id yields a blank
// aggregate at version 0.
func (r *Repository[T]) Load(ctx context.Context, aggregateID string) (T, error) {
	var zero T
	start := time.Now()

	records, err := r.GetStreamFor(ctx, aggregateID)
	if err != nil {
		return zero, err
	}

	agg, err := r.factory()
	if err != nil {
		return zero, fmt.Errorf("create aggregate: %w", err)
	}

	if err = agg.Rehydrate(records); err != nil {
		r.logger.ErrorContext(ctx, "failed to rehydrate aggregate",
			slog.String("aggregate_id", aggregateID),
			slog.Int("records", len(records)),
			slog.String("error", err.Error()),
		)
		return zero, fmt.Errorf("rehydrate %s: %w", aggregateID, err)
	}

	if r.metrics != nil {
		typ := aggregate.TypeOf(aggregateID)
		r.metrics.EventsLoaded.WithLabelValues(typ).Add(float64(len(records)))
		r.metrics.LoadDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}

	return agg, nil
}

// Exists reports whether any record of the aggregate is stored.
func (r *Repository[T]) Exists(ctx context.Context, aggregateID string) (bool, error) {
	v, err := r.MaxVersionFor(ctx, aggregateID)
	if err != nil {
		return false, err
	}
	return v > 0, nil
}

// MaxVersionFor returns the highest stored version of the aggregate, 0 when
// nothing is stored.
func (r *Repository[T]) MaxVersionFor(ctx context.Context, aggregateID string) (int, error) {
	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}

	if vr, ok := r.engine.(eventstore.VersionReader); ok {
		v, err := vr.MaxVersion(ctx, aggregateID)
		if err != nil {
			return 0, fmt.Errorf("%w: max version of %s: %w", errs.ErrPersistenceFailure, aggregateID, err)
		}
		return v, nil
	}

	rows, err := r.engine.FindByAggregateID(ctx, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("%w: find %s: %w", errs.ErrPersistenceFailure, aggregateID, err)
	}

	maxVersion := 0
	for _, row := range rows {
		maxVersion = max(maxVersion, row.Version)
	}
	return maxVersion, nil
}

// GetStreamFor returns the stored records of the aggregate in version order.
func (r *Repository[T]) GetStreamFor(ctx context.Context, aggregateID string) ([]event.Record, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	rows, err := r.engine.FindByAggregateID(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: find %s: %w", errs.ErrPersistenceFailure, aggregateID, err)
	}

	records, err := eventstore.DecodeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", errs.ErrPersistenceFailure, aggregateID, err)
	}

	slices.SortFunc(records, func(a, b event.Record) int {
		return a.Version - b.Version
	})

	return records, nil
}

// Save persists the records of agg the engine does not hold yet and then
// publishes them in version order.
//
// It returns the persisted records. When some listeners fail the records
// stay persisted and are returned together with an error wrapping
// errs.ErrDeliveryFailed.
func (r *Repository[T]) Save(ctx context.Context, agg T) ([]event.Record, error) {
	start := time.Now()
	id := agg.ID()
	typ := aggregate.TypeOf(id)

	stored, err := r.MaxVersionFor(ctx, id)
	if err != nil {
		r.observeFailure(typ, metrics.ReasonPersistence)
		return nil, err
	}

	delta := r.delta(agg.History(), stored)
	if len(delta) == 0 {
		return nil, nil
	}

	rows, err := eventstore.EncodeRows(delta)
	if err != nil {
		r.observeFailure(typ, metrics.ReasonInvalid)
		return nil, fmt.Errorf("%w: encode %s: %w", errs.ErrPersistenceFailure, id, err)
	}

	if err = r.engine.InsertMany(ctx, rows); err != nil {
		return nil, r.insertError(ctx, id, stored, len(rows), err)
	}

	if r.metrics != nil {
		r.metrics.EventsAppended.WithLabelValues(typ).Add(float64(len(rows)))
		r.metrics.BatchSize.Observe(float64(len(rows)))
	}

	r.logger.DebugContext(ctx, "aggregate saved",
		slog.String("aggregate_id", id),
		slog.Int("from_version", delta[0].Version),
		slog.Int("to_version", delta[len(delta)-1].Version),
	)

	var failures []error
	for _, rec := range delta {
		if pubErr := r.listeners.Publish(ctx, rec); pubErr != nil {
			failures = append(failures, pubErr)
		}
	}

	if r.metrics != nil {
		r.metrics.SaveDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}

	if len(failures) > 0 {
		r.observeFailure(typ, metrics.ReasonDelivery)
		return delta, errors.Join(failures...)
	}

	return delta, nil
}

// delta returns the records above the stored version, sorted.
func (r *Repository[T]) delta(history []event.Record, stored int) []event.Record {
	var out []event.Record
	for _, rec := range history {
		if rec.Version > stored {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b event.Record) int {
		return a.Version - b.Version
	})
	return out
}

func (r *Repository[T]) insertError(ctx context.Context, id string, stored, count int, err error) error {
	typ := aggregate.TypeOf(id)

	if errors.Is(err, eventstore.ErrDuplicateRow) {
		r.observeFailure(typ, metrics.ReasonConflict)
		r.logger.WarnContext(ctx, "concurrency conflict while saving aggregate",
			slog.String("aggregate_id", id),
			slog.Int("stored_version", stored),
			slog.Int("records", count),
		)
		return fmt.Errorf("%w: %s: %w", errs.ErrConcurrentModification, id, err)
	}

	r.observeFailure(typ, metrics.ReasonPersistence)
	r.logger.ErrorContext(ctx, "failed to persist aggregate records",
		slog.String("aggregate_id", id),
		slog.Int("records", count),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %w", errs.ErrPersistenceFailure, id, err)
}

func (r *Repository[T]) observeFailure(typ, reason string) {
	if r.metrics != nil {
		r.metrics.SaveFailures.WithLabelValues(typ, reason).Inc()
	}
}
