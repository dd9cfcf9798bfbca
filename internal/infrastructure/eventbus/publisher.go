package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/lllypuk/fenrys/internal/domain/errs"
	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
)

const defaultPublisherName = "publisher"

// Publisher fans event records out to registered listeners.
//
// Every listener receives every record, in registration order; a failing or
// panicking listener does not stop delivery to the others. A Publisher is
// itself a Listener, so registries can be chained.
type Publisher struct {
	name      string
	mu        sync.RWMutex
	listeners []Listener
	logger    *slog.Logger
	metrics   *metrics.ListenerMetrics
}

var (
	_ Listener = (*Publisher)(nil)
	_ Named    = (*Publisher)(nil)
)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger for the publisher.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics enables delivery metrics.
func WithMetrics(m *metrics.ListenerMetrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithName sets the name the publisher reports when chained.
func WithName(name string) Option {
	return func(p *Publisher) {
		p.name = name
	}
}

// NewPublisher creates an isolated publisher.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		name:   defaultPublisherName,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

var (
	defaultPublisher     *Publisher
	defaultPublisherOnce sync.Once
)

// Default returns the process-wide publisher, creating it on first use.
func Default() *Publisher {
	defaultPublisherOnce.Do(func() {
		defaultPublisher = NewPublisher(WithName("default"))
	})
	return defaultPublisher
}

// Name implements Named.
func (p *Publisher) Name() string {
	return p.name
}

// Register adds l. Registering a listener twice is a no-op.
func (p *Publisher) Register(l Listener) error {
	if err := p.validate(l); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if slices.Contains(p.listeners, l) {
		return nil
	}
	p.listeners = append(p.listeners, l)

	return nil
}

// Unregister removes l. Removing an absent listener is a no-op.
func (p *Publisher) Unregister(l Listener) {
	if p.validate(l) != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners = slices.DeleteFunc(p.listeners, func(x Listener) bool { return x == l })
}

// Contains reports whether l is registered.
func (p *Publisher) Contains(l Listener) bool {
	if p.validate(l) != nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return slices.Contains(p.listeners, l)
}

// Len returns the number of registered listeners.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}

// Listeners returns a snapshot of the registered listeners.
func (p *Publisher) Listeners() []Listener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.listeners)
}

// Publish delivers rec to every registered listener.
// Failures are collected and returned together, wrapped in errs.ErrDeliveryFailed.
func (p *Publisher) Publish(ctx context.Context, rec event.Record) error {
	var failures []error

	for _, l := range p.Listeners() {
		if err := p.deliver(ctx, l, rec); err != nil {
			failures = append(failures, fmt.Errorf("listener %s: %w", listenerName(l), err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %s: %w", errs.ErrDeliveryFailed, rec, errors.Join(failures...))
	}

	return nil
}

// OnEvent implements Listener.
func (p *Publisher) OnEvent(ctx context.Context, rec event.Record) error {
	return p.Publish(ctx, rec)
}

func (p *Publisher) deliver(ctx context.Context, l Listener, rec event.Record) (err error) {
	name := listenerName(l)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}

		if p.metrics != nil {
			status := metrics.StatusSuccess
			if err != nil {
				status = metrics.StatusFailed
			}
			p.metrics.EventsDelivered.WithLabelValues(name, status).Inc()
			p.metrics.DeliveryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			p.logger.WarnContext(ctx, "listener failed",
				slog.String("listener", name),
				slog.String("aggregate_id", rec.AggregateID),
				slog.Int("version", rec.Version),
				slog.String("event_name", rec.EventName),
				slog.String("error", err.Error()),
			)
		}
	}()

	return l.OnEvent(ctx, rec)
}

func (p *Publisher) validate(l Listener) error {
	if l == nil {
		return fmt.Errorf("%w: nil listener", errs.ErrInvalidListener)
	}
	if !reflect.TypeOf(l).Comparable() {
		return fmt.Errorf("%w: %T is not comparable", errs.ErrInvalidListener, l)
	}
	if pl, ok := l.(*Publisher); ok && pl == p {
		return fmt.Errorf("%w: publisher cannot listen to itself", errs.ErrInvalidListener)
	}
	return nil
}
