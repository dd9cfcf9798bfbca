package projector

import (
	"context"
	"fmt"
	"sync"

	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
)

// Projection accumulates values derived from matching records in memory.
//
// Register it directly for synchronous updates or behind a
// eventbus.QueuedListener for asynchronous ones; readers of a queued
// projection see the collection eventually.
type Projection[T any] struct {
	name   string
	filter Filter
	derive func(event.Record) (T, error)

	mu    sync.RWMutex
	items []T
}

var (
	_ eventbus.Listener = (*Projection[int])(nil)
	_ eventbus.Named    = (*Projection[int])(nil)
)

// Option configures a Projection.
type Option[T any] func(*Projection[T])

// WithEventNames restricts the projection to the named events.
func WithEventNames[T any](names ...string) Option[T] {
	return func(p *Projection[T]) {
		p.filter = NewFilter(names...)
	}
}

// WithDerive replaces payload decoding with fn.
func WithDerive[T any](fn func(event.Record) (T, error)) Option[T] {
	return func(p *Projection[T]) {
		if fn != nil {
			p.derive = fn
		}
	}
}

// NewProjection creates a projection that decodes matching payloads into T.
func NewProjection[T any](name string, opts ...Option[T]) *Projection[T] {
	p := &Projection[T]{
		name:   name,
		derive: decodePayload[T],
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func decodePayload[T any](rec event.Record) (T, error) {
	var v T
	err := rec.Decode(&v)
	return v, err
}

// OnEvent implements eventbus.Listener.
func (p *Projection[T]) OnEvent(_ context.Context, rec event.Record) error {
	if !p.filter.Match(rec.EventName) {
		return nil
	}

	v, err := p.derive(rec)
	if err != nil {
		return fmt.Errorf("projection %s: %s: %w", p.name, rec, err)
	}

	p.mu.Lock()
	p.items = append(p.items, v)
	p.mu.Unlock()

	return nil
}

// Name implements eventbus.Named.
func (p *Projection[T]) Name() string {
	return p.name
}

// Items returns a copy of the collection in delivery order.
func (p *Projection[T]) Items() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]T, len(p.items))
	copy(out, p.items)
	return out
}

// Len returns the number of projected values.
func (p *Projection[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Reset empties the collection.
func (p *Projection[T]) Reset() {
	p.mu.Lock()
	p.items = nil
	p.mu.Unlock()
}
