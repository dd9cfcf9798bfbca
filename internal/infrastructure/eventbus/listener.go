// Package eventbus delivers persisted event records to listeners, in process
// and across brokers.
package eventbus

import (
	"context"
	"fmt"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

// Listener receives event records after they are persisted.
//
// Listeners are identified by value, so implementations must be comparable
// (pointer receivers are the usual choice).
type Listener interface {
	OnEvent(ctx context.Context, rec event.Record) error
}

// Named is implemented by listeners that report a name for logs and metrics.
type Named interface {
	Name() string
}

// ListenerFunc adapts a function to the handling part of a listener.
type ListenerFunc func(ctx context.Context, rec event.Record) error

// InlineListener runs a function synchronously on the publishing goroutine.
type InlineListener struct {
	name string
	fn   ListenerFunc
}

var _ Listener = (*InlineListener)(nil)

// NewInlineListener wraps fn as a listener.
func NewInlineListener(name string, fn ListenerFunc) *InlineListener {
	return &InlineListener{name: name, fn: fn}
}

// OnEvent implements Listener.
func (l *InlineListener) OnEvent(ctx context.Context, rec event.Record) error {
	return l.fn(ctx, rec)
}

// Name implements Named.
func (l *InlineListener) Name() string {
	return l.name
}

// listenerName returns a printable identity for l.
func listenerName(l Listener) string {
	if n, ok := l.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", l)
}
