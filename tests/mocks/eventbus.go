package mocks

import (
	"context"
	"sync"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

// MockListener records delivered events for testing
type MockListener struct {
	mu       sync.RWMutex
	name     string
	received []event.Record
	fail     error
	hook     func(event.Record)
}

// NewMockListener creates a new mock listener
func NewMockListener(name string) *MockListener {
	return &MockListener{name: name}
}

// OnEvent records the event
func (l *MockListener) OnEvent(_ context.Context, rec event.Record) error {
	l.mu.Lock()
	l.received = append(l.received, rec.Clone())
	hook, fail := l.hook, l.fail
	l.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	return fail
}

// Name returns the listener name
func (l *MockListener) Name() string {
	return l.name
}

// FailWith makes every following delivery return err
func (l *MockListener) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

// OnReceive sets a function called for each delivered event
func (l *MockListener) OnReceive(fn func(event.Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

// ReceivedCount returns the number of delivered events
func (l *MockListener) ReceivedCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.received)
}

// Received returns all delivered events
func (l *MockListener) Received() []event.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]event.Record{}, l.received...)
}

// ReceivedByName returns delivered events with a specific name
func (l *MockListener) ReceivedByName(eventName string) []event.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []event.Record
	for _, rec := range l.received {
		if rec.EventName == eventName {
			records = append(records, rec)
		}
	}
	return records
}

// Reset clears all delivered events
func (l *MockListener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = nil
}
