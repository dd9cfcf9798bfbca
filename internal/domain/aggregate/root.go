package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lllypuk/fenrys/internal/domain/errs"
	"github.com/lllypuk/fenrys/internal/domain/event"
)

// ErrEmptyTypeName is returned when an aggregate is created without a type name.
var ErrEmptyTypeName = errors.New("aggregate type name is required")

// Aggregate is the contract the repository relies on.
type Aggregate interface {
	// ID returns the aggregate identity
	ID() string

	// Version returns the version of the last recorded or replayed event
	Version() int

	// History returns a copy of the records the aggregate currently holds
	History() []event.Record

	// Rehydrate replaces the aggregate state with the replay of records
	Rehydrate(records []event.Record) error
}

// Root is the event-sourced core embedded by concrete aggregates.
//
// All state changes of the embedding type must happen inside handlers, which
// run while Root holds its write lock. A handler must therefore never call
// back into Mutate, Rehydrate or View of the same aggregate.
type Root struct {
	mu sync.RWMutex

	typeName string
	id       string
	version  int
	history  []event.Record

	handlers Handlers
	policy   ReplayPolicy
	strict   bool
	onReset  func()
	clock    func() time.Time
}

var _ Aggregate = (*Root)(nil)

// New creates an aggregate of the given type and records its Created event.
func New(typeName string, handlers Handlers, opts ...Option) (*Root, error) {
	if typeName == "" {
		return nil, ErrEmptyTypeName
	}

	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate aggregate id: %w", err)
	}

	r := &Root{
		typeName: typeName,
		id:       typeName + "-" + token.String(),
		handlers: make(Handlers, len(handlers)),
		policy:   ReplayContiguous,
		clock:    time.Now,
	}
	for name, h := range handlers {
		r.handlers[name] = h
	}
	for _, opt := range opts {
		opt(r)
	}

	if err = r.Mutate(event.Created, createdPayload{ID: r.id}); err != nil {
		return nil, err
	}

	return r, nil
}

// MustNew is like New but panics on error.
func MustNew(typeName string, handlers Handlers, opts ...Option) *Root {
	r, err := New(typeName, handlers, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

type createdPayload struct {
	ID string `json:"id"`
}

const uuidLen = 36

// TypeOf returns the type name encoded in an aggregate id.
func TypeOf(id string) string {
	if n := len(id) - uuidLen - 1; n > 0 && id[n] == '-' && uuid.Validate(id[n+1:]) == nil {
		return id[:n]
	}
	if i := strings.Index(id, "-"); i > 0 {
		return id[:i]
	}
	return id
}

// ID returns the aggregate identity.
func (r *Root) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// TypeName returns the aggregate type name.
func (r *Root) TypeName() string {
	return r.typeName
}

// Version returns the version of the last applied record.
func (r *Root) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// History returns a copy of the recorded events.
func (r *Root) History() []event.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]event.Record, len(r.history))
	for i := range r.history {
		out[i] = r.history[i].Clone()
	}
	return out
}

// Handles reports whether a handler is registered for the event name.
func (r *Root) Handles(eventName string) bool {
	if eventName == event.Created {
		return true
	}
	_, ok := r.handlers[eventName]
	return ok
}

// View runs fn while holding the read lock, for consistent reads of the
// embedding type's state.
func (r *Root) View(fn func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
}

// Mutate records a new event and applies it.
//
// The event is recorded only if its handler accepts it. An unserializable
// payload or a handler error leaves version and history untouched, so a
// rejected event is never saved and the stream always replays.
func (r *Root) Mutate(eventName string, payload any) error {
	if eventName == "" {
		return errs.ErrInvalidEventName
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrUnserializablePayload, eventName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.strict && !r.Handles(eventName) {
		return fmt.Errorf("%w: %s", errs.ErrUnhandledEvent, eventName)
	}

	rec := event.Record{
		AggregateID: r.id,
		Version:     r.version + 1,
		EventName:   eventName,
		Payload:     data,
		Timestamp:   event.Normalize(r.clock()),
	}
	if err = r.apply(rec); err != nil {
		return err
	}

	r.version = rec.Version
	r.history = append(r.history, rec)
	return nil
}

// Rehydrate resets the aggregate and replays records in version order.
//
// Records are sorted first, so the caller may pass them in any order. A
// record whose version does not advance past the version already reached
// (duplicates included) aborts the replay with errs.ErrReplayOrderViolation.
// Under ReplayContiguous a skipped version aborts it as well. On failure the
// aggregate is left empty at version 0.
func (r *Root) Rehydrate(records []event.Record) error {
	sorted := make([]event.Record, len(records))
	for i := range records {
		sorted[i] = records[i].Clone()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()

	for _, rec := range sorted {
		if err := r.checkOrder(rec, sorted[0].AggregateID); err != nil {
			r.resetLocked()
			return err
		}

		if err := r.apply(rec); err != nil {
			r.resetLocked()
			return err
		}

		r.history = append(r.history, rec)
		r.version = rec.Version
		r.id = rec.AggregateID
	}

	return nil
}

func (r *Root) checkOrder(rec event.Record, streamID string) error {
	if rec.AggregateID != streamID {
		return fmt.Errorf("%w: record %s in stream %s", errs.ErrReplayOrderViolation, rec, streamID)
	}
	if rec.Version <= r.version {
		return fmt.Errorf("%w: version %d after %d", errs.ErrReplayOrderViolation, rec.Version, r.version)
	}
	if r.policy == ReplayContiguous && rec.Version != r.version+1 {
		return fmt.Errorf("%w: %w: expected version %d, got %d",
			errs.ErrReplayOrderViolation, errs.ErrReplayGap, r.version+1, rec.Version)
	}
	return nil
}

func (r *Root) apply(rec event.Record) error {
	h, ok := r.handlers[rec.EventName]
	if !ok {
		return nil
	}
	if err := h(rec.Payload); err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrApplyFailed, rec, err)
	}
	return nil
}

func (r *Root) resetLocked() {
	r.history = nil
	r.version = 0
	if r.onReset != nil {
		r.onReset()
	}
}
