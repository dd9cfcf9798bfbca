package aggregate

import (
	"encoding/json"
	"time"
)

// Handler applies an event payload to the state of the embedding aggregate.
type Handler func(payload json.RawMessage) error

// Handlers maps event names to their handlers.
type Handlers map[string]Handler

// Decode adapts a typed handler, decoding the payload into T first.
func Decode[T any](fn func(T) error) Handler {
	return func(payload json.RawMessage) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		return fn(v)
	}
}

// ReplayPolicy controls which version sequences Rehydrate accepts.
type ReplayPolicy int

const (
	// ReplayContiguous requires versions 1..n without gaps.
	ReplayContiguous ReplayPolicy = iota
	// ReplayAllowGaps only requires strictly ascending versions.
	ReplayAllowGaps
)

// String implements fmt.Stringer.
func (p ReplayPolicy) String() string {
	switch p {
	case ReplayContiguous:
		return "contiguous"
	case ReplayAllowGaps:
		return "allow-gaps"
	default:
		return "unknown"
	}
}

// Option configures a Root.
type Option func(*Root)

// WithReplayPolicy sets the replay policy.
func WithReplayPolicy(p ReplayPolicy) Option {
	return func(r *Root) {
		r.policy = p
	}
}

// WithStrictDispatch makes Mutate reject events without a registered handler.
func WithStrictDispatch() Option {
	return func(r *Root) {
		r.strict = true
	}
}

// WithResetHook registers fn to clear the embedding type's state whenever
// the aggregate is reset for replay.
func WithResetHook(fn func()) Option {
	return func(r *Root) {
		r.onReset = fn
	}
}

// WithClock sets the time source for record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Root) {
		if clock != nil {
			r.clock = clock
		}
	}
}
