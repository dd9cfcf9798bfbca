package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Created is the name of the event every aggregate records on construction.
const Created = "Created"

// Record is an immutable fact recorded by an aggregate.
type Record struct {
	// AggregateID identifies the aggregate that recorded the event
	AggregateID string `json:"aggregate_id"`

	// Version is the 1-based position of the record in the aggregate's stream
	Version int `json:"version"`

	// EventName selects the handler applied on replay
	EventName string `json:"event_name"`

	// Payload is the JSON encoding of the event data
	Payload json.RawMessage `json:"payload"`

	// Timestamp is the time the event was recorded (UTC, microsecond precision)
	Timestamp time.Time `json:"timestamp"`
}

// Now returns the current time in the precision records are stored with.
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize converts t to UTC microsecond precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode payload of %s v%d: %w", r.EventName, r.Version, err)
	}
	return nil
}

// Clone returns a copy of the record that shares no memory with r.
func (r Record) Clone() Record {
	c := r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return c
}

// Equal reports whether two records carry the same fact.
func (r Record) Equal(o Record) bool {
	return r.AggregateID == o.AggregateID &&
		r.Version == o.Version &&
		r.EventName == o.EventName &&
		string(r.Payload) == string(o.Payload) &&
		r.Timestamp.Equal(o.Timestamp)
}

// String implements fmt.Stringer.
func (r Record) String() string {
	return fmt.Sprintf("%s@%d:%s", r.AggregateID, r.Version, r.EventName)
}
