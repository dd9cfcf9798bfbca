package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/domain/event"
)

// ErrMalformedEnvelope is returned when a relayed message cannot be decoded.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// envelope wraps a record with metadata for transport over a broker.
type envelope struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	EventName     string          `json:"event_name"`
	Payload       json.RawMessage `json:"payload"`
	TimestampUS   int64           `json:"timestamp_us"`
	Source        string          `json:"source,omitempty"`
}

func newEnvelope(rec event.Record, source string) envelope {
	return envelope{
		ID:            uuid.New().String(),
		AggregateID:   rec.AggregateID,
		AggregateType: aggregate.TypeOf(rec.AggregateID),
		Version:       rec.Version,
		EventName:     rec.EventName,
		Payload:       rec.Payload,
		TimestampUS:   rec.Timestamp.UnixMicro(),
		Source:        source,
	}
}

func encodeEnvelope(rec event.Record, source string) (envelope, []byte, error) {
	env := newEnvelope(rec, source)
	data, err := json.Marshal(env)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("failed to marshal envelope for %s: %w", rec, err)
	}
	return env, data, nil
}

func decodeEnvelope(data []byte) (envelope, event.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, event.Record{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.AggregateID == "" || env.EventName == "" || env.Version < 1 {
		return envelope{}, event.Record{}, fmt.Errorf("%w: missing record fields", ErrMalformedEnvelope)
	}

	return env, event.Record{
		AggregateID: env.AggregateID,
		Version:     env.Version,
		EventName:   env.EventName,
		Payload:     env.Payload,
		Timestamp:   time.UnixMicro(env.TimestampUS).UTC(),
	}, nil
}

// subjectToken makes s safe for use as one token of a dotted subject.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
