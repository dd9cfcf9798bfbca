package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

// Row is the persisted form of an event.Record.
type Row struct {
	AggregateID string `bson:"aggregate_id"`
	Version     int    `bson:"version"`
	EventName   string `bson:"event_name"`
	// Payload is the JSON text of the event payload
	Payload string `bson:"payload"`
	// Timestamp is the recording time in unix microseconds
	Timestamp int64 `bson:"timestamp_us"`
}

// Validate checks the row invariants every engine relies on.
func (r Row) Validate() error {
	switch {
	case r.AggregateID == "":
		return fmt.Errorf("%w: empty aggregate id", ErrInvalidRow)
	case r.Version < 1:
		return fmt.Errorf("%w: %s version %d", ErrInvalidRow, r.AggregateID, r.Version)
	case r.EventName == "":
		return fmt.Errorf("%w: %s@%d empty event name", ErrInvalidRow, r.AggregateID, r.Version)
	case !json.Valid([]byte(r.Payload)):
		return fmt.Errorf("%w: %s@%d payload is not JSON", ErrInvalidRow, r.AggregateID, r.Version)
	}
	return nil
}

// EncodeRow converts a record into its persisted form.
func EncodeRow(rec event.Record) (Row, error) {
	row := Row{
		AggregateID: rec.AggregateID,
		Version:     rec.Version,
		EventName:   rec.EventName,
		Payload:     string(rec.Payload),
		Timestamp:   rec.Timestamp.UnixMicro(),
	}
	if err := row.Validate(); err != nil {
		return Row{}, err
	}
	return row, nil
}

// EncodeRows converts records into rows, failing on the first invalid one.
func EncodeRows(records []event.Record) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row, err := EncodeRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DecodeRow converts a persisted row back into a record.
func DecodeRow(row Row) (event.Record, error) {
	if err := row.Validate(); err != nil {
		return event.Record{}, err
	}
	return event.Record{
		AggregateID: row.AggregateID,
		Version:     row.Version,
		EventName:   row.EventName,
		Payload:     json.RawMessage(row.Payload),
		Timestamp:   time.UnixMicro(row.Timestamp).UTC(),
	}, nil
}

// DecodeRows converts rows back into records.
func DecodeRows(rows []Row) ([]event.Record, error) {
	records := make([]event.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := DecodeRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// checkBatch validates rows and rejects duplicates within the batch itself.
func checkBatch(rows []Row) error {
	seen := make(map[rowKey]struct{}, len(rows))
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return err
		}
		k := rowKey{row.AggregateID, row.Version}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: %s@%d repeated in batch", ErrDuplicateRow, row.AggregateID, row.Version)
		}
		seen[k] = struct{}{}
	}
	return nil
}

type rowKey struct {
	aggregateID string
	version     int
}
