package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

func sampleRecords() []event.Record {
	ts := event.Now()
	return []event.Record{
		{AggregateID: "Adder-1", Version: 1, EventName: event.Created, Payload: json.RawMessage(`{}`), Timestamp: ts},
		{AggregateID: "Adder-1", Version: 2, EventName: "adding", Payload: json.RawMessage(`{"number":1}`), Timestamp: ts},
	}
}

// TestFindRecord tests FindRecord function
func TestFindRecord(t *testing.T) {
	rec := FindRecord(t, sampleRecords(), "adding")

	assert.Equal(t, 2, rec.Version)
}

// TestAssertRecordsEqual tests AssertRecordsEqual function
func TestAssertRecordsEqual(t *testing.T) {
	records := sampleRecords()
	clones := make([]event.Record, len(records))
	for i := range records {
		clones[i] = records[i].Clone()
	}

	AssertRecordsEqual(t, records, clones)
}

// TestAssertContiguous tests AssertContiguous and AssertVersions functions
func TestAssertContiguous(t *testing.T) {
	records := sampleRecords()

	AssertContiguous(t, records, 1)
	AssertVersions(t, records, 1, 2)
}

// TestAssertTimeApproximatelyEqual tests AssertTimeApproximatelyEqual function
func TestAssertTimeApproximatelyEqual(t *testing.T) {
	now := time.Now()

	// Should pass for times within delta
	AssertTimeApproximatelyEqual(t, now, now.Add(500*time.Millisecond), time.Second)
	AssertTimeApproximatelyEqual(t, now, now.Add(-500*time.Millisecond), time.Second)
}

// TestAssertNormalized tests AssertNormalized function
func TestAssertNormalized(t *testing.T) {
	AssertNormalized(t, event.Now())
}

func TestUniqueName(t *testing.T) {
	assert.Equal(t, "fenrys_test_testfoo_bar", uniqueName("fenrys_test_", "TestFoo/bar"))
	assert.LessOrEqual(t, len(uniqueName("p_", string(make([]byte, 200)))), len("p_")+maxTestNameLength)
}
