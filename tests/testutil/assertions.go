package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

// ==================== Record Assertions ====================

// FindRecord returns the first record with the given event name or fails the test
func FindRecord(t *testing.T, records []event.Record, eventName string) event.Record {
	t.Helper()

	for _, rec := range records {
		if rec.EventName == eventName {
			return rec
		}
	}

	t.Fatalf("Expected record %q, but it was not found. Got %d records", eventName, len(records))
	return event.Record{}
}

// AssertRecordsEqual checks that two record sequences carry the same facts in the same order
func AssertRecordsEqual(t *testing.T, expected, actual []event.Record, msgAndArgs ...any) {
	t.Helper()

	require.Len(t, actual, len(expected), msgAndArgs...)
	for i := range expected {
		assert.True(t, expected[i].Equal(actual[i]), append([]any{
			"record %d: expected %s, got %s", i, expected[i], actual[i],
		}, msgAndArgs...)...)
	}
}

// AssertContiguous checks that records carry versions from..from+len-1 of one aggregate
func AssertContiguous(t *testing.T, records []event.Record, from int) {
	t.Helper()

	for i, rec := range records {
		assert.Equal(t, from+i, rec.Version, "record %d", i)
		assert.Equal(t, records[0].AggregateID, rec.AggregateID, "record %d", i)
	}
}

// AssertVersions checks the versions of records in order
func AssertVersions(t *testing.T, records []event.Record, versions ...int) {
	t.Helper()

	got := make([]int, len(records))
	for i, rec := range records {
		got[i] = rec.Version
	}
	assert.Equal(t, versions, got)
}

// ==================== Time Assertions ====================

// AssertTimeApproximatelyEqual checks, that two time approximately equal
// with acceptable tolerance delta (usually time.Second or time.Millisecond)
func AssertTimeApproximatelyEqual(t *testing.T, expected, actual time.Time, delta time.Duration, msgAndArgs ...any) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.LessOrEqual(t, diff, delta, append([]any{
		"expected time %v to be within %v of %v, but difference was %v",
		actual, delta, expected, diff,
	}, msgAndArgs...)...)
}

// AssertNormalized checks that a timestamp is UTC with microsecond precision
func AssertNormalized(t *testing.T, tm time.Time) {
	t.Helper()

	assert.Equal(t, time.UTC, tm.Location())
	assert.Zero(t, tm.Nanosecond()%int(time.Microsecond), "timestamp %v has sub-microsecond precision", tm)
}
