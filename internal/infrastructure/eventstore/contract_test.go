package eventstore_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
)

func testRows(aggregateID string, from, to int) []eventstore.Row {
	rows := make([]eventstore.Row, 0, to-from+1)
	for v := from; v <= to; v++ {
		rows = append(rows, eventstore.Row{
			AggregateID: aggregateID,
			Version:     v,
			EventName:   "adding",
			Payload:     fmt.Sprintf(`{"number":%d}`, v),
			Timestamp:   1700000000000000 + int64(v),
		})
	}
	return rows
}

// runEngineContract exercises the behaviour every engine must share.
func runEngineContract(t *testing.T, newEngine func(t *testing.T) eventstore.Engine) {
	t.Helper()

	t.Run("insert and find", func(t *testing.T) {
		// Arrange
		e := newEngine(t)
		ctx := context.Background()
		rows := testRows("Adder-1", 1, 3)

		// Act
		require.NoError(t, e.InsertMany(ctx, rows))
		got, err := e.FindByAggregateID(ctx, "Adder-1")

		// Assert
		require.NoError(t, err)
		sort.Slice(got, func(i, j int) bool { return got[i].Version < got[j].Version })
		assert.Equal(t, rows, got)
	})

	t.Run("unknown aggregate is empty", func(t *testing.T) {
		e := newEngine(t)

		got, err := e.FindByAggregateID(context.Background(), "missing")

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		e := newEngine(t)

		require.NoError(t, e.InsertMany(context.Background(), nil))
	})

	t.Run("duplicate version is rejected", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()
		require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 2)))

		err := e.InsertMany(ctx, testRows("Adder-1", 2, 2))

		require.ErrorIs(t, err, eventstore.ErrDuplicateRow)
	})

	t.Run("failed batch writes nothing", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()
		require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 2)))

		// 3 и 4 новые, 2 уже есть
		batch := append(testRows("Adder-1", 3, 4), testRows("Adder-1", 2, 2)...)
		err := e.InsertMany(ctx, batch)

		require.ErrorIs(t, err, eventstore.ErrDuplicateRow)
		got, err := e.FindByAggregateID(ctx, "Adder-1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("duplicate inside batch is rejected", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		batch := append(testRows("Adder-1", 1, 2), testRows("Adder-1", 2, 2)...)
		err := e.InsertMany(ctx, batch)

		require.ErrorIs(t, err, eventstore.ErrDuplicateRow)
		got, err := e.FindByAggregateID(ctx, "Adder-1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("invalid row is rejected", func(t *testing.T) {
		e := newEngine(t)
		rows := testRows("Adder-1", 1, 1)
		rows[0].Payload = "{not json"

		err := e.InsertMany(context.Background(), rows)

		require.ErrorIs(t, err, eventstore.ErrInvalidRow)
	})

	t.Run("streams are isolated", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()
		require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 3)))
		require.NoError(t, e.InsertMany(ctx, testRows("Adder-2", 1, 1)))

		got, err := e.FindByAggregateID(ctx, "Adder-2")

		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("max version", func(t *testing.T) {
		e := newEngine(t)
		vr, ok := e.(eventstore.VersionReader)
		if !ok {
			t.Skip("engine does not implement VersionReader")
		}
		ctx := context.Background()

		v, err := vr.MaxVersion(ctx, "Adder-1")
		require.NoError(t, err)
		assert.Equal(t, 0, v)

		require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 7)))

		v, err = vr.MaxVersion(ctx, "Adder-1")
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("aggregate ids", func(t *testing.T) {
		e := newEngine(t)
		lister, ok := e.(eventstore.IDLister)
		if !ok {
			t.Skip("engine does not implement IDLister")
		}
		ctx := context.Background()

		ids, err := lister.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		require.NoError(t, e.InsertMany(ctx, testRows("Adder-2", 1, 2)))
		require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 1)))

		ids, err = lister.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Adder-1", "Adder-2"}, ids)
	})

	t.Run("concurrent writers of one version", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()
		const writers = 8

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.InsertMany(ctx, testRows("Adder-1", 1, 1)); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, eventstore.ErrDuplicateRow)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
	})
}
