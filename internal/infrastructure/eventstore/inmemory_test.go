package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
)

func TestInMemoryEngine_Contract(t *testing.T) {
	runEngineContract(t, func(*testing.T) eventstore.Engine {
		return eventstore.NewInMemoryEngine()
	})
}

func TestInMemoryEngine_Clear(t *testing.T) {
	e := eventstore.NewInMemoryEngine()
	ctx := context.Background()
	require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 2)))
	require.NoError(t, e.InsertMany(ctx, testRows("Adder-2", 1, 1)))

	ids, err := e.AggregateIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Adder-1", "Adder-2"}, ids)

	e.Clear()

	ids, err = e.AggregateIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInMemoryEngine_CanceledContext(t *testing.T) {
	e := eventstore.NewInMemoryEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, e.InsertMany(ctx, testRows("Adder-1", 1, 1)), context.Canceled)
	_, err := e.FindByAggregateID(ctx, "Adder-1")
	require.ErrorIs(t, err, context.Canceled)
}
