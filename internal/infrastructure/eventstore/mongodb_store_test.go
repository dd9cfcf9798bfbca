//go:build integration

package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
	"github.com/lllypuk/fenrys/tests/testutil"
)

func newMongoEngine(t *testing.T) *eventstore.MongoEngine {
	t.Helper()

	db := testutil.SetupSharedTestMongoDB(t)
	// Тестовый контейнер запущен без replica set, транзакции недоступны
	e := eventstore.NewMongoEngine(db.Client(), db.Name(), eventstore.WithTransactions(false))
	require.NoError(t, e.EnsureIndexes(context.Background()))

	return e
}

func TestMongoEngine_Contract(t *testing.T) {
	runEngineContract(t, func(t *testing.T) eventstore.Engine {
		return newMongoEngine(t)
	})
}

func TestMongoEngine_DocumentLayout(t *testing.T) {
	// Arrange
	db := testutil.SetupSharedTestMongoDB(t)
	e := eventstore.NewMongoEngine(db.Client(), db.Name(), eventstore.WithTransactions(false))
	require.NoError(t, e.EnsureIndexes(context.Background()))
	ctx := context.Background()

	// Act
	require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 1)))

	// Assert
	var doc bson.M
	err := db.Collection(eventstore.DefaultMongoCollection).FindOne(ctx, bson.M{"aggregate_id": "Adder-1"}).Decode(&doc)
	require.NoError(t, err)
	assert.Equal(t, "adding", doc["event_name"])
	assert.EqualValues(t, 1, doc["version"])
	assert.Equal(t, `{"number":1}`, doc["payload"])
	assert.Contains(t, doc, "timestamp_us")
}

func TestMongoEngine_CustomCollection(t *testing.T) {
	db := testutil.SetupSharedTestMongoDB(t)
	e := eventstore.NewMongoEngine(db.Client(), db.Name(),
		eventstore.WithTransactions(false),
		eventstore.WithMongoCollection("adder_events"),
	)
	ctx := context.Background()
	require.NoError(t, e.EnsureIndexes(ctx))

	require.NoError(t, e.InsertMany(ctx, testRows("Adder-1", 1, 2)))

	n, err := db.Collection("adder_events").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
