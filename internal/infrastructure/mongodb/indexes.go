// Package mongodb provides MongoDB infrastructure components including index management.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names as constants for consistency.
const (
	CollectionEvents      = "events"
	CollectionProjections = "projections"
)

// IndexDefinition describes a MongoDB index to be created.
type IndexDefinition struct {
	Collection string
	Name       string
	Keys       bson.D
	Unique     bool
}

// model converts the definition into a driver index model.
func (d IndexDefinition) model() mongo.IndexModel {
	opts := options.Index().SetName(d.Name)
	if d.Unique {
		opts.SetUnique(true)
	}
	return mongo.IndexModel{Keys: d.Keys, Options: opts}
}

// CreateAllIndexes creates all necessary indexes under the default collection names.
// This function is idempotent - calling it multiple times is safe.
func CreateAllIndexes(ctx context.Context, db *mongo.Database) error {
	return CreateIndexes(ctx, db, GetAllIndexDefinitions())
}

// EnsureIndexes is an alias for CreateAllIndexes.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return CreateAllIndexes(ctx, db)
}

// CreateIndexes creates the given indexes.
func CreateIndexes(ctx context.Context, db *mongo.Database, defs []IndexDefinition) error {
	for _, idx := range defs {
		coll := db.Collection(idx.Collection)
		if _, err := coll.Indexes().CreateOne(ctx, idx.model()); err != nil {
			return fmt.Errorf("failed to create index %s on collection %s: %w", idx.Name, idx.Collection, err)
		}
	}
	return nil
}

// GetAllIndexDefinitions returns all index definitions for the default collections.
func GetAllIndexDefinitions() []IndexDefinition {
	var indexes []IndexDefinition

	indexes = append(indexes, GetEventIndexes(CollectionEvents)...)
	indexes = append(indexes, GetProjectionIndexes(CollectionProjections)...)

	return indexes
}

// GetEventIndexes returns index definitions for an event store collection.
func GetEventIndexes(collection string) []IndexDefinition {
	return []IndexDefinition{
		{
			// Unique index - prevents two records with the same aggregate+version
			Collection: collection,
			Name:       "idx_events_aggregate_version_unique",
			Keys:       bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Unique:     true,
		},
		{
			// Index for filtering records by event name
			Collection: collection,
			Name:       "idx_events_name_time",
			Keys:       bson.D{{Key: "event_name", Value: 1}, {Key: "timestamp_us", Value: -1}},
		},
	}
}

// GetProjectionIndexes returns index definitions for a projection read model collection.
func GetProjectionIndexes(collection string) []IndexDefinition {
	return []IndexDefinition{
		{
			// Upsert key - redelivered records overwrite instead of duplicating
			Collection: collection,
			Name:       "idx_projection_aggregate_version_unique",
			Keys:       bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Unique:     true,
		},
		{
			Collection: collection,
			Name:       "idx_projection_name_time",
			Keys:       bson.D{{Key: "event_name", Value: 1}, {Key: "timestamp_us", Value: -1}},
		},
	}
}

// CreateCollectionIndexes creates indexes for a specific default collection.
func CreateCollectionIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	var indexes []IndexDefinition

	switch collectionName {
	case CollectionEvents:
		indexes = GetEventIndexes(collectionName)
	case CollectionProjections:
		indexes = GetProjectionIndexes(collectionName)
	default:
		return fmt.Errorf("unknown collection: %s", collectionName)
	}

	return CreateIndexes(ctx, db, indexes)
}
