package mongodb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lllypuk/fenrys/internal/infrastructure/mongodb"
)

func findIndexByName(indexes []mongodb.IndexDefinition, name string) *mongodb.IndexDefinition {
	for i := range indexes {
		if indexes[i].Name == name {
			return &indexes[i]
		}
	}
	return nil
}

func TestGetEventIndexes(t *testing.T) {
	indexes := mongodb.GetEventIndexes("custom_events")

	assert.Len(t, indexes, 2)
	for _, idx := range indexes {
		assert.Equal(t, "custom_events", idx.Collection)
	}

	unique := findIndexByName(indexes, "idx_events_aggregate_version_unique")
	if assert.NotNil(t, unique) {
		assert.True(t, unique.Unique)
		assert.Equal(t, "aggregate_id", unique.Keys[0].Key)
		assert.Equal(t, "version", unique.Keys[1].Key)
	}
}

func TestGetProjectionIndexes(t *testing.T) {
	indexes := mongodb.GetProjectionIndexes(mongodb.CollectionProjections)

	assert.Len(t, indexes, 2)
	unique := findIndexByName(indexes, "idx_projection_aggregate_version_unique")
	if assert.NotNil(t, unique) {
		assert.True(t, unique.Unique)
	}
	assert.NotNil(t, findIndexByName(indexes, "idx_projection_name_time"))
}

func TestGetAllIndexDefinitions(t *testing.T) {
	indexes := mongodb.GetAllIndexDefinitions()

	collections := map[string]int{}
	for _, idx := range indexes {
		collections[idx.Collection]++
		assert.NotEmpty(t, idx.Name)
		assert.NotEmpty(t, idx.Keys)
	}

	assert.Equal(t, 2, collections[mongodb.CollectionEvents])
	assert.Equal(t, 2, collections[mongodb.CollectionProjections])
}
