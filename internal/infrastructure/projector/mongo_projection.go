package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
	"github.com/lllypuk/fenrys/internal/infrastructure/mongodb"
)

// DefaultMongoName is the listener name of a MongoProjection.
const DefaultMongoName = "mongo-projection"

// projectionDoc is the read model document of a projected record.
type projectionDoc struct {
	eventstore.Row `bson:",inline"`

	AggregateType string    `bson:"aggregate_type"`
	Data          any       `bson:"data,omitempty"`
	ProjectedAt   time.Time `bson:"projected_at"`
}

// MongoProjection upserts matching records into a read model collection.
//
// Documents are keyed by (aggregate_id, version), so redelivery of a record
// overwrites its document instead of duplicating it.
type MongoProjection struct {
	name       string
	filter     Filter
	collection *mongo.Collection
	logger     *slog.Logger
	clock      func() time.Time
}

var (
	_ ReadModel      = (*MongoProjection)(nil)
	_ eventbus.Named = (*MongoProjection)(nil)
)

// MongoOption configures MongoProjection.
type MongoOption func(*MongoProjection)

// WithMongoName sets the listener name.
func WithMongoName(name string) MongoOption {
	return func(p *MongoProjection) {
		p.name = name
	}
}

// WithMongoCollection overrides the read model collection name.
func WithMongoCollection(name string) MongoOption {
	return func(p *MongoProjection) {
		p.collection = p.collection.Database().Collection(name)
	}
}

// WithMongoEventNames restricts the projection to the named events.
func WithMongoEventNames(names ...string) MongoOption {
	return func(p *MongoProjection) {
		p.filter = NewFilter(names...)
	}
}

// WithMongoLogger sets the logger.
func WithMongoLogger(logger *slog.Logger) MongoOption {
	return func(p *MongoProjection) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewMongoProjection creates a projection writing to db.
func NewMongoProjection(db *mongo.Database, opts ...MongoOption) *MongoProjection {
	p := &MongoProjection{
		name:       DefaultMongoName,
		collection: db.Collection(mongodb.CollectionProjections),
		logger:     slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureIndexes creates the unique upsert key and the lookup indexes.
func (p *MongoProjection) EnsureIndexes(ctx context.Context) error {
	return mongodb.CreateIndexes(ctx, p.collection.Database(), mongodb.GetProjectionIndexes(p.collection.Name()))
}

// Name implements eventbus.Named.
func (p *MongoProjection) Name() string {
	return p.name
}

// Match reports whether the projection keeps records named eventName.
func (p *MongoProjection) Match(eventName string) bool {
	return p.filter.Match(eventName)
}

// OnEvent implements eventbus.Listener.
func (p *MongoProjection) OnEvent(ctx context.Context, rec event.Record) error {
	if !p.filter.Match(rec.EventName) {
		return nil
	}

	row, err := eventstore.EncodeRow(rec)
	if err != nil {
		return err
	}

	doc := projectionDoc{
		Row:           row,
		AggregateType: aggregate.TypeOf(rec.AggregateID),
		ProjectedAt:   p.clock().UTC(),
	}
	if err = json.Unmarshal(rec.Payload, &doc.Data); err != nil {
		return fmt.Errorf("failed to decode payload of %s: %w", rec, err)
	}

	filter := bson.M{"aggregate_id": row.AggregateID, "version": row.Version}
	update := bson.M{"$set": doc}
	opts := options.UpdateOne().SetUpsert(true)

	if _, err = p.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		p.logger.ErrorContext(ctx, "failed to upsert projection document",
			slog.String("aggregate_id", row.AggregateID),
			slog.Int("version", row.Version),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to upsert read model: %w", err)
	}

	return nil
}

// Find returns the projected records of an aggregate in version order.
func (p *MongoProjection) Find(ctx context.Context, aggregateID string) ([]event.Record, error) {
	filter := bson.M{"aggregate_id": aggregateID}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := p.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find projected records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []projectionDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode projected records: %w", err)
	}

	records := make([]event.Record, 0, len(docs))
	for _, doc := range docs {
		rec, errDecode := eventstore.DecodeRow(doc.Row)
		if errDecode != nil {
			return nil, errDecode
		}
		records = append(records, rec)
	}

	return records, nil
}

// Count returns the number of projected records.
func (p *MongoProjection) Count(ctx context.Context) (int64, error) {
	count, err := p.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count projected records: %w", err)
	}
	return count, nil
}

// Purge deletes the projected records of an aggregate.
func (p *MongoProjection) Purge(ctx context.Context, aggregateID string) error {
	if _, err := p.collection.DeleteMany(ctx, bson.M{"aggregate_id": aggregateID}); err != nil {
		return fmt.Errorf("failed to purge projected records: %w", err)
	}
	return nil
}
