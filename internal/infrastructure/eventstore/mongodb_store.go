package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/fenrys/internal/infrastructure/mongodb"
)

// DefaultMongoCollection is the collection events are stored in.
const DefaultMongoCollection = mongodb.CollectionEvents

// mongoRow is the MongoDB document of a Row
type mongoRow struct {
	ID  bson.ObjectID `bson:"_id"`
	Row `bson:",inline"`
}

// MongoEngine реализует Engine с использованием MongoDB
type MongoEngine struct {
	client       *mongo.Client
	collection   *mongo.Collection
	transactions bool
	logger       *slog.Logger
}

var (
	_ Engine        = (*MongoEngine)(nil)
	_ VersionReader = (*MongoEngine)(nil)
	_ IDLister      = (*MongoEngine)(nil)
)

// MongoOption configures MongoEngine.
type MongoOption func(*MongoEngine)

// WithMongoLogger sets the logger for the engine.
func WithMongoLogger(logger *slog.Logger) MongoOption {
	return func(e *MongoEngine) {
		e.logger = logger
	}
}

// WithMongoCollection overrides the events collection name.
func WithMongoCollection(name string) MongoOption {
	return func(e *MongoEngine) {
		e.collection = e.collection.Database().Collection(name)
	}
}

// WithTransactions toggles multi-document transactions.
// Standalone servers do not support them; without transactions a failed batch
// is rolled back by deleting the documents it inserted.
func WithTransactions(enabled bool) MongoOption {
	return func(e *MongoEngine) {
		e.transactions = enabled
	}
}

// NewMongoEngine создает новый MongoDB engine
func NewMongoEngine(client *mongo.Client, databaseName string, opts ...MongoOption) *MongoEngine {
	e := &MongoEngine{
		client:       client,
		collection:   client.Database(databaseName).Collection(DefaultMongoCollection),
		transactions: true,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// EnsureIndexes создает индексы коллекции событий, включая уникальный (aggregate_id, version)
func (e *MongoEngine) EnsureIndexes(ctx context.Context) error {
	defs := mongodb.GetEventIndexes(e.collection.Name())
	if err := mongodb.CreateIndexes(ctx, e.collection.Database(), defs); err != nil {
		return fmt.Errorf("failed to create events index: %w", err)
	}
	return nil
}

// InsertMany сохраняет строки атомарно
func (e *MongoEngine) InsertMany(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkBatch(rows); err != nil {
		return err
	}

	docs := make([]any, len(rows))
	ids := make([]bson.ObjectID, len(rows))
	for i, row := range rows {
		ids[i] = bson.NewObjectID()
		docs[i] = mongoRow{ID: ids[i], Row: row}
	}

	var err error
	if e.transactions {
		err = e.insertInTransaction(ctx, docs)
	} else {
		err = e.insertWithCompensation(ctx, docs, ids)
	}
	if err == nil {
		return nil
	}

	if mongo.IsDuplicateKeyError(err) {
		e.logger.WarnContext(ctx, "duplicate key error in event store",
			slog.String("aggregate_id", rows[0].AggregateID),
			slog.Int("rows_count", len(rows)),
		)
		return fmt.Errorf("%w: %w", ErrDuplicateRow, err)
	}

	e.logger.ErrorContext(ctx, "failed to insert events to event store",
		slog.String("aggregate_id", rows[0].AggregateID),
		slog.Int("rows_count", len(rows)),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("failed to insert events: %w", err)
}

func (e *MongoEngine) insertInTransaction(ctx context.Context, docs []any) error {
	session, err := e.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		if _, errInsert := e.collection.InsertMany(txCtx, docs); errInsert != nil {
			return nil, errInsert
		}
		return nil, nil //nolint:nilnil // Transaction success returns nil for both values
	})

	return err
}

func (e *MongoEngine) insertWithCompensation(ctx context.Context, docs []any, ids []bson.ObjectID) error {
	_, err := e.collection.InsertMany(ctx, docs)
	if err == nil {
		return nil
	}

	// Удаляем только документы этого батча, чужие строки не трогаем
	_, errDelete := e.collection.DeleteMany(context.WithoutCancel(ctx), bson.M{"_id": bson.M{"$in": ids}})
	if errDelete != nil {
		e.logger.ErrorContext(ctx, "failed to roll back partial event batch",
			slog.Int("rows_count", len(ids)),
			slog.String("error", errDelete.Error()),
		)
		return errors.Join(err, errDelete)
	}

	return err
}

// FindByAggregateID загружает все строки агрегата
func (e *MongoEngine) FindByAggregateID(ctx context.Context, aggregateID string) ([]Row, error) {
	filter := bson.M{"aggregate_id": aggregateID}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := e.collection.Find(ctx, filter, opts)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to find events in event store",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoRow
	if err = cursor.All(ctx, &docs); err != nil {
		e.logger.ErrorContext(ctx, "failed to decode events from event store",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	rows := make([]Row, len(docs))
	for i := range docs {
		rows[i] = docs[i].Row
	}

	return rows, nil
}

// MaxVersion возвращает текущую версию агрегата
func (e *MongoEngine) MaxVersion(ctx context.Context, aggregateID string) (int, error) {
	filter := bson.M{"aggregate_id": aggregateID}
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})

	var doc mongoRow
	err := e.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil // Нет событий еще
		}
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	return doc.Version, nil
}

// AggregateIDs возвращает ID всех агрегатов
func (e *MongoEngine) AggregateIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := e.collection.Distinct(ctx, "aggregate_id", bson.D{}).Decode(&ids); err != nil {
		return nil, fmt.Errorf("failed to list aggregate ids: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}
