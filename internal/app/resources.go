package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/fenrys/internal/config"
	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
	"github.com/lllypuk/fenrys/internal/infrastructure/healthcheck"
	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
	"github.com/lllypuk/fenrys/internal/migrations"
)

const redisPingTimeout = 5 * time.Second

// ErrRelayDisabled is returned when a relay is requested while relay.type is none.
var ErrRelayDisabled = errors.New("relay is disabled")

// Engine is a storage engine that can also enumerate its aggregates.
// Every engine opened by Resources satisfies it.
type Engine interface {
	eventstore.Engine
	eventstore.IDLister
}

// Subscriber consumes relayed records until Shutdown is called.
type Subscriber interface {
	Start(ctx context.Context) error
	Shutdown() error
	IsRunning() bool
}

// Resources owns the connections opened for one process and closes them
// in reverse order.
type Resources struct {
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	mongo    *mongo.Client
	redis    *redis.Client
	nats     *nats.Conn
	closers  []func(ctx context.Context) error
	checkers []healthcheck.Checker

	storeMetrics    *metrics.EventStoreMetrics
	listenerMetrics *metrics.ListenerMetrics
}

// NewResources creates an empty resource set. A nil registerer disables metrics.
func NewResources(cfg *config.Config, logger *slog.Logger, registerer prometheus.Registerer) *Resources {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resources{
		cfg:    cfg,
		logger: logger,
	}
	if registerer != nil {
		r.storeMetrics = metrics.NewEventStoreMetrics(registerer)
		r.listenerMetrics = metrics.NewListenerMetrics(registerer)
	}
	return r
}

// StoreMetrics returns the repository metrics, nil when metrics are disabled.
func (r *Resources) StoreMetrics() *metrics.EventStoreMetrics {
	return r.storeMetrics
}

// ListenerMetrics returns the delivery metrics, nil when metrics are disabled.
func (r *Resources) ListenerMetrics() *metrics.ListenerMetrics {
	return r.listenerMetrics
}

// Checkers returns a ping checker for every connection opened so far.
func (r *Resources) Checkers() []healthcheck.Checker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]healthcheck.Checker(nil), r.checkers...)
}

// RetryConfig converts the listener settings into a delivery retry policy.
func (r *Resources) RetryConfig() eventbus.RetryConfig {
	return eventbus.RetryConfig{
		MaxRetries:     r.cfg.Listener.MaxRetries,
		InitialBackoff: r.cfg.Listener.InitialBackoff,
		MaxBackoff:     r.cfg.Listener.MaxBackoff,
		BackoffFactor:  r.cfg.Listener.BackoffFactor,
	}
}

// AggregateOptions returns the replay and dispatch options for aggregates.
func (r *Resources) AggregateOptions() []aggregate.Option {
	var opts []aggregate.Option
	if r.cfg.Aggregate.ReplayAllowGaps {
		opts = append(opts, aggregate.WithReplayPolicy(aggregate.ReplayAllowGaps))
	}
	if r.cfg.Aggregate.StrictDispatch {
		opts = append(opts, aggregate.WithStrictDispatch())
	}
	return opts
}

// Mongo returns the shared MongoDB client, connecting on first use.
func (r *Resources) Mongo(ctx context.Context) (*mongo.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mongo != nil {
		return r.mongo, nil
	}

	client, err := connectMongoDB(ctx, r.cfg.MongoDB, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	r.mongo = client
	r.addLocked("mongodb", client.Disconnect, func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
	return client, nil
}

// MongoDatabase returns the configured database of the shared client.
func (r *Resources) MongoDatabase(ctx context.Context) (*mongo.Database, error) {
	client, err := r.Mongo(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(r.cfg.MongoDB.Database), nil
}

// connectMongoDB establishes a connection to MongoDB.
func connectMongoDB(ctx context.Context, cfg config.MongoDBConfig, logger *slog.Logger) (*mongo.Client, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, err
	}

	// Ping to verify connection
	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Timeout)
	defer pingCancel()

	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		_ = client.Disconnect(context.Background())
		return nil, pingErr
	}

	logger.InfoContext(ctx, "connected to MongoDB",
		slog.String("database", cfg.Database),
	)

	return client, nil
}

// Redis returns the shared Redis client, connecting on first use.
func (r *Resources) Redis(ctx context.Context) (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.redis != nil {
		return r.redis, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     r.cfg.Redis.Addr,
		Password: r.cfg.Redis.Password,
		DB:       r.cfg.Redis.DB,
		PoolSize: r.cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "connected to Redis", slog.String("addr", r.cfg.Redis.Addr))

	r.redis = client
	r.addLocked("redis", func(context.Context) error { return client.Close() }, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return client, nil
}

// NATS returns the shared NATS connection, connecting on first use.
func (r *Resources) NATS(ctx context.Context) (*nats.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nats != nil {
		return r.nats, nil
	}

	conn, err := eventbus.ConnectNATS(r.cfg.NATS.URL, r.cfg.App.Name, r.cfg.NATS.Timeout)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "connected to NATS", slog.String("url", conn.ConnectedUrl()))

	r.nats = conn
	r.addLocked("nats", func(context.Context) error { return conn.Drain() }, func(context.Context) error {
		if !conn.IsConnected() {
			return fmt.Errorf("connection status %s", conn.Status())
		}
		return nil
	})
	return conn, nil
}

// OpenEngine opens the storage engine selected by store.type.
func (r *Resources) OpenEngine(ctx context.Context) (Engine, error) {
	switch strings.ToLower(r.cfg.Store.Type) {
	case config.StoreMemory:
		r.logger.WarnContext(ctx, "using in-memory event store, records are lost on exit")
		return eventstore.NewInMemoryEngine(), nil

	case config.StoreMongoDB:
		client, err := r.Mongo(ctx)
		if err != nil {
			return nil, err
		}
		engine := eventstore.NewMongoEngine(client, r.cfg.MongoDB.Database,
			eventstore.WithMongoCollection(r.cfg.MongoDB.Collection),
			eventstore.WithTransactions(r.cfg.MongoDB.Transactions),
			eventstore.WithMongoLogger(r.logger),
		)
		if err = engine.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create event indexes: %w", err)
		}
		return engine, nil

	case config.StorePostgres:
		db, err := eventstore.OpenPostgres(ctx, r.cfg.Postgres.DSN,
			r.cfg.Postgres.MaxOpenConns, r.cfg.Postgres.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		if err = migrations.RunMigrations(db, r.cfg.Postgres.AutoMigrate, r.logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		engine := eventstore.NewPostgresEngine(db, eventstore.WithSQLLogger(r.logger))
		r.add("postgres", func(context.Context) error { return engine.Close() }, db.PingContext)
		return engine, nil

	case config.StoreSQLite:
		engine, err := eventstore.NewSQLiteEngine(r.cfg.SQLite.Path, eventstore.WithSQLLogger(r.logger))
		if err != nil {
			return nil, err
		}
		r.add("sqlite", func(context.Context) error { return engine.Close() }, engine.DB().PingContext)
		return engine, nil

	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrInvalidStoreType, r.cfg.Store.Type)
	}
}

func (r *Resources) relayOptions() []eventbus.RelayOption {
	opts := []eventbus.RelayOption{
		eventbus.WithRelayLogger(r.logger),
		eventbus.WithRelayRetry(r.RetryConfig()),
		eventbus.WithSource(Instance(r.cfg)),
	}
	if r.listenerMetrics != nil {
		opts = append(opts, eventbus.WithRelayMetrics(r.listenerMetrics))
	}
	if r.cfg.Relay.Prefix != "" {
		opts = append(opts, eventbus.WithPrefix(r.cfg.Relay.Prefix))
	}
	return opts
}

// NewRelay creates the listener that forwards persisted records to the
// broker selected by relay.type.
func (r *Resources) NewRelay(ctx context.Context) (eventbus.Listener, error) {
	switch strings.ToLower(r.cfg.Relay.Type) {
	case "", config.RelayNone:
		return nil, ErrRelayDisabled

	case config.RelayRedis:
		client, err := r.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return eventbus.NewRedisRelay(client, r.relayOptions()...), nil

	case config.RelayNATS:
		conn, err := r.NATS(ctx)
		if err != nil {
			return nil, err
		}
		return eventbus.NewNATSRelay(conn, r.relayOptions()...), nil

	case config.RelayKafka:
		relay := eventbus.NewKafkaRelay(r.cfg.Kafka.Brokers, r.relayOptions()...)
		r.add("kafka-writer", func(context.Context) error { return relay.Close() }, nil)
		return relay, nil

	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrInvalidRelayType, r.cfg.Relay.Type)
	}
}

// NewSubscriber creates the consumer that feeds relayed records into target.
func (r *Resources) NewSubscriber(ctx context.Context, target eventbus.Listener) (Subscriber, error) {
	switch strings.ToLower(r.cfg.Relay.Type) {
	case "", config.RelayNone:
		return nil, ErrRelayDisabled

	case config.RelayRedis:
		client, err := r.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return eventbus.NewRedisSubscriber(client, target, r.relayOptions()...), nil

	case config.RelayNATS:
		conn, err := r.NATS(ctx)
		if err != nil {
			return nil, err
		}
		return eventbus.NewNATSSubscriber(conn, target, r.cfg.NATS.Queue, r.relayOptions()...), nil

	case config.RelayKafka:
		return eventbus.NewKafkaSubscriber(r.cfg.Kafka.Brokers, r.cfg.Kafka.GroupID, target,
			r.relayOptions()...), nil

	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrInvalidRelayType, r.cfg.Relay.Type)
	}
}

// Close releases every opened connection, most recent first.
func (r *Resources) Close(ctx context.Context) error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Resources) add(name string, closeFn func(context.Context) error, ping healthcheck.PingFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(name, closeFn, ping)
}

func (r *Resources) addLocked(name string, closeFn func(context.Context) error, ping healthcheck.PingFunc) {
	r.closers = append(r.closers, func(ctx context.Context) error {
		if err := closeFn(ctx); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		return nil
	})
	if ping != nil {
		r.checkers = append(r.checkers, healthcheck.NewPingChecker(name, ping))
	}
}
