// Package main provides the projection worker entry point.
//
// The worker subscribes to the configured relay, feeds every relayed record
// through a local publisher into a queued projection and serves health and
// metrics endpoints until it receives a shutdown signal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/fenrys/internal/app"
	"github.com/lllypuk/fenrys/internal/config"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/healthcheck"
	"github.com/lllypuk/fenrys/internal/infrastructure/httpserver"
	"github.com/lllypuk/fenrys/internal/infrastructure/projector"
)

const readModelSampleSize = 50

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup logger
	logger := app.SetupLogger(cfg)

	logger.Info("starting fenrys worker",
		slog.String("instance", app.Instance(cfg)),
		slog.String("relay", cfg.Relay.Type),
		slog.String("projection", cfg.Projection.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		stop()
		os.Exit(1) //nolint:gocritic // stop() called before exit
	}

	logger.Info("worker service shutdown complete")
}

// worker holds the components supervised by run.
type worker struct {
	cfg        *config.Config
	logger     *slog.Logger
	queue      *eventbus.QueuedListener
	subscriber app.Subscriber
	server     *httpserver.Server
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	res := app.NewResources(cfg, logger, prometheus.DefaultRegisterer)
	defer func() {
		if closeErr := res.Close(context.Background()); closeErr != nil {
			logger.Error("failed to release resources", slog.String("error", closeErr.Error()))
		}
	}()

	w, err := setupWorker(ctx, cfg, logger, res)
	if err != nil {
		return err
	}

	return w.serve(ctx)
}

func setupWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, res *app.Resources) (*worker, error) {
	model, err := setupProjection(ctx, cfg, logger, res)
	if err != nil {
		return nil, err
	}

	queueOpts := []eventbus.QueuedOption{
		eventbus.WithQueueLogger(logger),
		eventbus.WithQueueRetry(res.RetryConfig()),
	}
	if m := res.ListenerMetrics(); m != nil {
		queueOpts = append(queueOpts, eventbus.WithQueueMetrics(m))
	}
	queue := eventbus.NewQueuedListener(cfg.Projection.Name, model, queueOpts...)

	publisherOpts := []eventbus.Option{
		eventbus.WithName("worker"),
		eventbus.WithLogger(logger),
	}
	if m := res.ListenerMetrics(); m != nil {
		publisherOpts = append(publisherOpts, eventbus.WithMetrics(m))
	}
	publisher := eventbus.NewPublisher(publisherOpts...)
	if err = publisher.Register(queue); err != nil {
		return nil, fmt.Errorf("failed to register projection queue: %w", err)
	}

	subscriber, err := res.NewSubscriber(ctx, publisher)
	if errors.Is(err, app.ErrRelayDisabled) {
		return nil, fmt.Errorf("worker needs a relay: set relay.type to redis, nats or kafka: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create relay subscriber: %w", err)
	}

	registry, err := setupHealth(ctx, cfg, logger, res, queue, model)
	if err != nil {
		return nil, err
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Instance:        app.Instance(cfg),
	}, logger)
	server.RegisterHealth(registry)
	server.RegisterMetrics(prometheus.DefaultGatherer)

	return &worker{
		cfg:        cfg,
		logger:     logger,
		queue:      queue,
		subscriber: subscriber,
		server:     server,
	}, nil
}

// setupProjection creates the read model the worker maintains.
func setupProjection(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	res *app.Resources,
) (eventbus.Listener, error) {
	if strings.ToLower(cfg.Projection.Type) != config.ProjectionMongoDB {
		logger.WarnContext(ctx, "using in-memory projection, the read model is lost on exit")
		return projector.NewProjection[json.RawMessage](cfg.Projection.Name,
			projector.WithEventNames[json.RawMessage](cfg.Projection.EventNames...),
		), nil
	}

	db, err := res.MongoDatabase(ctx)
	if err != nil {
		return nil, err
	}

	model := projector.NewMongoProjection(db,
		projector.WithMongoName(cfg.Projection.Name),
		projector.WithMongoCollection(cfg.Projection.Collection),
		projector.WithMongoEventNames(cfg.Projection.EventNames...),
		projector.WithMongoLogger(logger),
	)
	if err = model.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create projection indexes: %w", err)
	}
	return model, nil
}

// setupHealth registers a checker for every connection, the projection queue
// and, when the read model is persistent and the store is shared, the drift
// between the two.
func setupHealth(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	res *app.Resources,
	queue *eventbus.QueuedListener,
	model eventbus.Listener,
) (*healthcheck.Registry, error) {
	registry := healthcheck.NewRegistry(healthcheck.NewQueueBacklogChecker(queue))

	readModel, persistent := model.(*projector.MongoProjection)
	if persistent && strings.ToLower(cfg.Store.Type) != config.StoreMemory {
		engine, err := res.OpenEngine(ctx)
		if err != nil {
			return nil, err
		}
		streams, err := res.NewStreamRepository(engine, eventbus.NewPublisher())
		if err != nil {
			return nil, err
		}
		rebuilder := projector.NewRebuilder(streams, engine, readModel, logger)
		registry.Add(healthcheck.NewReadModelSyncChecker(engine, rebuilder, readModelSampleSize))
	}

	for _, c := range res.Checkers() {
		registry.Add(c)
	}

	return registry, nil
}

// serve runs the HTTP server and the subscriber until ctx is cancelled or
// one of them fails, then shuts everything down and drains the queue.
func (w *worker) serve(ctx context.Context) error {
	if err := w.queue.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.server.Start()
	})

	g.Go(func() error {
		err := w.subscriber.Start(gctx)
		switch {
		case gctx.Err() != nil:
			return nil
		case err == nil:
			return errors.New("relay subscriber stopped unexpectedly")
		default:
			return err
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		w.logger.Info("shutting down worker")
		return w.shutdown()
	})

	return g.Wait()
}

// shutdown stops intake first and then lets the queue drain within the
// configured stop timeout.
func (w *worker) shutdown() error {
	var errs []error

	if err := w.server.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}

	if err := w.subscriber.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop subscriber: %w", err))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), w.cfg.Listener.StopTimeout)
	defer cancel()

	pending := w.queue.Pending()
	if err := w.queue.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain projection queue: %w", err))
	}

	w.logger.Info("projection queue stopped",
		slog.Int("pending_at_shutdown", pending),
		slog.Uint64("processed", w.queue.Processed()),
		slog.Uint64("failed", w.queue.Failed()),
		slog.Uint64("discarded", w.queue.Discarded()),
	)

	return errors.Join(errs...)
}
