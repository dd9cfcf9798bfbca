// Package main provides the stream inspection tool.
//
// Usage:
//
//	tools -id Adder-<uuid>            print a stream as JSON
//	tools -all -verify                replay every stream and report failures
//	tools -all -rebuild               rebuild the MongoDB read model
//	tools -id Adder-<uuid> -republish send a stream through the relay again
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lllypuk/fenrys/internal/app"
	"github.com/lllypuk/fenrys/internal/config"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/projector"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (default: standard locations)")
	aggregateID := flag.String("id", "", "Aggregate ID to inspect")
	all := flag.Bool("all", false, "Inspect every stored aggregate")
	verify := flag.Bool("verify", false, "Replay the stream and compare the read model when one is configured")
	summary := flag.Bool("summary", false, "Print versions and counts without the records")
	rebuild := flag.Bool("rebuild", false, "Rebuild the MongoDB read model instead of printing")
	republish := flag.Bool("republish", false, "Send the stream through the configured relay again")

	flag.Parse()

	if !*all && *aggregateID == "" {
		//nolint:sloglint // No context available before logger setup
		slog.Error("either -id or -all must be specified")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Reports go to stdout, logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.ParseLogLevel(cfg.Log.Level),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := app.NewResources(cfg, logger, nil)

	err = execute(ctx, cfg, logger, res, command{
		aggregateID: *aggregateID,
		all:         *all,
		verify:      *verify,
		summary:     *summary,
		rebuild:     *rebuild,
		republish:   *republish,
	})

	if closeErr := res.Close(context.Background()); closeErr != nil {
		logger.Error("failed to release resources", slog.String("error", closeErr.Error()))
	}

	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1) //nolint:gocritic // stop() called before exit
	}
}

// command holds the parsed flags.
type command struct {
	aggregateID string
	all         bool
	verify      bool
	summary     bool
	rebuild     bool
	republish   bool
}

func (c command) ids() []string {
	if c.all {
		return nil
	}
	return []string{c.aggregateID}
}

func execute(ctx context.Context, cfg *config.Config, logger *slog.Logger, res *app.Resources, cmd command) error {
	engine, err := res.OpenEngine(ctx)
	if err != nil {
		return err
	}

	streams, err := res.NewStreamRepository(engine, eventbus.NewPublisher())
	if err != nil {
		return err
	}

	ins := &inspector{
		streams: streams,
		ids:     engine,
		out:     os.Stdout,
		logger:  logger,
		summary: cmd.summary,
	}

	var rebuilder *projector.Rebuilder
	if strings.ToLower(cfg.Projection.Type) == config.ProjectionMongoDB {
		db, dbErr := res.MongoDatabase(ctx)
		if dbErr != nil {
			return dbErr
		}
		model := projector.NewMongoProjection(db,
			projector.WithMongoName(cfg.Projection.Name),
			projector.WithMongoCollection(cfg.Projection.Collection),
			projector.WithMongoEventNames(cfg.Projection.EventNames...),
			projector.WithMongoLogger(logger),
		)
		rebuilder = projector.NewRebuilder(streams, engine, model, logger)
		ins.verifier = rebuilder
	}

	switch {
	case cmd.rebuild:
		if rebuilder == nil {
			return errors.New("rebuild needs projection.type mongodb")
		}
		if cmd.all {
			return rebuilder.RebuildAll(ctx)
		}
		return rebuilder.RebuildOne(ctx, cmd.aggregateID)

	case cmd.republish:
		relay, relayErr := res.NewRelay(ctx)
		if relayErr != nil {
			return relayErr
		}
		ins.relay = relay
		ids := cmd.ids()
		if len(ids) == 0 {
			if ids, err = engine.AggregateIDs(ctx); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if _, err = ins.republish(ctx, id); err != nil {
				return err
			}
		}
		return nil

	default:
		return ins.run(ctx, cmd.ids(), cmd.verify)
	}
}
