package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
	"github.com/lllypuk/fenrys/internal/infrastructure/repository"
)

// errVerificationFailed is returned when at least one stream did not pass -verify.
var errVerificationFailed = errors.New("verification failed")

// consistencyVerifier compares a read model with the stream it was projected from.
type consistencyVerifier interface {
	VerifyConsistency(ctx context.Context, aggregateID string) (bool, error)
}

// streamReport is the JSON document printed for one aggregate.
type streamReport struct {
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	Version       int            `json:"version"`
	Count         int            `json:"count"`
	Records       []event.Record `json:"records,omitempty"`

	Replayed    *bool  `json:"replayed,omitempty"`
	ReplayError string `json:"replay_error,omitempty"`
	Consistent  *bool  `json:"read_model_consistent,omitempty"`
}

func (r streamReport) failed() bool {
	return (r.Replayed != nil && !*r.Replayed) || (r.Consistent != nil && !*r.Consistent)
}

// inspector prints persisted streams and checks that they replay.
type inspector struct {
	streams  *repository.Repository[*aggregate.Root]
	ids      eventstore.IDLister
	verifier consistencyVerifier
	relay    eventbus.Listener
	out      io.Writer
	logger   *slog.Logger

	summary bool
}

// inspect builds the report of one aggregate. With verify set the stream is
// rehydrated and, when a verifier is configured, compared with the read model.
func (i *inspector) inspect(ctx context.Context, aggregateID string, verify bool) (streamReport, error) {
	records, err := i.streams.GetStreamFor(ctx, aggregateID)
	if err != nil {
		return streamReport{}, err
	}

	report := streamReport{
		AggregateID:   aggregateID,
		AggregateType: aggregate.TypeOf(aggregateID),
		Count:         len(records),
	}
	if len(records) > 0 {
		report.Version = records[len(records)-1].Version
	}
	if !i.summary {
		report.Records = records
	}

	if !verify {
		return report, nil
	}

	replayed := true
	if _, loadErr := i.streams.Load(ctx, aggregateID); loadErr != nil {
		replayed = false
		report.ReplayError = loadErr.Error()
	}
	report.Replayed = &replayed

	if i.verifier != nil && len(records) > 0 {
		consistent, verifyErr := i.verifier.VerifyConsistency(ctx, aggregateID)
		if verifyErr != nil {
			return report, fmt.Errorf("verify read model of %s: %w", aggregateID, verifyErr)
		}
		report.Consistent = &consistent
	}

	return report, nil
}

// run inspects the given aggregates, or every stored aggregate when ids is
// empty, and writes one JSON document per aggregate.
func (i *inspector) run(ctx context.Context, ids []string, verify bool) error {
	if len(ids) == 0 {
		if i.ids == nil {
			return errors.New("engine cannot list aggregate ids")
		}
		all, err := i.ids.AggregateIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list aggregates: %w", err)
		}
		ids = all
	}

	enc := json.NewEncoder(i.out)
	enc.SetIndent("", "  ")

	failures := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		report, err := i.inspect(ctx, id, verify)
		if err != nil {
			return err
		}
		if report.failed() {
			failures++
			i.logger.WarnContext(ctx, "stream failed verification",
				slog.String("aggregate_id", id),
				slog.String("replay_error", report.ReplayError),
			)
		}

		if err = enc.Encode(report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	i.logger.InfoContext(ctx, "inspection completed",
		slog.Int("aggregates", len(ids)),
		slog.Int("failed", failures),
	)

	if failures > 0 {
		return fmt.Errorf("%w: %d of %d aggregates", errVerificationFailed, failures, len(ids))
	}
	return nil
}

// republish sends the stored stream of an aggregate through the relay again,
// in version order. Consumers upsert by (aggregate_id, version), so records
// they already hold are not duplicated.
func (i *inspector) republish(ctx context.Context, aggregateID string) (int, error) {
	if i.relay == nil {
		return 0, errors.New("no relay configured")
	}

	records, err := i.streams.GetStreamFor(ctx, aggregateID)
	if err != nil {
		return 0, err
	}

	for n, rec := range records {
		if err = i.relay.OnEvent(ctx, rec); err != nil {
			return n, fmt.Errorf("failed to relay %s: %w", rec, err)
		}
	}

	i.logger.InfoContext(ctx, "stream republished",
		slog.String("aggregate_id", aggregateID),
		slog.Int("records", len(records)),
	)

	return len(records), nil
}
