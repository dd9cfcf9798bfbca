package app

import (
	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/repository"
)

// streamTypeName names the handler-less aggregates used to read raw streams.
const streamTypeName = "Stream"

// NewStreamRepository creates a repository of handler-less aggregates over
// engine. It reads and replays any stream regardless of its aggregate type,
// which is what the worker and the inspection tool need.
func (r *Resources) NewStreamRepository(
	engine Engine,
	publisher *eventbus.Publisher,
) (*repository.Repository[*aggregate.Root], error) {
	opts := []repository.Option{repository.WithLogger(r.logger)}
	if publisher != nil {
		opts = append(opts, repository.WithPublisher(publisher))
	}
	if r.storeMetrics != nil {
		opts = append(opts, repository.WithMetrics(r.storeMetrics))
	}

	aggOpts := r.AggregateOptions()
	return repository.New(engine, func() (*aggregate.Root, error) {
		return aggregate.New(streamTypeName, nil, aggOpts...)
	}, opts...)
}
