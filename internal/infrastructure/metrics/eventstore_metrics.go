package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Save failure reasons.
const (
	ReasonConflict    = "conflict"
	ReasonPersistence = "persistence"
	ReasonDelivery    = "delivery"
	ReasonInvalid     = "invalid"
)

// EventStoreMetrics contains Prometheus metrics for repository operations.
type EventStoreMetrics struct {
	EventsAppended *prometheus.CounterVec
	EventsLoaded   *prometheus.CounterVec
	SaveDuration   *prometheus.HistogramVec
	LoadDuration   *prometheus.HistogramVec
	SaveFailures   *prometheus.CounterVec
	BatchSize      prometheus.Histogram
}

// NewEventStoreMetrics creates and registers event store metrics with the given registerer.
func NewEventStoreMetrics(registerer prometheus.Registerer) *EventStoreMetrics {
	metrics := &EventStoreMetrics{
		EventsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_eventstore_events_appended_total",
				Help: "Total number of event records persisted",
			},
			[]string{"aggregate_type"},
		),
		EventsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_eventstore_events_loaded_total",
				Help: "Total number of event records read back for replay",
			},
			[]string{"aggregate_type"},
		),
		SaveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fenrys_eventstore_save_duration_seconds",
				Help:    "Time to persist and publish an aggregate delta",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"aggregate_type"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fenrys_eventstore_load_duration_seconds",
				Help:    "Time to load and rehydrate an aggregate",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"aggregate_type"},
		),
		SaveFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_eventstore_save_failures_total",
				Help: "Total number of failed saves",
			},
			[]string{"aggregate_type", "reason"}, // reason: conflict/persistence/delivery/invalid
		),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fenrys_eventstore_batch_size",
			Help:    "Number of records persisted per save",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
	}

	registerer.MustRegister(
		metrics.EventsAppended,
		metrics.EventsLoaded,
		metrics.SaveDuration,
		metrics.LoadDuration,
		metrics.SaveFailures,
		metrics.BatchSize,
	)

	return metrics
}
