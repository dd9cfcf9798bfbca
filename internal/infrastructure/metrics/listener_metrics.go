package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ListenerMetrics contains Prometheus metrics for event delivery.
type ListenerMetrics struct {
	EventsDelivered  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
	RetryTotal       *prometheus.CounterVec
	EventsDiscarded  *prometheus.CounterVec
	RelayMessages    *prometheus.CounterVec
}

// NewListenerMetrics creates and registers listener metrics with the given registerer.
func NewListenerMetrics(registerer prometheus.Registerer) *ListenerMetrics {
	metrics := &ListenerMetrics{
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_listener_events_delivered_total",
				Help: "Total number of events handed to listeners",
			},
			[]string{"listener", "status"}, // status: success/failed
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fenrys_listener_delivery_duration_seconds",
				Help:    "Time a listener spent handling one event",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"listener"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fenrys_listener_queue_depth",
				Help: "Current number of events waiting in a queued listener",
			},
			[]string{"listener"},
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_listener_retry_total",
				Help: "Total number of retry attempts for failed deliveries",
			},
			[]string{"listener"},
		),
		EventsDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_listener_events_discarded_total",
				Help: "Total number of queued events dropped on forced stop",
			},
			[]string{"listener"},
		),
		RelayMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenrys_relay_messages_total",
				Help: "Total number of events relayed over a broker",
			},
			[]string{"transport", "direction", "status"}, // direction: out/in
		),
	}

	registerer.MustRegister(
		metrics.EventsDelivered,
		metrics.DeliveryDuration,
		metrics.QueueDepth,
		metrics.RetryTotal,
		metrics.EventsDiscarded,
		metrics.RelayMessages,
	)

	return metrics
}
