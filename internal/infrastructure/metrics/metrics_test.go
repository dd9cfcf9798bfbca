package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
)

func TestEventStoreMetrics_Registration(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := metrics.NewEventStoreMetrics(registry)

	require.NotNil(t, m.EventsAppended)
	require.NotNil(t, m.EventsLoaded)
	require.NotNil(t, m.SaveDuration)
	require.NotNil(t, m.LoadDuration)
	require.NotNil(t, m.SaveFailures)
	require.NotNil(t, m.BatchSize)

	m.EventsAppended.WithLabelValues("Adder").Add(3)
	m.SaveFailures.WithLabelValues("Adder", metrics.ReasonConflict).Inc()

	assert.InDelta(t, 3, testutil.ToFloat64(m.EventsAppended.WithLabelValues("Adder")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SaveFailures.WithLabelValues("Adder", metrics.ReasonConflict)), 0)
}

func TestEventStoreMetrics_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewEventStoreMetrics(registry)

	assert.Panics(t, func() {
		metrics.NewEventStoreMetrics(registry)
	})
}

func TestListenerMetrics_Registration(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := metrics.NewListenerMetrics(registry)

	m.EventsDelivered.WithLabelValues("projection", metrics.StatusSuccess).Inc()
	m.EventsDelivered.WithLabelValues("projection", metrics.StatusSuccess).Inc()
	m.EventsDelivered.WithLabelValues("projection", metrics.StatusFailed).Inc()
	m.QueueDepth.WithLabelValues("projection").Set(7)
	m.RelayMessages.WithLabelValues("redis", "out", metrics.StatusSuccess).Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("projection", metrics.StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("projection", metrics.StatusFailed)), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.QueueDepth.WithLabelValues("projection")), 0)

	count, err := testutil.GatherAndCount(registry, "fenrys_relay_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
