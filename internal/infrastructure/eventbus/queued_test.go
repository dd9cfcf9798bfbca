package eventbus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/domain/errs"
	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func startQueue(t *testing.T, q *eventbus.QueuedListener) {
	t.Helper()
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		_ = q.Stop(context.Background())
	})
}

func TestQueuedListener_DeliversInOrder(t *testing.T) {
	// Arrange
	target := &recorder{}
	q := eventbus.NewQueuedListener("ordered", target)
	startQueue(t, q)
	const n = 500

	// Act
	for v := 1; v <= n; v++ {
		require.NoError(t, q.OnEvent(context.Background(), newRecord(v)))
	}

	// Assert
	assert.Eventually(t, func() bool { return target.Len() == n }, waitFor, tick)
	for i, rec := range target.Records() {
		assert.Equal(t, i+1, rec.Version)
	}
	assert.Equal(t, uint64(n), q.Processed())
}

func TestQueuedListener_BuffersBeforeStart(t *testing.T) {
	target := &recorder{}
	q := eventbus.NewQueuedListener("buffered", target)

	require.NoError(t, q.OnEvent(context.Background(), newRecord(1)))
	require.NoError(t, q.OnEvent(context.Background(), newRecord(2)))
	assert.Equal(t, 2, q.Pending())
	assert.Equal(t, 0, target.Len())

	startQueue(t, q)

	assert.Eventually(t, func() bool { return target.Len() == 2 }, waitFor, tick)
	assert.Equal(t, 0, q.Pending())
}

func TestQueuedListener_StopDrains(t *testing.T) {
	// Arrange
	release := make(chan struct{})
	var handled atomic.Int32
	target := eventbus.NewInlineListener("slow", func(context.Context, event.Record) error {
		<-release
		handled.Add(1)
		return nil
	})
	q := eventbus.NewQueuedListener("draining", target)
	require.NoError(t, q.Start(context.Background()))
	for v := 1; v <= 10; v++ {
		require.NoError(t, q.OnEvent(context.Background(), newRecord(v)))
	}

	// Act
	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(context.Background()) }()
	assert.Eventually(t, func() bool { return !q.IsRunning() }, waitFor, tick)
	close(release)

	// Assert
	require.NoError(t, <-stopped)
	assert.Equal(t, int32(10), handled.Load())
	assert.Equal(t, uint64(0), q.Discarded())
}

func TestQueuedListener_RejectsAfterStop(t *testing.T) {
	q := eventbus.NewQueuedListener("closed", &recorder{})
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Stop(context.Background()))

	err := q.OnEvent(context.Background(), newRecord(1))

	require.ErrorIs(t, err, errs.ErrListenerStopped)
	require.ErrorIs(t, q.Start(context.Background()), errs.ErrListenerStopped)
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueuedListener_Lifecycle(t *testing.T) {
	t.Run("stop before start", func(t *testing.T) {
		q := eventbus.NewQueuedListener("idle", &recorder{})

		require.ErrorIs(t, q.Stop(context.Background()), errs.ErrListenerNotRunning)
	})

	t.Run("double start", func(t *testing.T) {
		q := eventbus.NewQueuedListener("twice", &recorder{})
		startQueue(t, q)

		require.ErrorIs(t, q.Start(context.Background()), errs.ErrListenerAlreadyRunning)
		assert.True(t, q.IsRunning())
	})

	t.Run("cancelled start context does not stop the worker", func(t *testing.T) {
		target := &recorder{}
		q := eventbus.NewQueuedListener("detached", target)
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, q.Start(ctx))
		cancel()

		require.NoError(t, q.OnEvent(context.Background(), newRecord(1)))

		assert.Eventually(t, func() bool { return target.Len() == 1 }, waitFor, tick)
		require.NoError(t, q.Stop(context.Background()))
	})
}

func TestQueuedListener_ForcedStopDiscards(t *testing.T) {
	// Arrange
	registry := prometheus.NewRegistry()
	m := metrics.NewListenerMetrics(registry)
	release := make(chan struct{})
	target := eventbus.NewInlineListener("stuck", func(ctx context.Context, _ event.Record) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	q := eventbus.NewQueuedListener("forced", target, eventbus.WithQueueMetrics(m))
	require.NoError(t, q.Start(context.Background()))
	for v := 1; v <= 5; v++ {
		require.NoError(t, q.OnEvent(context.Background(), newRecord(v)))
	}

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Stop(ctx)

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, q.IsRunning())
	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, uint64(4), q.Discarded())
	assert.Equal(t, uint64(1), q.Failed())
	assert.InDelta(t, 4, testutil.ToFloat64(m.EventsDiscarded.WithLabelValues("forced")), 0)
	close(release)
}

func TestQueuedListener_ConcurrentStopHonoursOwnContext(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	release := make(chan struct{})
	target := eventbus.NewInlineListener("slow", func(ctx context.Context, _ event.Record) error {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	q := eventbus.NewQueuedListener("concurrent-stop", target)
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.OnEvent(context.Background(), newRecord(1)))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	first := make(chan error, 1)
	go func() { first <- q.Stop(context.Background()) }()
	assert.Eventually(t, func() bool { return !q.IsRunning() }, waitFor, tick)

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Stop(ctx)

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
	select {
	case err = <-first:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("draining stop did not return")
	}
	assert.Equal(t, uint64(1), q.Processed())
}

func TestQueuedListener_ForcedStopDoesNotWaitForStuckTarget(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	release := make(chan struct{})
	target := eventbus.NewInlineListener("deaf", func(context.Context, event.Record) error {
		calls.Add(1)
		<-release
		return nil
	})
	q := eventbus.NewQueuedListener("stuck-stop", target, eventbus.WithQueueStopGrace(20*time.Millisecond))
	require.NoError(t, q.Start(context.Background()))
	for v := 1; v <= 3; v++ {
		require.NoError(t, q.OnEvent(context.Background(), newRecord(v)))
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	started := time.Now()
	err := q.Stop(ctx)

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), waitFor)
	assert.False(t, q.IsRunning())

	close(release)
	assert.Eventually(t, func() bool { return q.Discarded() == 2 }, waitFor, tick)
	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueuedListener_Retries(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls atomic.Int32
		target := eventbus.NewInlineListener("flaky", func(context.Context, event.Record) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		})
		q := eventbus.NewQueuedListener("retrying", target, eventbus.WithQueueRetry(eventbus.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2,
		}))
		startQueue(t, q)

		require.NoError(t, q.OnEvent(context.Background(), newRecord(1)))

		assert.Eventually(t, func() bool { return q.Processed() == 1 }, waitFor, tick)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, uint64(0), q.Failed())
	})

	t.Run("gives up and continues with next record", func(t *testing.T) {
		target := &recorder{err: errors.New("permanent")}
		q := eventbus.NewQueuedListener("giving-up", target, eventbus.WithQueueRetry(eventbus.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1,
		}))
		startQueue(t, q)

		require.NoError(t, q.OnEvent(context.Background(), newRecord(1)))
		require.NoError(t, q.OnEvent(context.Background(), newRecord(2)))

		assert.Eventually(t, func() bool { return q.Failed() == 2 }, waitFor, tick)
		assert.Equal(t, 6, target.Len())
	})

	t.Run("panic counts as failure", func(t *testing.T) {
		target := eventbus.NewInlineListener("panicky", func(context.Context, event.Record) error {
			panic("boom")
		})
		q := eventbus.NewQueuedListener("panics", target)
		startQueue(t, q)

		require.NoError(t, q.OnEvent(context.Background(), newRecord(1)))

		assert.Eventually(t, func() bool { return q.Failed() == 1 }, waitFor, tick)
		assert.True(t, q.IsRunning())
	})
}

func TestQueuedListener_BehindPublisher(t *testing.T) {
	// Arrange
	p := eventbus.NewPublisher()
	target := &recorder{}
	q := eventbus.NewQueuedListener("async", target)
	require.NoError(t, p.Register(q))
	startQueue(t, q)

	// Act
	for v := 1; v <= 100; v++ {
		require.NoError(t, p.Publish(context.Background(), newRecord(v)))
	}
	require.NoError(t, q.Stop(context.Background()))

	// Assert
	assert.Equal(t, 100, target.Len())
	assert.Equal(t, "async", q.Name())
}
