//go:build integration

package eventbus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/eventbus"
	"github.com/lllypuk/fenrys/tests/testutil"
)

func startRedisSubscriber(t *testing.T, sub *eventbus.RedisSubscriber) {
	t.Helper()

	go func() {
		_ = sub.Start(context.Background())
	}()
	testutil.WaitClosed(t, sub.Ready(), 5*time.Second)
	t.Cleanup(func() {
		_ = sub.Shutdown()
	})
}

func TestRedisRelay_PublishAndReceive(t *testing.T) {
	// Arrange
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	target := &recorder{}
	sub := eventbus.NewRedisSubscriber(client, target,
		eventbus.WithPrefix(prefix),
		eventbus.WithRelayLogger(testutil.NewTestLogger()),
	)
	startRedisSubscriber(t, sub)
	relay := eventbus.NewRedisRelay(client, eventbus.WithPrefix(prefix))

	// Act
	for v := 1; v <= 20; v++ {
		require.NoError(t, relay.OnEvent(context.Background(), newRecord(v)))
	}

	// Assert
	assert.Eventually(t, func() bool { return target.Len() == 20 }, 5*time.Second, 10*time.Millisecond)
	got := target.Records()
	testutil.AssertContiguous(t, got, 1)
	assert.JSONEq(t, `{"number":1}`, string(got[0].Payload))
	assert.True(t, sub.IsRunning())
}

func TestRedisRelay_BehindPublisher(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)

	remote := eventbus.NewPublisher(eventbus.WithName("remote"))
	sink := &recorder{}
	require.NoError(t, remote.Register(sink))
	startRedisSubscriber(t, eventbus.NewRedisSubscriber(client, remote, eventbus.WithPrefix(prefix)))

	local := eventbus.NewPublisher(eventbus.WithName("local"))
	require.NoError(t, local.Register(eventbus.NewRedisRelay(client, eventbus.WithPrefix(prefix))))

	rec := newRecord(1)
	require.NoError(t, local.Publish(context.Background(), rec))

	assert.Eventually(t, func() bool { return sink.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, rec.Equal(sink.Records()[0]))
}

func TestRedisSubscriber_SkipsOwnSource(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	target := &recorder{}
	startRedisSubscriber(t, eventbus.NewRedisSubscriber(client, target,
		eventbus.WithPrefix(prefix),
		eventbus.WithSource("node-a"),
	))

	own := eventbus.NewRedisRelay(client, eventbus.WithPrefix(prefix), eventbus.WithSource("node-a"))
	other := eventbus.NewRedisRelay(client, eventbus.WithPrefix(prefix), eventbus.WithSource("node-b"))

	require.NoError(t, own.OnEvent(context.Background(), newRecord(1)))
	require.NoError(t, other.OnEvent(context.Background(), newRecord(2)))

	assert.Eventually(t, func() bool { return target.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, target.Records()[0].Version)
}

func TestRedisSubscriber_RetriesTarget(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	var attempts atomic.Int32
	target := eventbus.NewInlineListener("flaky", func(context.Context, event.Record) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	sub := eventbus.NewRedisSubscriber(client, target,
		eventbus.WithPrefix(prefix),
		eventbus.WithRelayRetry(eventbus.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1,
		}),
	)
	startRedisSubscriber(t, sub)

	require.NoError(t, eventbus.NewRedisRelay(client, eventbus.WithPrefix(prefix)).OnEvent(context.Background(), newRecord(1)))

	assert.Eventually(t, func() bool { return attempts.Load() == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestRedisSubscriber_Lifecycle(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	sub := eventbus.NewRedisSubscriber(client, &recorder{}, eventbus.WithPrefix(prefix))

	assert.False(t, sub.IsRunning())
	require.NoError(t, sub.Shutdown())

	startRedisSubscriber(t, sub)
	require.Error(t, sub.Start(context.Background()))

	require.NoError(t, sub.Shutdown())
	assert.False(t, sub.IsRunning())
}

func TestRedisSubscriber_CannotRestart(t *testing.T) {
	t.Run("after shutdown", func(t *testing.T) {
		client, prefix := testutil.SetupTestRedisWithPrefix(t)
		sub := eventbus.NewRedisSubscriber(client, &recorder{}, eventbus.WithPrefix(prefix))
		startRedisSubscriber(t, sub)
		require.NoError(t, sub.Shutdown())

		err := sub.Start(context.Background())

		require.ErrorIs(t, err, eventbus.ErrSubscriberClosed)
		assert.False(t, sub.IsRunning())
	})

	t.Run("after context cancellation", func(t *testing.T) {
		client, prefix := testutil.SetupTestRedisWithPrefix(t)
		sub := eventbus.NewRedisSubscriber(client, &recorder{}, eventbus.WithPrefix(prefix))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sub.Start(ctx) }()
		testutil.WaitClosed(t, sub.Ready(), 5*time.Second)
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)

		err := sub.Start(context.Background())

		require.ErrorIs(t, err, eventbus.ErrSubscriberClosed)
	})
}
