package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

const (
	transportRedis       = "redis"
	defaultChannelPrefix = "events:"
)

// RedisRelay publishes records to Redis Pub/Sub, one channel per event name.
type RedisRelay struct {
	client redis.UniversalClient
	cfg    relayConfig
}

var (
	_ Listener = (*RedisRelay)(nil)
	_ Named    = (*RedisRelay)(nil)
)

// NewRedisRelay creates a relay publishing through client.
func NewRedisRelay(client redis.UniversalClient, opts ...RelayOption) *RedisRelay {
	return &RedisRelay{
		client: client,
		cfg:    newRelayConfig(defaultChannelPrefix, opts),
	}
}

// Name implements Named.
func (r *RedisRelay) Name() string {
	return "redis-relay"
}

// OnEvent publishes rec on the channel of its event name.
func (r *RedisRelay) OnEvent(ctx context.Context, rec event.Record) error {
	env, data, err := encodeEnvelope(rec, r.cfg.source)
	if err != nil {
		r.cfg.observe(transportRedis, directionOut, err)
		return err
	}

	channel := r.channelName(rec.EventName)

	err = r.client.Publish(ctx, channel, data).Err()
	r.cfg.observe(transportRedis, directionOut, err)
	if err != nil {
		return fmt.Errorf("failed to publish event to Redis: %w", err)
	}

	r.cfg.logger.DebugContext(ctx, "event published",
		slog.String("event_id", env.ID),
		slog.String("event_name", rec.EventName),
		slog.String("aggregate_id", rec.AggregateID),
		slog.String("channel", channel),
	)

	return nil
}

func (r *RedisRelay) channelName(eventName string) string {
	return r.cfg.prefix + eventName
}

// RedisSubscriber receives records relayed over Redis and hands them to a
// local listener, usually a Publisher.
type RedisSubscriber struct {
	client redis.UniversalClient
	target Listener
	cfg    relayConfig

	pubsub    *redis.PubSub
	pubsubMu  sync.Mutex
	running   bool
	consumed  bool
	runningMu sync.RWMutex
	shutdown  chan struct{}
	ready     chan struct{}
	wg        sync.WaitGroup
}

// NewRedisSubscriber creates a subscriber forwarding to target.
func NewRedisSubscriber(client redis.UniversalClient, target Listener, opts ...RelayOption) *RedisSubscriber {
	return &RedisSubscriber{
		client:   client,
		target:   target,
		cfg:      newRelayConfig(defaultChannelPrefix, opts),
		shutdown: make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Start subscribes to every channel under the prefix and forwards messages
// until Shutdown is called or ctx is cancelled. A failed subscription may be
// retried; once subscribed, the subscriber cannot be started again.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return errors.New("redis subscriber is already running")
	}
	if s.consumed {
		s.runningMu.Unlock()
		return fmt.Errorf("redis: %w", ErrSubscriberClosed)
	}
	s.running = true
	s.wg.Add(1)
	s.runningMu.Unlock()
	defer s.wg.Done()

	pattern := s.cfg.prefix + "*"
	pubsub := s.client.PSubscribe(ctx, pattern)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		s.setStopped()
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	s.pubsubMu.Lock()
	s.pubsub = pubsub
	s.pubsubMu.Unlock()

	s.runningMu.Lock()
	s.consumed = true
	s.runningMu.Unlock()
	close(s.ready)

	s.cfg.logger.InfoContext(ctx, "redis subscriber started", slog.String("pattern", pattern))

	msgCh := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			s.cfg.logger.InfoContext(ctx, "redis subscriber stopping due to context cancellation")
			s.setStopped()
			return ctx.Err()

		case <-s.shutdown:
			s.cfg.logger.InfoContext(ctx, "redis subscriber stopping due to shutdown signal")
			return nil

		case msg, ok := <-msgCh:
			if !ok {
				s.cfg.logger.WarnContext(ctx, "message channel closed")
				s.setStopped()
				return nil
			}
			_ = s.cfg.forward(ctx, transportRedis, msg.Channel, []byte(msg.Payload), s.target)
		}
	}
}

// Ready is closed once the subscription is confirmed.
func (s *RedisSubscriber) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown stops the subscriber and waits for the message in flight.
func (s *RedisSubscriber) Shutdown() error {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return nil
	}
	s.running = false
	s.runningMu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	return s.closePubSub()
}

// IsRunning reports whether the subscriber is consuming messages.
func (s *RedisSubscriber) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

func (s *RedisSubscriber) setStopped() {
	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()
	_ = s.closePubSub()
}

func (s *RedisSubscriber) closePubSub() error {
	s.pubsubMu.Lock()
	pubsub := s.pubsub
	s.pubsub = nil
	s.pubsubMu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
	}
	return nil
}
