package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lllypuk/fenrys/internal/domain/aggregate"
	"github.com/lllypuk/fenrys/internal/domain/event"
)

const (
	transportNATS        = "nats"
	defaultSubjectPrefix = "events"
	natsBufferSize       = 256
)

// ConnectNATS opens a NATS connection that reconnects indefinitely.
func ConnectNATS(url, name string, timeout time.Duration) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return conn, nil
}

// NATSRelay publishes records on subjects of the form
// <prefix>.<aggregate type>.<event name>.
type NATSRelay struct {
	conn *nats.Conn
	cfg  relayConfig
}

var (
	_ Listener = (*NATSRelay)(nil)
	_ Named    = (*NATSRelay)(nil)
)

// NewNATSRelay creates a relay publishing through conn.
func NewNATSRelay(conn *nats.Conn, opts ...RelayOption) *NATSRelay {
	return &NATSRelay{
		conn: conn,
		cfg:  newRelayConfig(defaultSubjectPrefix, opts),
	}
}

// Name implements Named.
func (r *NATSRelay) Name() string {
	return "nats-relay"
}

// OnEvent publishes rec.
func (r *NATSRelay) OnEvent(ctx context.Context, rec event.Record) error {
	env, data, err := encodeEnvelope(rec, r.cfg.source)
	if err != nil {
		r.cfg.observe(transportNATS, directionOut, err)
		return err
	}

	subject := r.subject(rec)

	err = r.conn.Publish(subject, data)
	r.cfg.observe(transportNATS, directionOut, err)
	if err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	r.cfg.logger.DebugContext(ctx, "event published",
		slog.String("event_id", env.ID),
		slog.String("event_name", rec.EventName),
		slog.String("aggregate_id", rec.AggregateID),
		slog.String("subject", subject),
	)

	return nil
}

func (r *NATSRelay) subject(rec event.Record) string {
	return r.cfg.prefix + "." +
		subjectToken(aggregate.TypeOf(rec.AggregateID)) + "." +
		subjectToken(rec.EventName)
}

// NATSSubscriber receives records relayed over NATS and hands them to a
// local listener. With a queue group, each record reaches one member only.
type NATSSubscriber struct {
	conn   *nats.Conn
	target Listener
	cfg    relayConfig
	queue  string

	mu       sync.Mutex
	running  bool
	consumed bool
	shutdown chan struct{}
	ready    chan struct{}
	wg       sync.WaitGroup
}

// NewNATSSubscriber creates a subscriber forwarding to target. queue may be
// empty for a plain fan-out subscription.
func NewNATSSubscriber(conn *nats.Conn, target Listener, queue string, opts ...RelayOption) *NATSSubscriber {
	return &NATSSubscriber{
		conn:     conn,
		target:   target,
		cfg:      newRelayConfig(defaultSubjectPrefix, opts),
		queue:    queue,
		shutdown: make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Start subscribes to every subject under the prefix and forwards messages
// until Shutdown is called or ctx is cancelled. A failed subscription may be
// retried; once subscribed, the subscriber cannot be started again.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("nats subscriber is already running")
	}
	if s.consumed {
		s.mu.Unlock()
		return fmt.Errorf("nats: %w", ErrSubscriberClosed)
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	subject := s.cfg.prefix + ".>"
	msgCh := make(chan *nats.Msg, natsBufferSize)

	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.ChanQueueSubscribe(subject, s.queue, msgCh)
	} else {
		sub, err = s.conn.ChanSubscribe(subject, msgCh)
	}
	if err != nil {
		s.setStopped()
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() {
		if unsubErr := sub.Unsubscribe(); unsubErr != nil && !errors.Is(unsubErr, nats.ErrConnectionClosed) {
			s.cfg.logger.WarnContext(ctx, "failed to unsubscribe", slog.String("error", unsubErr.Error()))
		}
	}()

	if err = s.conn.FlushWithContext(ctx); err != nil {
		s.setStopped()
		return fmt.Errorf("failed to confirm subscription: %w", err)
	}

	s.mu.Lock()
	s.consumed = true
	s.mu.Unlock()
	close(s.ready)

	s.cfg.logger.InfoContext(ctx, "nats subscriber started",
		slog.String("subject", subject),
		slog.String("queue", s.queue),
	)

	for {
		select {
		case <-ctx.Done():
			s.setStopped()
			return ctx.Err()

		case <-s.shutdown:
			return nil

		case msg := <-msgCh:
			_ = s.cfg.forward(ctx, transportNATS, msg.Subject, msg.Data, s.target)
		}
	}
}

// Ready is closed once the subscription is registered with the server.
func (s *NATSSubscriber) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown stops the subscriber and waits for the message in flight.
func (s *NATSSubscriber) Shutdown() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	return nil
}

// IsRunning reports whether the subscriber is consuming messages.
func (s *NATSSubscriber) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *NATSSubscriber) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
