package eventbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lllypuk/fenrys/internal/domain/event"
)

const (
	transportKafka    = "kafka"
	defaultKafkaTopic = "events"

	headerEventName = "event_name"
	headerVersion   = "version"
)

// KafkaRelay writes records to a Kafka topic keyed by aggregate id, so the
// records of one aggregate stay on one partition in version order.
type KafkaRelay struct {
	writer *kafka.Writer
	cfg    relayConfig
}

var (
	_ Listener = (*KafkaRelay)(nil)
	_ Named    = (*KafkaRelay)(nil)
)

// NewKafkaRelay creates a relay writing to the topic named by the prefix
// option, "events" by default.
func NewKafkaRelay(brokers []string, opts ...RelayOption) *KafkaRelay {
	cfg := newRelayConfig(defaultKafkaTopic, opts)

	return &KafkaRelay{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  cfg.prefix,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		cfg: cfg,
	}
}

// Name implements Named.
func (r *KafkaRelay) Name() string {
	return "kafka-relay"
}

// OnEvent writes rec and waits for the broker acknowledgement.
func (r *KafkaRelay) OnEvent(ctx context.Context, rec event.Record) error {
	env, data, err := encodeEnvelope(rec, r.cfg.source)
	if err != nil {
		r.cfg.observe(transportKafka, directionOut, err)
		return err
	}

	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: headerEventName, Value: []byte(rec.EventName)},
			{Key: headerVersion, Value: []byte(strconv.Itoa(rec.Version))},
		},
	})
	r.cfg.observe(transportKafka, directionOut, err)
	if err != nil {
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}

	r.cfg.logger.DebugContext(ctx, "event published",
		slog.String("event_id", env.ID),
		slog.String("event_name", rec.EventName),
		slog.String("aggregate_id", rec.AggregateID),
		slog.String("topic", r.writer.Topic),
	)

	return nil
}

// Close flushes pending writes and closes the writer.
func (r *KafkaRelay) Close() error {
	return r.writer.Close()
}

// KafkaSubscriber consumes relayed records as a member of a consumer group.
// Offsets are committed only after the target accepted the record.
type KafkaSubscriber struct {
	reader *kafka.Reader
	target Listener
	cfg    relayConfig

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaSubscriber creates a subscriber in the given consumer group.
func NewKafkaSubscriber(brokers []string, groupID string, target Listener, opts ...RelayOption) *KafkaSubscriber {
	cfg := newRelayConfig(defaultKafkaTopic, opts)

	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       cfg.prefix,
			GroupID:     groupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		}),
		target: target,
		cfg:    cfg,
	}
}

// Start consumes messages until Shutdown is called or ctx is cancelled.
// A record the target keeps rejecting is logged and committed so the
// partition does not stall. Start may be called again after ctx was
// cancelled, but not after Shutdown closed the reader.
func (s *KafkaSubscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("kafka subscriber is already running")
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("kafka: %w", ErrSubscriberClosed)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		cancel()
		s.wg.Done()
	}()

	s.cfg.logger.InfoContext(ctx, "kafka subscriber started",
		slog.String("topic", s.cfg.prefix),
		slog.String("group_id", s.reader.Config().GroupID),
	)

	for {
		msg, err := s.reader.FetchMessage(runCtx)
		if err != nil {
			if errors.Is(err, io.EOF) || runCtx.Err() != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		origin := fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		_ = s.cfg.forward(runCtx, transportKafka, origin, msg.Value, s.target)

		if err = s.reader.CommitMessages(runCtx, msg); err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %s: %w", origin, err)
		}
	}
}

// Shutdown stops consumption, waits for the message in flight and closes
// the reader.
func (s *KafkaSubscriber) Shutdown() error {
	s.mu.Lock()
	cancel := s.cancel
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	return s.reader.Close()
}

// IsRunning reports whether the subscriber is consuming messages.
func (s *KafkaSubscriber) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
