package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
)

// ErrSubscriberClosed is returned by Start on a subscriber that has already
// consumed. Subscribers run once; create a new one to resume.
var ErrSubscriberClosed = errors.New("subscriber cannot be restarted")

// Relay directions reported in metrics.
const (
	directionOut = "out"
	directionIn  = "in"
)

// relayConfig holds the settings shared by broker relays and subscribers.
type relayConfig struct {
	logger  *slog.Logger
	metrics *metrics.ListenerMetrics
	retry   RetryConfig
	source  string
	prefix  string
}

// RelayOption configures a broker relay or subscriber.
type RelayOption func(*relayConfig)

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(c *relayConfig) {
		c.logger = logger
	}
}

// WithRelayMetrics enables relay metrics.
func WithRelayMetrics(m *metrics.ListenerMetrics) RelayOption {
	return func(c *relayConfig) {
		c.metrics = m
	}
}

// WithRelayRetry sets the retry configuration used when handing a received
// record to the local target.
func WithRelayRetry(cfg RetryConfig) RelayOption {
	return func(c *relayConfig) {
		c.retry = cfg
	}
}

// WithSource tags outgoing envelopes with a node name. A subscriber with the
// same source ignores its own node's messages.
func WithSource(source string) RelayOption {
	return func(c *relayConfig) {
		c.source = source
	}
}

// WithPrefix sets the channel, subject or topic prefix.
func WithPrefix(prefix string) RelayOption {
	return func(c *relayConfig) {
		c.prefix = prefix
	}
}

func newRelayConfig(defaultPrefix string, opts []RelayOption) relayConfig {
	c := relayConfig{
		logger: slog.Default(),
		retry:  DefaultRetryConfig(),
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c relayConfig) observe(transport, direction string, err error) {
	if c.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
	}
	c.metrics.RelayMessages.WithLabelValues(transport, direction, status).Inc()
}

// forward decodes a received message and hands the record to target.
// Messages that fail to decode are logged and dropped.
func (c relayConfig) forward(ctx context.Context, transport, origin string, data []byte, target Listener) error {
	env, rec, err := decodeEnvelope(data)
	if err != nil {
		c.observe(transport, directionIn, err)
		c.logger.ErrorContext(ctx, "failed to unmarshal event",
			slog.String("transport", transport),
			slog.String("origin", origin),
			slog.String("error", err.Error()),
		)
		return err
	}

	if c.source != "" && env.Source == c.source {
		return nil
	}

	err = c.retry.retry(ctx, func() error {
		return target.OnEvent(ctx, rec)
	}, func(attempt int, backoff time.Duration, lastErr error) {
		c.logger.DebugContext(ctx, "retrying relayed event",
			slog.String("transport", transport),
			slog.String("event_id", env.ID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()),
		)
	})
	c.observe(transport, directionIn, err)

	if err != nil {
		c.logger.ErrorContext(ctx, "relayed event failed after all retries",
			slog.String("transport", transport),
			slog.String("event_id", env.ID),
			slog.String("aggregate_id", rec.AggregateID),
			slog.Int("version", rec.Version),
			slog.String("event_name", rec.EventName),
			slog.Int("max_retries", c.retry.MaxRetries),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("forward %s: %w", rec, err)
	}

	c.logger.DebugContext(ctx, "relayed event delivered",
		slog.String("transport", transport),
		slog.String("event_id", env.ID),
		slog.String("origin", origin),
	)

	return nil
}
