package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lllypuk/fenrys/internal/domain/errs"
	"github.com/lllypuk/fenrys/internal/domain/event"
	"github.com/lllypuk/fenrys/internal/infrastructure/metrics"
)

type queueState int

const (
	queueIdle queueState = iota
	queueRunning
	queueStopping
	queueStopped
)

// DefaultStopGrace is how long a forced Stop waits for the in-flight call.
const DefaultStopGrace = time.Second

// QueuedListener decouples a listener from the publishing goroutine.
//
// OnEvent only appends to an unbounded FIFO queue; a single worker started by
// Start hands records to the target in arrival order. Stop drains the queue
// before the worker exits.
type QueuedListener struct {
	name    string
	target  Listener
	logger  *slog.Logger
	metrics *metrics.ListenerMetrics
	retry   RetryConfig
	grace   time.Duration

	mu        sync.Mutex
	queue     []event.Record
	state     queueState
	abandoned bool
	notify    chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc

	processed atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
}

var (
	_ Listener = (*QueuedListener)(nil)
	_ Named    = (*QueuedListener)(nil)
)

// QueuedOption configures a QueuedListener.
type QueuedOption func(*QueuedListener)

// WithQueueLogger sets the logger for the queued listener.
func WithQueueLogger(logger *slog.Logger) QueuedOption {
	return func(q *QueuedListener) {
		q.logger = logger
	}
}

// WithQueueMetrics enables queue metrics.
func WithQueueMetrics(m *metrics.ListenerMetrics) QueuedOption {
	return func(q *QueuedListener) {
		q.metrics = m
	}
}

// WithQueueRetry sets how often a failing delivery is retried.
func WithQueueRetry(cfg RetryConfig) QueuedOption {
	return func(q *QueuedListener) {
		q.retry = cfg
	}
}

// WithQueueStopGrace sets how long a forced Stop waits for the target's
// in-flight call to return.
func WithQueueStopGrace(d time.Duration) QueuedOption {
	return func(q *QueuedListener) {
		q.grace = d
	}
}

// NewQueuedListener wraps target in an asynchronous queue.
func NewQueuedListener(name string, target Listener, opts ...QueuedOption) *QueuedListener {
	q := &QueuedListener{
		name:   name,
		target: target,
		logger: slog.Default(),
		retry:  NoRetry(),
		grace:  DefaultStopGrace,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Name implements Named.
func (q *QueuedListener) Name() string {
	return q.name
}

// OnEvent enqueues rec without blocking. Records offered before Start are
// kept until the worker runs.
func (q *QueuedListener) OnEvent(_ context.Context, rec event.Record) error {
	q.mu.Lock()
	if q.state == queueStopping || q.state == queueStopped {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", errs.ErrListenerStopped, q.name)
	}
	q.queue = append(q.queue, rec.Clone())
	q.setDepthLocked()
	q.mu.Unlock()

	q.wake()
	return nil
}

// Start launches the worker goroutine. The context supplies values for the
// target's calls; the worker ends only through Stop.
func (q *QueuedListener) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case queueRunning:
		return fmt.Errorf("%w: %s", errs.ErrListenerAlreadyRunning, q.name)
	case queueStopping, queueStopped:
		return fmt.Errorf("%w: %s", errs.ErrListenerStopped, q.name)
	case queueIdle:
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.state = queueRunning

	go q.run(workCtx)

	q.logger.InfoContext(ctx, "queued listener started",
		slog.String("listener", q.name),
		slog.Int("pending", len(q.queue)),
	)

	return nil
}

// Stop lets the worker drain the queue and waits for it to exit.
//
// If ctx ends first the remaining records are discarded, the target's context
// is cancelled and ctx.Err() is returned. Stop then waits at most the stop
// grace for the in-flight call. Targets must honour their context to stop
// promptly; a call that ignores it keeps the worker alive in the background
// until it returns. Concurrent Stop calls each respect their own ctx.
func (q *QueuedListener) Stop(ctx context.Context) error {
	q.mu.Lock()
	switch q.state {
	case queueIdle:
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", errs.ErrListenerNotRunning, q.name)
	case queueStopping, queueStopped:
		q.mu.Unlock()
		select {
		case <-q.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case queueRunning:
	}
	q.state = queueStopping
	q.mu.Unlock()

	q.wake()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	q.abandoned = true
	q.mu.Unlock()
	q.cancel()
	q.wake()

	grace := time.NewTimer(q.grace)
	defer grace.Stop()

	select {
	case <-q.done:
	case <-grace.C:
		q.logger.WarnContext(ctx, "queued listener target ignored cancellation",
			slog.String("listener", q.name),
			slog.Duration("grace", q.grace),
		)
	}
	return ctx.Err()
}

// IsRunning reports whether the worker is accepting and processing records.
func (q *QueuedListener) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == queueRunning
}

// Pending returns the number of queued records.
func (q *QueuedListener) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Processed returns the number of records the target handled.
func (q *QueuedListener) Processed() uint64 {
	return q.processed.Load()
}

// Failed returns the number of records the target rejected after all retries.
func (q *QueuedListener) Failed() uint64 {
	return q.failed.Load()
}

// Discarded returns the number of records dropped by a forced stop.
func (q *QueuedListener) Discarded() uint64 {
	return q.discarded.Load()
}

func (q *QueuedListener) run(ctx context.Context) {
	defer func() {
		q.mu.Lock()
		q.state = queueStopped
		q.mu.Unlock()
		q.cancel()
		close(q.done)
	}()

	for {
		rec, ok := q.next()
		if !ok {
			q.logger.InfoContext(ctx, "queued listener stopped",
				slog.String("listener", q.name),
				slog.Uint64("processed", q.processed.Load()),
				slog.Uint64("failed", q.failed.Load()),
				slog.Uint64("discarded", q.discarded.Load()),
			)
			return
		}
		q.handle(ctx, rec)
	}
}

// next blocks until a record is available or the worker must exit.
func (q *QueuedListener) next() (event.Record, bool) {
	for {
		q.mu.Lock()
		if q.abandoned {
			q.discarded.Add(uint64(len(q.queue)))
			if q.metrics != nil {
				q.metrics.EventsDiscarded.WithLabelValues(q.name).Add(float64(len(q.queue)))
			}
			q.queue = nil
			q.setDepthLocked()
			q.mu.Unlock()
			return event.Record{}, false
		}
		if len(q.queue) > 0 {
			rec := q.queue[0]
			q.queue[0] = event.Record{}
			q.queue = q.queue[1:]
			q.setDepthLocked()
			q.mu.Unlock()
			return rec, true
		}
		if q.state == queueStopping {
			q.mu.Unlock()
			return event.Record{}, false
		}
		q.mu.Unlock()

		<-q.notify
	}
}

func (q *QueuedListener) handle(ctx context.Context, rec event.Record) {
	start := time.Now()

	err := q.retry.retry(ctx, func() error {
		return q.call(ctx, rec)
	}, func(attempt int, backoff time.Duration, lastErr error) {
		if q.metrics != nil {
			q.metrics.RetryTotal.WithLabelValues(q.name).Inc()
		}
		q.logger.DebugContext(ctx, "retrying queued delivery",
			slog.String("listener", q.name),
			slog.String("event_name", rec.EventName),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()),
		)
	})

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
		q.failed.Add(1)
		q.logger.ErrorContext(ctx, "queued delivery failed after all retries",
			slog.String("listener", q.name),
			slog.String("aggregate_id", rec.AggregateID),
			slog.Int("version", rec.Version),
			slog.String("event_name", rec.EventName),
			slog.Int("max_retries", q.retry.MaxRetries),
			slog.String("error", err.Error()),
		)
	} else {
		q.processed.Add(1)
	}

	if q.metrics != nil {
		q.metrics.EventsDelivered.WithLabelValues(q.name, status).Inc()
		q.metrics.DeliveryDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())
	}
}

func (q *QueuedListener) call(ctx context.Context, rec event.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return q.target.OnEvent(ctx, rec)
}

func (q *QueuedListener) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *QueuedListener) setDepthLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.queue)))
	}
}
