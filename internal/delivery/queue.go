package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
)

var (
	ErrQueueClosed = errors.New("delivery queue closed")
	ErrQueueFull   = errors.New("delivery queue full")
)

const (
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 3
	DefaultRetryPause  = 200 * time.Millisecond
)

// Fallback receives events whose attempts are exhausted.
type Fallback func(ctx context.Context, event models.Event)

type QueueConfig struct {
	Size        int
	MaxAttempts int
	RetryPause  time.Duration
}

func (c *QueueConfig) setDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryPause <= 0 {
		c.RetryPause = DefaultRetryPause
	}
}

// Queue delivers events in submission order from a single worker. Submit
// never blocks.
type Queue struct {
	sink     Sink
	cfg      QueueConfig
	log      logger.Logger
	metrics  *metrics.Tracker
	fallback Fallback

	mu     sync.RWMutex
	closed bool
	events chan models.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(sink Sink, cfg QueueConfig, log logger.Logger, m *metrics.Tracker, fallback Fallback) *Queue {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sink:     sink,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		fallback: fallback,
		events:   make(chan models.Event, cfg.Size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues event and returns immediately.
func (q *Queue) Submit(event models.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.Dropped(metrics.ReasonClosed)
		return ErrQueueClosed
	}
	select {
	case q.events <- event:
		q.metrics.Submitted(string(event.Type))
		return nil
	default:
		q.log.Warn("Delivery queue full, dropping event",
			logger.String("event_type", string(event.Type)),
			logger.Int("queue_size", q.cfg.Size),
		)
		q.metrics.Dropped(metrics.ReasonQueueFull)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be handled. When
// ctx expires first, in-flight attempts are cancelled and the rest go
// straight to the fallback.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for event := range q.events {
		q.deliver(event)
	}
}

func (q *Queue) deliver(event models.Event) {
	attempts := 0
	_, err := backoff.Retry(q.ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, q.sink.Write(q.ctx, event)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(q.cfg.RetryPause)),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
	)
	if err == nil {
		q.metrics.Delivered(metrics.PathQueue)
		return
	}

	q.log.Debug("Event delivery attempts exhausted",
		logger.String("event_type", string(event.Type)),
		logger.Int("attempts", attempts),
		logger.Error(err),
	)
	if q.fallback != nil {
		q.fallback(context.WithoutCancel(q.ctx), event)
		return
	}
	q.metrics.Dropped(metrics.ReasonExhausted)
}
