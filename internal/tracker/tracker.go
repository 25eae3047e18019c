// Package tracker is the public surface of the page-behavior tracker. Every
// tracking call returns immediately; the work runs on one ordered dispatch
// loop and delivery happens in the background.
package tracker

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/vincentbai/browsetrace/internal/builder"
	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/consent"
	"github.com/vincentbai/browsetrace/internal/delivery"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/pending"
	"github.com/vincentbai/browsetrace/internal/scroll"
	"github.com/vincentbai/browsetrace/internal/session"
	"github.com/vincentbai/browsetrace/internal/target"
)

// Navigator is implemented by environments that follow in-page navigation,
// such as *builder.Page.
type Navigator interface {
	Navigate(url string)
}

// Options wires a Tracker. Environment, Gate, Sink, Beaconer and Store are
// required.
type Options struct {
	Lifecycle config.LifecycleConfig
	Queue     delivery.QueueConfig

	Environment builder.Environment
	Identity    builder.Identity
	Gate        *consent.Gate
	Sink        delivery.Sink
	Beaconer    delivery.Beaconer
	Store       pending.Store

	// Viewport enables scroll milestones. Frames defaults to a ticker at
	// Lifecycle.FrameInterval driven by Start.
	Viewport scroll.Viewport
	Frames   scroll.FrameScheduler

	Resolver        target.InteractiveTargetResolver
	RecoveryTimeout time.Duration
	Logger          logger.Logger
	Metrics         *metrics.Tracker
	Clock           func() time.Time

	// Closers are released by Close after delivery has drained.
	Closers []io.Closer
}

type Tracker struct {
	lifecycle       config.LifecycleConfig
	recoveryTimeout time.Duration

	env     builder.Environment
	session *session.Context
	gate    *consent.Gate
	builder *builder.Builder
	queue   *delivery.Queue
	exit    *delivery.Exit
	scroll  *scroll.Detector
	ticker  *scroll.TickerFrames
	forms   *formMonitor
	tasks   *dispatcher
	log     logger.Logger
	metrics *metrics.Tracker
	now     func() time.Time
	closers []io.Closer

	// owned by the dispatch loop
	hidden       bool
	recoveryDone bool

	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	startOne sync.Once
	closeOne sync.Once
}

func New(opts Options) (*Tracker, error) {
	switch {
	case opts.Environment == nil:
		return nil, errors.New("tracker: environment is required")
	case opts.Gate == nil:
		return nil, errors.New("tracker: consent gate is required")
	case opts.Sink == nil:
		return nil, errors.New("tracker: sink is required")
	case opts.Beaconer == nil:
		return nil, errors.New("tracker: beaconer is required")
	case opts.Store == nil:
		return nil, errors.New("tracker: pending store is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	lifecycle := opts.Lifecycle
	setLifecycleDefaults(&lifecycle)
	recoveryTimeout := opts.RecoveryTimeout
	if recoveryTimeout <= 0 {
		recoveryTimeout = 3 * time.Second
	}

	sess := session.New(now)
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		lifecycle:       lifecycle,
		recoveryTimeout: recoveryTimeout,
		env:             opts.Environment,
		session:         sess,
		gate:            opts.Gate,
		builder:         builder.New(opts.Environment, opts.Identity, sess, opts.Resolver),
		forms:           newFormMonitor(),
		log:             log.With(logger.String("session_id", sess.ID())),
		metrics:         opts.Metrics,
		now:             now,
		closers:         opts.Closers,
		ctx:             ctx,
		cancel:          cancel,
	}
	t.tasks = newDispatcher(t.log)
	t.exit = delivery.NewExit(opts.Store, opts.Sink, opts.Beaconer, t.log,
		delivery.WithMetrics(opts.Metrics))
	t.queue = delivery.NewQueue(opts.Sink, opts.Queue, t.log, opts.Metrics, t.fallback)

	if opts.Viewport != nil {
		frames := opts.Frames
		if frames == nil {
			t.ticker = scroll.NewTickerFrames(lifecycle.FrameInterval)
			frames = t.ticker
		}
		t.scroll = scroll.NewDetector(opts.Viewport, safeFrames{frames: frames, log: t.log}, t.TrackScrollDepth)
	}
	return t, nil
}

func setLifecycleDefaults(cfg *config.LifecycleConfig) {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatMinElapsed <= 0 {
		cfg.HeartbeatMinElapsed = 5 * time.Second
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 16 * time.Millisecond
	}
}

// SessionID is fixed for the lifetime of the tracker.
func (t *Tracker) SessionID() string {
	return t.session.ID()
}

// Start runs the heartbeat and, when the tracker owns it, the frame clock.
// It returns immediately; Close stops both.
func (t *Tracker) Start(ctx context.Context) {
	t.startOne.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-t.ctx.Done()
			cancel()
		}()

		t.workers.Add(1)
		go func() {
			defer t.workers.Done()
			ticker := time.NewTicker(t.lifecycle.HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					t.Heartbeat()
				}
			}
		}()

		if t.ticker != nil {
			t.workers.Add(1)
			go func() {
				defer t.workers.Done()
				t.ticker.Run(runCtx)
			}()
		}
	})
}

// Flush waits until every tracking call made so far has been processed. It
// does not wait for delivery.
func (t *Tracker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := t.tasks.post("flush", func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting calls, runs what was already posted, drains the
// delivery queue and releases owned resources, all within ctx.
func (t *Tracker) Close(ctx context.Context) error {
	var err error
	t.closeOne.Do(func() {
		t.tasks.stop()
		errs := []error{t.tasks.wait(ctx)}
		t.cancel()
		t.workers.Wait()
		errs = append(errs, t.queue.Close(ctx))
		for _, closer := range t.closers {
			errs = append(errs, closer.Close())
		}
		if syncErr := t.log.Sync(); syncErr != nil {
			t.log.Debug("Logger sync failed", logger.Error(syncErr))
		}
		err = errors.Join(errs...)
	})
	return err
}

// post schedules fn on the dispatch loop, dropping it once the tracker is closed.
func (t *Tracker) post(name string, fn func()) {
	if err := t.tasks.post(name, fn); err != nil {
		reason := metrics.ReasonClosed
		if errors.Is(err, errBacklogFull) {
			reason = metrics.ReasonQueueFull
		}
		t.metrics.Dropped(reason)
		t.log.Debug("Tracking call dropped", logger.String("task", name), logger.Error(err))
	}
}

// allowed runs the full gate for one call.
func (t *Tracker) allowed() bool {
	if t.gate.ShouldTrack(t.ctx) {
		return true
	}
	t.metrics.Dropped(metrics.ReasonConsent)
	return false
}

// submit routes event: exits take the durable path, the rest the queue.
func (t *Tracker) submit(event models.Event, at time.Time) {
	if event.Type.IsExit() {
		t.exit.DurableSend(t.ctx, event, at, t.verifyExit)
		return
	}
	if err := t.queue.Submit(event); err != nil {
		t.log.Debug("Event not queued",
			logger.String("event_type", string(event.Type)),
			logger.Error(err),
		)
	}
}

// verifyExit is the late privileged-user check of an exit already persisted.
func (t *Tracker) verifyExit(ctx context.Context) bool {
	return !t.gate.Privileged(ctx)
}

// fallback handles events the queue could not deliver.
func (t *Tracker) fallback(ctx context.Context, event models.Event) {
	if event.Type.IsExit() {
		if err := t.exit.Persist(ctx, event, t.now()); err != nil {
			t.log.Error("Failed to persist undelivered exit", logger.Error(err))
		}
		return
	}
	t.metrics.Dropped(metrics.ReasonExhausted)
	t.log.Warn("Dropping undelivered event", logger.String("event_type", string(event.Type)))
}

// safeFrames contains panics raised by host viewport reads inside a frame.
type safeFrames struct {
	frames scroll.FrameScheduler
	log    logger.Logger
}

func (f safeFrames) RequestFrame(fn func()) {
	f.frames.RequestFrame(func() {
		defer func() {
			if r := recover(); r != nil {
				f.log.Error("Scroll sampling panicked", logger.Any("panic", r))
			}
		}()
		fn()
	})
}
