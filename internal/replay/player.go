package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vincentbai/browsetrace/internal/builder"
	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/consent"
	"github.com/vincentbai/browsetrace/internal/delivery"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/scroll"
	"github.com/vincentbai/browsetrace/internal/tracker"
)

// Clock is the journey's virtual time. Waits advance it instead of sleeping
// unless the player runs in real time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type viewport struct {
	mu                    sync.Mutex
	top, height, document float64
}

func (v *viewport) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *viewport) ViewportHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

func (v *viewport) DocumentHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.document
}

func (v *viewport) scrollToPercent(percent float64) {
	v.mu.Lock()
	v.top = (v.document - v.height) * percent / 100
	v.mu.Unlock()
}

func (v *viewport) resize(size Viewport) {
	v.mu.Lock()
	v.height, v.document = size.Height, size.Document
	v.mu.Unlock()
}

// Summary reports what a replay did.
type Summary struct {
	SessionID   string
	Steps       int
	VisitorTime time.Duration
	ExitState   delivery.State
}

type Player struct {
	journey  *Journey
	tracker  *tracker.Tracker
	clock    *Clock
	viewport *viewport
	frames   *scroll.TickerFrames
	log      logger.Logger
	realtime bool

	// settle bounds the wait for an unload receipt.
	settle time.Duration
}

type PlayerOption func(*Player)

// WithRealtime makes waits sleep for real.
func WithRealtime() PlayerOption {
	return func(p *Player) { p.realtime = true }
}

func WithSettleTimeout(d time.Duration) PlayerOption {
	return func(p *Player) { p.settle = d }
}

// NewPlayer builds a tracker for journey from cfg. The journey's collector,
// when set, overrides the configured one.
func NewPlayer(journey *Journey, cfg *config.Tracker, log logger.Logger, reg prometheus.Registerer, opts ...PlayerOption) (*Player, error) {
	user, err := journey.UserID()
	if err != nil {
		return nil, err
	}
	if journey.Collector != "" {
		cfg.Collector.URL = journey.Collector
	}

	p := &Player{
		journey:  journey,
		clock:    NewClock(time.Now()),
		viewport: &viewport{height: journey.Viewport.Height, document: journey.Viewport.Document},
		frames:   scroll.NewTickerFrames(time.Hour),
		log:      log,
		settle:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	host := tracker.Host{
		Environment: builder.NewPage(journey.StartURL, journey.Referrer, journey.UserAgent),
		Identity:    builder.StaticIdentity(user),
		Consent:     consent.StaticProvider(true),
		Viewport:    p.viewport,
		Frames:      p.frames,
	}
	if !p.realtime {
		host.Clock = p.clock.Now
	}

	p.tracker, err = tracker.FromConfig(cfg, host, log, reg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Player) SessionID() string {
	return p.tracker.SessionID()
}

// Run plays the steps in order, then closes the tracker. Each step is
// processed before the next one starts. Steps after an unload are ignored.
func (p *Player) Run(ctx context.Context) (Summary, error) {
	started := p.now()
	summary := Summary{SessionID: p.tracker.SessionID()}

	var runErr error
	for i, step := range p.journey.Steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		state, err := p.play(ctx, step)
		if err != nil {
			runErr = fmt.Errorf("step %d: %w", i+1, err)
			break
		}
		summary.Steps++
		if step.Unload {
			summary.ExitState = state
			break
		}
		if err := p.tracker.Flush(ctx); err != nil {
			runErr = err
			break
		}
	}
	summary.VisitorTime = p.now().Sub(started)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.settle)
	defer cancel()
	if err := p.tracker.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return summary, runErr
}

func (p *Player) now() time.Time {
	if p.realtime {
		return time.Now()
	}
	return p.clock.Now()
}

func (p *Player) play(ctx context.Context, step Step) (delivery.State, error) {
	t := p.tracker
	switch {
	case step.PageView != nil:
		t.TrackPageView(*step.PageView)
	case step.Navigate != "":
		t.Navigate(step.Navigate)
	case step.Wait != 0:
		return delivery.Idle, p.wait(ctx, step.Wait)
	case step.Scroll != nil:
		p.viewport.scrollToPercent(*step.Scroll)
		t.OnScroll()
		p.frames.Tick()
	case step.Resize != nil:
		p.viewport.resize(*step.Resize)
		t.OnResize()
	case step.Click != nil:
		t.TrackClick(step.Click.Node(), &builder.Origin{ClientX: step.Click.X, ClientY: step.Click.Y})
	case step.FormInput != nil:
		t.OnFormInput(formNode(step.FormInput.Form), step.FormInput.Field)
	case step.FormSubmit != "":
		t.OnFormSubmit(formNode(step.FormSubmit))
	case step.Abandon != nil:
		t.TrackFormAbandonment(formNode(step.Abandon.Form), step.Abandon.Reason)
	case step.Visibility != "":
		switch step.Visibility {
		case "hidden":
			t.OnVisibilityChange(true)
		case "visible":
			t.OnVisibilityChange(false)
		default:
			return delivery.Idle, fmt.Errorf("unknown visibility %q", step.Visibility)
		}
	case step.Heartbeat:
		t.Heartbeat()
	case step.TimeOnPage != 0:
		t.TrackTimeOnPage(step.TimeOnPage)
	case step.PageExit != nil:
		t.TrackPageExit(step.PageExit.Node())
	case step.Unload:
		return p.unload(ctx)
	}
	return delivery.Idle, nil
}

func (p *Player) wait(ctx context.Context, d time.Duration) error {
	if !p.realtime {
		p.clock.Advance(d)
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) unload(ctx context.Context) (delivery.State, error) {
	receipt := p.tracker.Unload()
	if receipt == nil {
		return delivery.Idle, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.settle)
	defer cancel()
	state, err := receipt.Wait(waitCtx)
	if err != nil {
		p.log.Warn("Exit not settled before timeout", logger.String("state", state.String()))
	}
	return state, nil
}
