package tracker

import (
	"context"
	"time"

	"github.com/vincentbai/browsetrace/internal/builder"
	"github.com/vincentbai/browsetrace/internal/delivery"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/target"
)

// TrackPageView records a page view of url, or of the environment's current
// URL when url is empty. Calls within the dedup window of the previous
// accepted page view are ignored.
func (t *Tracker) TrackPageView(url string) {
	at := t.now()
	t.post("page_view", func() {
		t.pageView(url, at)
	})
}

// Navigate is the host's navigation signal: forms left behind on the current
// page are reported abandoned, then the new page view is tracked.
func (t *Tracker) Navigate(url string) {
	at := t.now()
	t.post("navigate", func() {
		t.reportAbandonedForms(ReasonNavigation, at)
		if navigator, ok := t.env.(Navigator); ok {
			navigator.Navigate(url)
		}
		t.pageView(url, at)
	})
}

func (t *Tracker) pageView(url string, at time.Time) {
	if !t.allowed() {
		return
	}
	if url == "" {
		url = t.env.PageURL()
	}
	result := t.session.BeginPageView(url, at, t.lifecycle.DedupWindow)
	if result.Duplicate {
		t.log.Debug("Duplicate page view ignored", logger.String("url", url))
		return
	}
	if t.scroll != nil {
		t.scroll.Reset()
	}

	if !t.recoveryDone {
		t.recoveryDone = true
		t.recoverPendingExit()
	}
	t.submit(t.builder.PageView(url, at, result.SincePrevious), at)
}

// recoverPendingExit delivers an exit left over from a previous load. It runs
// on the first accepted page view only. The page view goes out whatever the
// outcome.
func (t *Tracker) recoverPendingExit() {
	ctx, cancel := context.WithTimeout(t.ctx, t.recoveryTimeout)
	defer cancel()

	result, err := t.exit.Recover(ctx, t.session.ID())
	if err != nil {
		t.log.Warn("Pending exit recovery failed", logger.Error(err))
		return
	}
	if result == delivery.Recovered {
		t.log.Debug("Pending exit recovered")
	}
}

func (t *Tracker) TrackClick(node *target.Node, origin *builder.Origin) {
	at := t.now()
	t.post("click", func() {
		if !t.allowed() {
			return
		}
		t.submit(t.builder.Click(node, origin, at), at)
	})
}

func (t *Tracker) TrackFormAbandonment(form *target.Node, reason string) {
	at := t.now()
	t.post("form_abandonment", func() {
		if !t.allowed() {
			return
		}
		t.submit(t.builder.FormAbandonment(form, reason, 0, at), at)
	})
}

func (t *Tracker) TrackScrollDepth(percent int) {
	at := t.now()
	t.post("scroll_depth", func() {
		if !t.allowed() {
			return
		}
		t.submit(t.builder.ScrollDepth(percent, at), at)
	})
}

// TrackTimeOnPage reports an explicit dwell time.
func (t *Tracker) TrackTimeOnPage(spent time.Duration) {
	at := t.now()
	t.post("time_on_page", func() {
		if !t.allowed() {
			return
		}
		t.submit(t.builder.TimeOnPage(spent, builder.TriggerManual, at), at)
	})
}

// TrackPageExit records leaving the page, optionally through node. It takes
// the durable exit path.
func (t *Tracker) TrackPageExit(node *target.Node) {
	at := t.now()
	t.post("page_exit", func() {
		if !t.gate.Eligible() {
			t.metrics.Dropped(metrics.ReasonConsent)
			return
		}
		t.submit(t.builder.PageExit(node, t.session.Elapsed(at), at), at)
	})
}

// OnVisibilityChange reports the time spent visible when the page hides and
// restarts the clock, without emitting, when it shows again.
func (t *Tracker) OnVisibilityChange(hidden bool) {
	at := t.now()
	t.post("visibility", func() {
		t.hidden = hidden
		if !hidden {
			t.session.ResetClock(at)
			return
		}
		if !t.allowed() {
			return
		}
		t.submit(t.builder.TimeOnPage(t.session.Elapsed(at), builder.TriggerVisibility, at), at)
	})
}

// Heartbeat reports dwell time while the page is visible and at least the
// minimum has elapsed since the last reset. Start calls it periodically.
func (t *Tracker) Heartbeat() {
	at := t.now()
	t.post("heartbeat", func() {
		if t.hidden {
			return
		}
		elapsed := t.session.Elapsed(at)
		if elapsed < t.lifecycle.HeartbeatMinElapsed {
			return
		}
		if !t.allowed() {
			return
		}
		t.submit(t.builder.TimeOnPage(elapsed, builder.TriggerHeartbeat, at), at)
	})
}

func (t *Tracker) OnScroll() {
	if t.scroll != nil {
		t.scroll.OnScroll()
	}
}

func (t *Tracker) OnResize() {
	if t.scroll != nil {
		t.scroll.OnResize()
	}
}

// OnFormInput marks form as touched; field names the input, if known.
func (t *Tracker) OnFormInput(form *target.Node, field string) {
	t.forms.input(form, field)
}

func (t *Tracker) OnFormSubmit(form *target.Node) {
	t.forms.submit(form)
}

func (t *Tracker) reportAbandonedForms(reason string, at time.Time) {
	forms := t.forms.drain()
	if len(forms) == 0 || !t.allowed() {
		return
	}
	for _, form := range forms {
		t.submit(t.builder.FormAbandonment(form.node, reason, len(form.fields), at), at)
	}
}

// Unload is the teardown signal. It persists the site exit before returning,
// starts its delivery and stops accepting further calls. The receipt is nil
// when tracking is not allowed. Only synchronous checks run here; the
// privileged-user check runs later and may suppress the exit.
func (t *Tracker) Unload() (receipt *delivery.Receipt) {
	at := t.now()
	defer t.tasks.stop()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Unload panicked", logger.Any("panic", r))
			receipt = nil
		}
	}()

	t.post("unload_forms", func() {
		t.reportAbandonedForms(ReasonPageUnload, at)
	})

	if !t.gate.Eligible() {
		t.metrics.Dropped(metrics.ReasonConsent)
		return nil
	}
	event := t.builder.SiteExit(t.session.Elapsed(at), at)
	return t.exit.DurableSend(t.ctx, event, at, t.verifyExit)
}
