// Package builder materializes tracking events: the common envelope plus the
// type-specific metadata.
package builder

import (
	"math"
	"time"

	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/target"
)

// Environment describes the page the tracker is embedded in.
type Environment interface {
	PageURL() string
	UserAgent() string
	Referrer() string
}

// Identity yields the user id for the envelope. Anonymous visitors should
// return models.AnonymousUser().
type Identity interface {
	UserID() models.UserID
}

// Sessions yields the current session id.
type Sessions interface {
	ID() string
}

// Origin is the raw input event behind a click, when the host has one.
type Origin struct {
	ClientX int
	ClientY int
}

type Builder struct {
	env      Environment
	identity Identity
	sessions Sessions
	resolver target.InteractiveTargetResolver
}

func New(env Environment, identity Identity, sessions Sessions, resolver target.InteractiveTargetResolver) *Builder {
	if resolver == nil {
		resolver = target.Resolver{}
	}
	return &Builder{
		env:      env,
		identity: identity,
		sessions: sessions,
		resolver: resolver,
	}
}

// envelope fills the fields every event carries. url overrides the
// environment's location when the caller already knows it.
func (b *Builder) envelope(eventType models.EventType, url string, at time.Time) models.Event {
	if url == "" && b.env != nil {
		url = b.env.PageURL()
	}
	event := models.Event{
		Type:      eventType,
		PageURL:   url,
		SessionID: b.sessions.ID(),
		Metadata: map[string]any{
			"timestamp": at.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
	if b.env != nil {
		event.UserAgent = b.env.UserAgent()
		event.Referrer = b.env.Referrer()
	}
	if b.identity != nil {
		event.UserID = b.identity.UserID()
	}
	return event
}

func (b *Builder) withTarget(event *models.Event, node *target.Node) target.Resolution {
	res := b.resolver.Resolve(node)
	event.ElementID = res.ElementID
	event.ElementText = res.Text
	return res
}

// PageView records timeOnPreviousPage in whole seconds.
func (b *Builder) PageView(url string, at time.Time, sincePrevious time.Duration) models.Event {
	event := b.envelope(models.PageView, url, at)
	event.Metadata["timeOnPreviousPage"] = int(math.Round(sincePrevious.Seconds()))
	return event
}

func (b *Builder) Click(node *target.Node, origin *Origin, at time.Time) models.Event {
	event := b.envelope(models.Click, "", at)
	res := b.withTarget(&event, node)

	if node != nil {
		event.Metadata["tagName"] = node.TagName
		event.Metadata["className"] = node.ClassName()
	}
	href := ""
	if node != nil {
		href = node.Href
	}
	if href == "" && res.Control != nil {
		href = res.Control.Href
	}
	if href != "" {
		event.Metadata["href"] = href
	}
	if res.Control != nil && res.Text != "" {
		event.Metadata["buttonText"] = res.Text
	}
	if parent := res.ParentText(); parent != "" {
		event.Metadata["parentText"] = parent
	}
	if origin != nil {
		event.Metadata["clientX"] = origin.ClientX
		event.Metadata["clientY"] = origin.ClientY
	}
	return event
}

func (b *Builder) FormAbandonment(form *target.Node, reason string, fieldsTouched int, at time.Time) models.Event {
	event := b.envelope(models.FormAbandonment, "", at)
	b.withTarget(&event, form)
	event.Metadata["reason"] = reason
	if form != nil && form.ID != "" {
		event.Metadata["formId"] = form.ID
	}
	if fieldsTouched > 0 {
		event.Metadata["fieldsTouched"] = fieldsTouched
	}
	return event
}

func (b *Builder) ScrollDepth(percent int, at time.Time) models.Event {
	event := b.envelope(models.ScrollDepth, "", at)
	event.Metadata["scrollDepth"] = percent
	return event
}

// TimeOnPage triggers.
const (
	TriggerVisibility = "visibility"
	TriggerHeartbeat  = "heartbeat"
	TriggerManual     = "manual"
)

func (b *Builder) TimeOnPage(spent time.Duration, trigger string, at time.Time) models.Event {
	event := b.envelope(models.TimeOnPage, "", at)
	event.Metadata["timeSpent"] = spent.Milliseconds()
	event.Metadata["trigger"] = trigger
	return event
}

// PageExit records leaving the current page, optionally through a node (the
// link that was followed).
func (b *Builder) PageExit(node *target.Node, onPage time.Duration, at time.Time) models.Event {
	event := b.envelope(models.PageExit, "", at)
	if node != nil {
		res := b.withTarget(&event, node)
		if res.Control != nil && res.Control.Href != "" {
			event.Metadata["exitTarget"] = res.Control.Href
		}
	}
	event.Metadata["timeOnPage"] = onPage.Milliseconds()
	return event
}

// SiteExit records the visitor leaving the site (page teardown).
func (b *Builder) SiteExit(onPage time.Duration, at time.Time) models.Event {
	event := b.envelope(models.SiteExit, "", at)
	event.Metadata["timeOnPage"] = onPage.Milliseconds()
	return event
}
