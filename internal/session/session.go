// Package session holds the per-load tracking state: the ephemeral session id
// and the clocks used for page-view deduplication and dwell time.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const randomSuffixLength = 9

// GenerateID composes a millisecond timestamp with a random suffix. Unique with
// overwhelming probability; it groups events and is never used for auth.
func GenerateID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), random[:randomSuffixLength])
}

// Context is created once per page load and shared by reference with every
// collaborator. The id never changes for the lifetime of the value.
type Context struct {
	id  string
	now func() time.Time

	mu           sync.Mutex
	lastPageView time.Time
	pageStart    time.Time
	currentURL   string
}

// New mints a session id and starts the page clock.
func New(now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	started := now()
	return &Context{
		id:        GenerateID(started),
		now:       now,
		pageStart: started,
	}
}

func (c *Context) ID() string { return c.id }

// Now reads the session clock.
func (c *Context) Now() time.Time { return c.now() }

// PageViewResult describes what BeginPageView decided.
type PageViewResult struct {
	Duplicate     bool
	SincePrevious time.Duration // zero on the first page view
	PreviousURL   string
}

// BeginPageView applies the deduplication window: a call within window of the
// previous accepted page view is reported as a duplicate and changes nothing.
// Otherwise the page clock restarts at `at`.
func (c *Context) BeginPageView(url string, at time.Time, window time.Duration) PageViewResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastPageView.IsZero() && at.Sub(c.lastPageView) < window {
		return PageViewResult{Duplicate: true}
	}

	var result PageViewResult
	if !c.lastPageView.IsZero() {
		result.SincePrevious = at.Sub(c.lastPageView)
		result.PreviousURL = c.currentURL
	}
	c.lastPageView = at
	c.pageStart = at
	c.currentURL = url
	return result
}

// Elapsed returns the dwell time since the last clock reset.
func (c *Context) Elapsed(at time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := at.Sub(c.pageStart); elapsed > 0 {
		return elapsed
	}
	return 0
}

// ResetClock restarts dwell-time accounting without emitting anything.
func (c *Context) ResetClock(at time.Time) {
	c.mu.Lock()
	c.pageStart = at
	c.mu.Unlock()
}

// CurrentURL returns the URL of the last accepted page view.
func (c *Context) CurrentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentURL
}
