// Package scroll turns raw scroll activity into depth milestones.
package scroll

import (
	"sync"
)

// Milestones are the depth thresholds, in percent, each reported once per page view.
var Milestones = []int{25, 50, 75, 90}

// Viewport is the host's view of the document.
type Viewport interface {
	ScrollTop() float64
	ViewportHeight() float64
	DocumentHeight() float64
}

// FrameScheduler runs fn once on the next frame.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// Detector samples the viewport at most once per frame and keeps a monotonic
// high-water mark of the depth reached.
type Detector struct {
	viewport Viewport
	frames   FrameScheduler
	emit     func(percent int)

	mu         sync.Mutex
	scheduled  bool
	scrollable float64
	measured   bool
	maxDepth   float64
	fired      map[int]bool
}

// NewDetector creates a detector; emit is called for each newly crossed milestone.
func NewDetector(viewport Viewport, frames FrameScheduler, emit func(percent int)) *Detector {
	return &Detector{
		viewport: viewport,
		frames:   frames,
		emit:     emit,
		fired:    make(map[int]bool, len(Milestones)),
	}
}

// OnScroll coalesces scroll ticks: only the first tick in a frame schedules a read.
func (d *Detector) OnScroll() {
	d.mu.Lock()
	if d.scheduled {
		d.mu.Unlock()
		return
	}
	d.scheduled = true
	d.mu.Unlock()

	d.frames.RequestFrame(d.sample)
}

// OnResize invalidates the cached scrollable extent.
func (d *Detector) OnResize() {
	d.mu.Lock()
	d.measured = false
	d.mu.Unlock()
}

// Reset starts a new page view: the high-water mark and fired milestones clear.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.maxDepth = 0
	d.measured = false
	clear(d.fired)
	d.mu.Unlock()
}

// MaxDepth returns the high-water mark in percent.
func (d *Detector) MaxDepth() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxDepth
}

func (d *Detector) sample() {
	for _, milestone := range d.advance() {
		d.emit(milestone)
	}
}

// advance reads the viewport and returns the milestones newly crossed.
func (d *Detector) advance() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.scheduled = false
	if !d.measured {
		d.scrollable = d.viewport.DocumentHeight() - d.viewport.ViewportHeight()
		d.measured = true
	}
	if d.scrollable <= 0 {
		return nil
	}

	depth := d.viewport.ScrollTop() / d.scrollable * 100
	if depth > 100 {
		depth = 100
	}
	if depth <= d.maxDepth {
		return nil
	}
	d.maxDepth = depth

	var crossed []int
	for _, milestone := range Milestones {
		if depth >= float64(milestone) && !d.fired[milestone] {
			d.fired[milestone] = true
			crossed = append(crossed, milestone)
		}
	}
	return crossed
}
