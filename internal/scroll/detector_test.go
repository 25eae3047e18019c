package scroll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeViewport struct {
	top      float64
	height   float64
	document float64
	reads    int
}

func (v *fakeViewport) ScrollTop() float64      { v.reads++; return v.top }
func (v *fakeViewport) ViewportHeight() float64 { return v.height }
func (v *fakeViewport) DocumentHeight() float64 { return v.document }

type recorder struct {
	mu       sync.Mutex
	percents []int
}

func (r *recorder) emit(percent int) {
	r.mu.Lock()
	r.percents = append(r.percents, percent)
	r.mu.Unlock()
}

func newDetector() (*Detector, *fakeViewport, *TickerFrames, *recorder) {
	viewport := &fakeViewport{height: 1000, document: 3000} // 2000px scrollable
	frames := NewTickerFrames(time.Hour)
	rec := &recorder{}
	return NewDetector(viewport, frames, rec.emit), viewport, frames, rec
}

func scrollTo(d *Detector, v *fakeViewport, f *TickerFrames, top float64) {
	v.top = top
	d.OnScroll()
	f.Tick()
}

func TestMilestonesFireOnceOnFirstCrossing(t *testing.T) {
	d, v, f, rec := newDetector()

	scrollTo(d, v, f, 400)  // 20%
	scrollTo(d, v, f, 600)  // 30%
	scrollTo(d, v, f, 1200) // 60%
	scrollTo(d, v, f, 100)  // back up
	scrollTo(d, v, f, 1300) // 65%, re-crossing 25 and 50
	scrollTo(d, v, f, 2000) // bottom

	assert.Equal(t, []int{25, 50, 75, 90}, rec.percents)
	assert.Equal(t, float64(100), d.MaxDepth())
}

func TestScrollToSixtyPercentEmitsTwentyFiveAndFifty(t *testing.T) {
	d, v, f, rec := newDetector()

	scrollTo(d, v, f, 1200)

	assert.Equal(t, []int{25, 50}, rec.percents)
}

func TestTicksWithinAFrameAreCoalesced(t *testing.T) {
	d, v, f, rec := newDetector()

	for top := 0.0; top <= 1000; top += 100 {
		v.top = top
		d.OnScroll()
	}
	assert.Zero(t, v.reads, "no layout reads before the frame")

	f.Tick()
	assert.Equal(t, 1, v.reads)
	assert.Equal(t, []int{25, 50}, rec.percents)
}

func TestResizeRecomputesExtent(t *testing.T) {
	d, v, f, rec := newDetector()

	scrollTo(d, v, f, 500)  // 25% of 2000
	v.document = 11000      // 10000px scrollable after content loads
	scrollTo(d, v, f, 5000) // still measured against the cached 2000
	assert.Equal(t, []int{25, 50, 75, 90}, rec.percents)

	d2, v2, f2, rec2 := newDetector()
	scrollTo(d2, v2, f2, 500)
	v2.document = 11000
	d2.OnResize()
	scrollTo(d2, v2, f2, 5000) // 50% of 10000
	assert.Equal(t, []int{25, 50}, rec2.percents)
}

func TestResetStartsNewPageView(t *testing.T) {
	d, v, f, rec := newDetector()

	scrollTo(d, v, f, 1200)
	d.Reset()
	v.top = 0
	scrollTo(d, v, f, 600)

	assert.Equal(t, []int{25, 50, 25}, rec.percents)
}

func TestNonScrollablePageEmitsNothing(t *testing.T) {
	d, v, f, rec := newDetector()
	v.document = 800

	scrollTo(d, v, f, 0)

	assert.Empty(t, rec.percents)
}

func TestTickerFramesRun(t *testing.T) {
	frames := NewTickerFrames(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go frames.Run(ctx)

	var ran atomic.Bool
	frames.RequestFrame(func() { ran.Store(true) })

	assert.Eventually(t, ran.Load, time.Second, time.Millisecond)
}
