package scroll

import (
	"context"
	"sync"
	"time"
)

// TickerFrames batches frame callbacks and runs them on a fixed interval,
// standing in for the host's animation-frame clock.
type TickerFrames struct {
	interval time.Duration

	mu      sync.Mutex
	pending []func()
}

func NewTickerFrames(interval time.Duration) *TickerFrames {
	return &TickerFrames{interval: interval}
}

func (f *TickerFrames) RequestFrame(fn func()) {
	f.mu.Lock()
	f.pending = append(f.pending, fn)
	f.mu.Unlock()
}

// Run drives frames until ctx is done.
func (f *TickerFrames) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick()
		}
	}
}

// Tick runs every callback requested before this frame.
func (f *TickerFrames) Tick() {
	f.mu.Lock()
	callbacks := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
