// Package delivery moves built events to the collector: a bounded best-effort
// queue for ordinary events and a durable send for exits.
package delivery

import (
	"context"

	"github.com/vincentbai/browsetrace/internal/models"
)

// Sink is the ordinary collector write path.
type Sink interface {
	Write(ctx context.Context, event models.Event) error
}

// Beaconer is the unload-safe write path. Implementations must not abort the
// request when ctx is cancelled.
type Beaconer interface {
	Beacon(ctx context.Context, event models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event models.Event) error

func (f SinkFunc) Write(ctx context.Context, event models.Event) error { return f(ctx, event) }

// BeaconFunc adapts a function to Beaconer.
type BeaconFunc func(ctx context.Context, event models.Event) error

func (f BeaconFunc) Beacon(ctx context.Context, event models.Event) error { return f(ctx, event) }
