// Package pending holds the single-slot record of an exit event whose delivery
// has not been confirmed yet.
package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vincentbai/browsetrace/internal/models"
)

var (
	// ErrNoRecord is returned by Load when the slot is empty.
	ErrNoRecord = errors.New("no pending exit record")
	// ErrSuperseded is returned by Save when the slot holds a newer exit.
	ErrSuperseded = errors.New("pending slot holds a newer exit")
)

// Record is an exit event persisted before delivery was attempted. SavedAt is
// when the exit happened, not when it was written.
type Record struct {
	Key     string       `json:"key"`
	Event   models.Event `json:"event"`
	SavedAt time.Time    `json:"saved_at"`
}

// Key identifies one exit of one session.
func Key(sessionID string, eventType models.EventType, at time.Time) string {
	return fmt.Sprintf("%s:%d:%s", sessionID, at.UnixMilli(), eventType)
}

// Store is a single-slot store. Save replaces the slot unless it holds a newer
// exit, in which case it returns ErrSuperseded. ClearIf empties the slot only
// while it still holds key.
type Store interface {
	Save(ctx context.Context, record Record) error
	Load(ctx context.Context) (Record, error)
	ClearIf(ctx context.Context, key string) error
}

// replaces reports whether incoming may take the slot from current. The later
// exit wins; within the same millisecond a site exit outranks a page exit.
func replaces(current, incoming Record) bool {
	c, i := current.SavedAt.UnixMilli(), incoming.SavedAt.UnixMilli()
	if c != i {
		return i > c
	}
	return current.Event.Type != models.SiteExit || incoming.Event.Type == models.SiteExit
}
