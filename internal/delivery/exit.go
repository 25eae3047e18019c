package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/pending"
)

// State is the position of one exit event in the durable send state machine.
type State int32

const (
	Idle State = iota
	UnloadTriggered
	DeliveryAttempted
	Confirmed
	UnconfirmedPersisted
	// Suppressed means the privileged check denied the event after it was
	// persisted; the slot was cleared and nothing was sent.
	Suppressed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case UnloadTriggered:
		return "unload_triggered"
	case DeliveryAttempted:
		return "delivery_attempted"
	case Confirmed:
		return "confirmed"
	case UnconfirmedPersisted:
		return "unconfirmed_persisted"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Confirmed || s == UnconfirmedPersisted || s == Suppressed
}

// Receipt observes one durable send.
type Receipt struct {
	key       string
	persisted bool
	state     atomic.Int32
	done      chan struct{}
	once      sync.Once
}

func newReceipt(key string) *Receipt {
	return &Receipt{key: key, done: make(chan struct{})}
}

// Key is the pending slot key of the exit.
func (r *Receipt) Key() string { return r.key }

func (r *Receipt) State() State { return State(r.state.Load()) }

// Persisted reports whether the synchronous persist step succeeded.
func (r *Receipt) Persisted() bool { return r.persisted }

// Done is closed once the receipt reaches a terminal state.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Wait blocks until the receipt is terminal or ctx ends.
func (r *Receipt) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

func (r *Receipt) set(s State) {
	r.state.Store(int32(s))
}

func (r *Receipt) finish(s State) bool {
	finished := false
	r.once.Do(func() {
		r.set(s)
		close(r.done)
		finished = true
	})
	return finished
}

// Verifier is the late eligibility check of an exit; false suppresses it.
type Verifier func(ctx context.Context) bool

// Exit sends exit events through every available path.
type Exit struct {
	store   pending.Store
	sink    Sink
	beacon  Beaconer
	log     logger.Logger
	metrics *metrics.Tracker
}

type ExitOption func(*Exit)

func WithMetrics(m *metrics.Tracker) ExitOption {
	return func(e *Exit) { e.metrics = m }
}

func NewExit(store pending.Store, sink Sink, beacon Beaconer, log logger.Logger, opts ...ExitOption) *Exit {
	e := &Exit{
		store:  store,
		sink:   sink,
		beacon: beacon,
		log:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DurableSend persists event, then races the beacon and the direct write in
// the background. It returns as soon as the persist step is done. at is when
// the exit happened; it orders the exit against others in the pending slot.
func (e *Exit) DurableSend(ctx context.Context, event models.Event, at time.Time, verify Verifier) *Receipt {
	record := newRecord(event, at)
	receipt := newReceipt(record.Key)
	receipt.set(UnloadTriggered)

	detached := context.WithoutCancel(ctx)
	switch err := e.store.Save(detached, record); {
	case err == nil:
		receipt.persisted = true
	case errors.Is(err, pending.ErrSuperseded):
		e.log.Info("Pending slot holds a newer exit, sending without persisting",
			logger.String("event_type", string(event.Type)))
	default:
		e.log.Error("Failed to persist exit event",
			logger.String("event_type", string(event.Type)),
			logger.Error(err),
		)
	}

	go e.send(detached, record, verify, receipt)
	return receipt
}

// Persist writes event to the pending slot without sending it. The queue
// fallback uses it for exits whose attempts are exhausted.
func (e *Exit) Persist(ctx context.Context, event models.Event, at time.Time) error {
	return e.store.Save(ctx, newRecord(event, at))
}

func newRecord(event models.Event, at time.Time) pending.Record {
	return pending.Record{
		Key:     pending.Key(event.SessionID, event.Type, at),
		Event:   event,
		SavedAt: at,
	}
}

func (e *Exit) send(ctx context.Context, record pending.Record, verify Verifier, receipt *Receipt) {
	if verify != nil && !verify(ctx) {
		if err := e.store.ClearIf(ctx, record.Key); err != nil {
			e.log.Warn("Failed to clear suppressed exit", logger.Error(err))
		}
		receipt.finish(Suppressed)
		e.metrics.ExitOutcome(Suppressed.String())
		return
	}

	receipt.set(DeliveryAttempted)

	var (
		wg      sync.WaitGroup
		confirm sync.Once
	)
	attempt := func(path string, send func(context.Context, models.Event) error) {
		defer wg.Done()
		if err := send(ctx, record.Event); err != nil {
			e.log.Debug("Exit delivery attempt failed", logger.String("path", path), logger.Error(err))
			return
		}
		e.metrics.Delivered(path)
		confirm.Do(func() {
			if err := e.store.ClearIf(ctx, record.Key); err != nil {
				e.log.Warn("Failed to clear confirmed exit", logger.Error(err))
			}
			receipt.finish(Confirmed)
			e.metrics.ExitOutcome(Confirmed.String())
		})
	}

	wg.Add(2)
	go attempt(metrics.PathBeacon, e.beacon.Beacon)
	go attempt(metrics.PathDirect, e.sink.Write)
	wg.Wait()

	if receipt.finish(UnconfirmedPersisted) {
		if !receipt.persisted {
			e.log.Error("Exit event unacknowledged and not in the pending slot",
				logger.String("event_type", string(record.Event.Type)))
		}
		e.metrics.ExitOutcome(UnconfirmedPersisted.String())
	}
}

// RecoveryResult describes what Recover did.
type RecoveryResult int

const (
	NothingPending RecoveryResult = iota
	Recovered
	RecoveryFailed
)

func (r RecoveryResult) String() string {
	switch r {
	case NothingPending:
		return "none"
	case Recovered:
		return "delivered"
	default:
		return "failed"
	}
}

// Recover makes one direct write of an exit left by an earlier session,
// clearing the slot on success. The record stays for the next load on failure.
// A record of currentSession belongs to sends still in flight and is left alone.
func (e *Exit) Recover(ctx context.Context, currentSession string) (RecoveryResult, error) {
	record, err := e.store.Load(ctx)
	if errors.Is(err, pending.ErrNoRecord) {
		return NothingPending, nil
	}
	if err == nil && record.Event.SessionID == currentSession {
		return NothingPending, nil
	}
	if err != nil {
		e.metrics.Recovery(RecoveryFailed.String())
		return RecoveryFailed, err
	}

	if err := e.sink.Write(ctx, record.Event); err != nil {
		e.metrics.Recovery(RecoveryFailed.String())
		return RecoveryFailed, err
	}
	if err := e.store.ClearIf(ctx, record.Key); err != nil {
		e.log.Warn("Failed to clear recovered exit", logger.Error(err))
	}
	e.metrics.Recovery(Recovered.String())
	e.log.Info("Recovered pending exit event",
		logger.String("event_type", string(record.Event.Type)),
		logger.String("session_id", record.Event.SessionID),
	)
	return Recovered, nil
}
