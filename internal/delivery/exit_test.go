package delivery_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace/internal/delivery"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/pending"
)

func failing(context.Context, models.Event) error { return errUnavailable }

func succeeding(context.Context, models.Event) error { return nil }

func waitTerminal(t *testing.T, receipt *delivery.Receipt) delivery.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := receipt.Wait(ctx)
	require.NoError(t, err)
	return state
}

var exitAt = time.UnixMilli(1_700_000_000_000)

func TestExit_BeaconConfirmsAndClears(t *testing.T) {
	store := pending.NewMemoryStore()
	exit := delivery.NewExit(store, delivery.SinkFunc(failing), delivery.BeaconFunc(succeeding), logger.NewNop())

	receipt := exit.DurableSend(context.Background(), event(models.SiteExit, "/pricing"), exitAt, nil)
	assert.True(t, receipt.Persisted())
	assert.Equal(t, delivery.Confirmed, waitTerminal(t, receipt))

	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, pending.ErrNoRecord)
}

func TestExit_DirectWriteConfirms(t *testing.T) {
	store := pending.NewMemoryStore()
	exit := delivery.NewExit(store, delivery.SinkFunc(succeeding), delivery.BeaconFunc(failing), logger.NewNop())

	receipt := exit.DurableSend(context.Background(), event(models.PageExit, "/docs"), exitAt, nil)
	assert.Equal(t, delivery.Confirmed, waitTerminal(t, receipt))
}

func TestExit_NoAcknowledgmentKeepsRecord(t *testing.T) {
	store := pending.NewMemoryStore()
	exit := delivery.NewExit(store, delivery.SinkFunc(failing), delivery.BeaconFunc(failing), logger.NewNop())

	receipt := exit.DurableSend(context.Background(), event(models.SiteExit, "/pricing"), exitAt, nil)
	assert.Equal(t, delivery.UnconfirmedPersisted, waitTerminal(t, receipt))

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, receipt.Key(), record.Key)
	assert.Equal(t, "/pricing", record.Event.PageURL)
}

func TestExit_DurableSendDoesNotBlock(t *testing.T) {
	store := pending.NewMemoryStore()
	release := make(chan struct{})
	blocking := func(context.Context, models.Event) error {
		<-release
		return nil
	}
	exit := delivery.NewExit(store, delivery.SinkFunc(blocking), delivery.BeaconFunc(blocking), logger.NewNop())

	start := time.Now()
	receipt := exit.DurableSend(context.Background(), event(models.SiteExit, "/pricing"), exitAt, nil)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, receipt.State().Terminal())

	// persisted before DurableSend returned
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	close(release)
	assert.Equal(t, delivery.Confirmed, waitTerminal(t, receipt))
}

func TestExit_CancelledCallerContextStillDelivers(t *testing.T) {
	store := pending.NewMemoryStore()
	var sent atomic.Int32
	beacon := func(ctx context.Context, _ models.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sent.Add(1)
		return nil
	}
	exit := delivery.NewExit(store, delivery.SinkFunc(failing), delivery.BeaconFunc(beacon), logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	receipt := exit.DurableSend(ctx, event(models.SiteExit, "/pricing"), exitAt, nil)

	assert.Equal(t, delivery.Confirmed, waitTerminal(t, receipt))
	assert.Equal(t, int32(1), sent.Load())
}

func TestExit_VerifierDenialSuppresses(t *testing.T) {
	store := pending.NewMemoryStore()
	var sent atomic.Int32
	count := func(context.Context, models.Event) error {
		sent.Add(1)
		return nil
	}
	exit := delivery.NewExit(store, delivery.SinkFunc(count), delivery.BeaconFunc(count), logger.NewNop())

	receipt := exit.DurableSend(context.Background(), event(models.SiteExit, "/admin"), exitAt,
		func(context.Context) bool { return false })

	assert.Equal(t, delivery.Suppressed, waitTerminal(t, receipt))
	assert.Zero(t, sent.Load())
	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, pending.ErrNoRecord)
}

func TestExit_RapidUnloadsKeepOnlyLatest(t *testing.T) {
	store := pending.NewMemoryStore()
	exit := delivery.NewExit(store, delivery.SinkFunc(failing), delivery.BeaconFunc(failing), logger.NewNop())

	first := event(models.SiteExit, "/first")
	first.SessionID = "session_first"
	second := event(models.SiteExit, "/second")
	second.SessionID = "session_second"

	r1 := exit.DurableSend(context.Background(), first, exitAt, nil)
	r2 := exit.DurableSend(context.Background(), second, exitAt.Add(time.Millisecond), nil)
	waitTerminal(t, r1)
	waitTerminal(t, r2)

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session_second", record.Event.SessionID, "the newer unload overwrites the older one")
}

func TestExit_OlderExitDoesNotDisplaceNewer(t *testing.T) {
	store := pending.NewMemoryStore()
	exit := delivery.NewExit(store, delivery.SinkFunc(failing), delivery.BeaconFunc(failing), logger.NewNop())

	siteExit := exit.DurableSend(context.Background(), event(models.SiteExit, "/pricing"),
		exitAt.Add(5*time.Millisecond), nil)
	pageExit := exit.DurableSend(context.Background(), event(models.PageExit, "/pricing"), exitAt, nil)

	assert.True(t, siteExit.Persisted())
	assert.False(t, pageExit.Persisted(), "an older exit is sent but not persisted")
	assert.Equal(t, delivery.UnconfirmedPersisted, waitTerminal(t, siteExit))
	waitTerminal(t, pageExit)

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SiteExit, record.Event.Type)
	assert.Equal(t, siteExit.Key(), record.Key)
}

func TestExit_Recover(t *testing.T) {
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	t.Run("nothing pending", func(t *testing.T) {
		exit := delivery.NewExit(pending.NewMemoryStore(), delivery.SinkFunc(failing), delivery.BeaconFunc(failing),
			logger.NewNop())
		result, err := exit.Recover(ctx, "session_next")
		require.NoError(t, err)
		assert.Equal(t, delivery.NothingPending, result)
	})

	t.Run("own session is left alone", func(t *testing.T) {
		store := pending.NewMemoryStore()
		sink := &recordingSink{}
		exit := delivery.NewExit(store, sink, delivery.BeaconFunc(failing), logger.NewNop())
		require.NoError(t, exit.Persist(ctx, event(models.PageExit, "/pricing"), at))

		result, err := exit.Recover(ctx, "session_1")
		require.NoError(t, err)
		assert.Equal(t, delivery.NothingPending, result)
		_, calls := sink.snapshot()
		assert.Zero(t, calls)

		_, err = store.Load(ctx)
		require.NoError(t, err)
	})

	t.Run("delivered and cleared", func(t *testing.T) {
		store := pending.NewMemoryStore()
		sink := &recordingSink{}
		exit := delivery.NewExit(store, sink, delivery.BeaconFunc(failing), logger.NewNop())
		require.NoError(t, exit.Persist(ctx, event(models.SiteExit, "/pricing"), at))

		result, err := exit.Recover(ctx, "session_next")
		require.NoError(t, err)
		assert.Equal(t, delivery.Recovered, result)

		events, calls := sink.snapshot()
		assert.Equal(t, 1, calls, "recovery makes exactly one attempt")
		require.Len(t, events, 1)
		assert.True(t, events[0].UserID.IsNull())

		_, err = store.Load(ctx)
		require.ErrorIs(t, err, pending.ErrNoRecord)
	})

	t.Run("failure keeps the record", func(t *testing.T) {
		store := pending.NewMemoryStore()
		sink := &recordingSink{failures: 1}
		exit := delivery.NewExit(store, sink, delivery.BeaconFunc(failing), logger.NewNop())
		require.NoError(t, exit.Persist(ctx, event(models.PageExit, "/pricing"), at))

		result, err := exit.Recover(ctx, "session_next")
		require.ErrorIs(t, err, errUnavailable)
		assert.Equal(t, delivery.RecoveryFailed, result)
		_, calls := sink.snapshot()
		assert.Equal(t, 1, calls)

		record, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, pending.Key("session_1", models.PageExit, at), record.Key)
	})
}
