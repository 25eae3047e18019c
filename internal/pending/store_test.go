package pending_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/pending"
)

func exitRecord(sessionID string, at time.Time, user models.UserID) pending.Record {
	return typedRecord(models.SiteExit, sessionID, at, user)
}

func typedRecord(eventType models.EventType, sessionID string, at time.Time, user models.UserID) pending.Record {
	return pending.Record{
		Key: pending.Key(sessionID, eventType, at),
		Event: models.Event{
			Type:      eventType,
			PageURL:   "https://example.com/pricing",
			SessionID: sessionID,
			UserID:    user,
			Metadata:  map[string]any{"timeOnPage": 4200},
		},
		SavedAt: at,
	}
}

func stores(t *testing.T) map[string]pending.Store {
	t.Helper()

	sqliteStore, err := pending.NewSQLiteStore(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]pending.Store{
		"memory": pending.NewMemoryStore(),
		"sqlite": sqliteStore,
		"redis":  pending.NewRedisStore(client, ""),
	}
}

func TestKey(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	assert.Equal(t, "session_1:1700000000123:site_exit", pending.Key("session_1", models.SiteExit, at))
	assert.NotEqual(t, pending.Key("session_1", models.SiteExit, at), pending.Key("session_1", models.PageExit, at))
}

func TestStore_EmptySlot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(context.Background())
			require.ErrorIs(t, err, pending.ErrNoRecord)
			require.NoError(t, store.ClearIf(context.Background(), "missing"))
		})
	}
}

func TestStore_RoundTripPreservesNullUser(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := exitRecord("session_a", at, models.AnonymousUser())
			require.NoError(t, store.Save(ctx, record))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, record.Key, loaded.Key)
			assert.Equal(t, models.SiteExit, loaded.Event.Type)
			assert.True(t, loaded.Event.UserID.IsNull(), "user_id should stay null, got %s", loaded.Event.UserID)
			assert.Equal(t, at.UnixMilli(), loaded.SavedAt.UnixMilli())
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	first := time.UnixMilli(1_700_000_000_000)
	second := first.Add(3 * time.Second)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, exitRecord("session_a", first, models.KnownUser("u1"))))
			require.NoError(t, store.Save(ctx, exitRecord("session_a", second, models.KnownUser("u1"))))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, pending.Key("session_a", models.SiteExit, second), loaded.Key)
			id, ok := loaded.Event.UserID.Value()
			assert.True(t, ok)
			assert.Equal(t, "u1", id)
		})
	}
}

func TestStore_ClearIfKeepsNewerRecord(t *testing.T) {
	first := time.UnixMilli(1_700_000_000_000)
	second := first.Add(time.Second)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := exitRecord("session_a", first, models.AnonymousUser())
			newer := exitRecord("session_a", second, models.AnonymousUser())
			require.NoError(t, store.Save(ctx, older))
			require.NoError(t, store.Save(ctx, newer))

			// late acknowledgment of the older exit
			require.NoError(t, store.ClearIf(ctx, older.Key))
			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, newer.Key, loaded.Key)

			require.NoError(t, store.ClearIf(ctx, newer.Key))
			_, err = store.Load(ctx)
			require.ErrorIs(t, err, pending.ErrNoRecord)
		})
	}
}

func TestStore_OlderExitDoesNotReplaceNewer(t *testing.T) {
	pageExitAt := time.UnixMilli(1_700_000_002_000)
	siteExitAt := pageExitAt.Add(5 * time.Millisecond)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			siteExit := typedRecord(models.SiteExit, "session_a", siteExitAt, models.AnonymousUser())
			pageExit := typedRecord(models.PageExit, "session_a", pageExitAt, models.AnonymousUser())

			// the page exit reaches the store after the unload already saved
			require.NoError(t, store.Save(ctx, siteExit))
			require.ErrorIs(t, store.Save(ctx, pageExit), pending.ErrSuperseded)

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, siteExit.Key, loaded.Key)
			assert.Equal(t, models.SiteExit, loaded.Event.Type)
		})
	}
}

func TestStore_SameMillisecondPrefersSiteExit(t *testing.T) {
	at := time.UnixMilli(1_700_000_002_000)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			siteExit := typedRecord(models.SiteExit, "session_a", at, models.AnonymousUser())
			pageExit := typedRecord(models.PageExit, "session_a", at, models.AnonymousUser())

			require.NoError(t, store.Save(ctx, pageExit))
			require.NoError(t, store.Save(ctx, siteExit))
			require.ErrorIs(t, store.Save(ctx, pageExit), pending.ErrSuperseded)

			// a repeated unload in the same millisecond still replaces
			again := typedRecord(models.SiteExit, "session_b", at, models.AnonymousUser())
			require.NoError(t, store.Save(ctx, again))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, again.Key, loaded.Key)
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.db")
	ctx := context.Background()
	record := exitRecord("session_b", time.UnixMilli(1_700_000_000_000), models.UserID{})

	store, err := pending.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, record))
	require.NoError(t, store.Close())

	reopened, err := pending.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Key, loaded.Key)
	assert.True(t, loaded.Event.UserID.IsZero())
}

func TestRedisStore_CustomKey(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store := pending.NewRedisStore(client, "tenant:pending")
	record := exitRecord("session_c", time.UnixMilli(1_700_000_000_000), models.AnonymousUser())
	require.NoError(t, store.Save(context.Background(), record))

	assert.True(t, server.Exists("tenant:pending"))
	assert.Equal(t, record.Key, server.HGet("tenant:pending", "key"))
}
