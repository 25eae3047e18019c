package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vincentbai/browsetrace/internal/database"
	"github.com/vincentbai/browsetrace/internal/models"
)

// SQLiteStore keeps the slot in a one-row table that survives process restarts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS pending_exit(
	  slot       INTEGER PRIMARY KEY CHECK (slot = 1),
	  record_key TEXT    NOT NULL,
	  event_json TEXT    NOT NULL CHECK (json_valid(event_json)),
	  saved_at   INTEGER NOT NULL
	);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pending table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	eventJSON, err := json.Marshal(record.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal pending event: %w", err)
	}
	// one statement, so the newer-wins check and the write are atomic
	result, err := s.db.ExecContext(ctx, `
	INSERT INTO pending_exit(slot, record_key, event_json, saved_at) VALUES(1, ?, ?, ?)
	ON CONFLICT(slot) DO UPDATE SET
	  record_key = excluded.record_key,
	  event_json = excluded.event_json,
	  saved_at   = excluded.saved_at
	WHERE excluded.saved_at > pending_exit.saved_at
	   OR (excluded.saved_at = pending_exit.saved_at
	       AND (json_extract(pending_exit.event_json, '$.event_type') <> ?
	            OR json_extract(excluded.event_json, '$.event_type') = ?))`,
		record.Key, string(eventJSON), record.SavedAt.UnixMilli(),
		string(models.SiteExit), string(models.SiteExit))
	if err != nil {
		return fmt.Errorf("failed to save pending record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save pending record: %w", err)
	}
	if affected == 0 {
		return ErrSuperseded
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	var (
		record    Record
		eventJSON string
		savedAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT record_key, event_json, saved_at FROM pending_exit WHERE slot = 1`).
		Scan(&record.Key, &eventJSON, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load pending record: %w", err)
	}

	var event models.Event
	if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
		return Record{}, fmt.Errorf("failed to decode pending event: %w", err)
	}
	record.Event = event
	record.SavedAt = time.UnixMilli(savedAt)
	return record, nil
}

func (s *SQLiteStore) ClearIf(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_exit WHERE slot = 1 AND record_key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear pending record: %w", err)
	}
	return nil
}
