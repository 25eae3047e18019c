package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vincentbai/browsetrace/internal/models"
)

var ErrInvalidEvent = errors.New("invalid event")

// Database is the collector's append-only event store.
type Database struct {
	db              *sql.DB
	path            string
	validEventTypes map[models.EventType]bool
	now             func() time.Time
}

func NewDatabase(databasePath string) (*Database, error) {
	db, err := Open(databasePath)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	valid := make(map[models.EventType]bool, len(models.EventTypes))
	for _, eventType := range models.EventTypes {
		valid[eventType] = true
	}

	return &Database{
		db:              db,
		path:            databasePath,
		validEventTypes: valid,
		now:             time.Now,
	}, nil
}

func createTables(db *sql.DB) error {
	types := make([]string, 0, len(models.EventTypes))
	for _, eventType := range models.EventTypes {
		types = append(types, "'"+string(eventType)+"'")
	}

	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS website_events(
	  id            INTEGER PRIMARY KEY,
	  received_at   INTEGER NOT NULL,
	  event_type    TEXT    NOT NULL CHECK (event_type IN (` + strings.Join(types, ",") + `)),
	  page_url      TEXT    NOT NULL,
	  element_id    TEXT,
	  element_text  TEXT,
	  user_agent    TEXT,
	  referrer      TEXT,
	  session_id    TEXT    NOT NULL,
	  user_id       TEXT,
	  metadata_json TEXT    NOT NULL CHECK (json_valid(metadata_json))
	);
	CREATE INDEX IF NOT EXISTS idx_website_events_session ON website_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_website_events_type    ON website_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_website_events_url     ON website_events(page_url);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Path() string {
	return d.path
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateEvent(event models.Event) error {
	if event.PageURL == "" {
		return fmt.Errorf("%w: page_url cannot be empty", ErrInvalidEvent)
	}
	if event.SessionID == "" {
		return fmt.Errorf("%w: session_id cannot be empty", ErrInvalidEvent)
	}
	if event.Type == "" {
		return fmt.Errorf("%w: event_type cannot be empty", ErrInvalidEvent)
	}
	if !d.validEventTypes[event.Type] {
		return fmt.Errorf("%w: unknown event type: %s", ErrInvalidEvent, event.Type)
	}
	return nil
}

// InsertEvents stores a batch atomically: one invalid event rejects the batch.
func (d *Database) InsertEvents(ctx context.Context, events []models.Event) error {
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx, `INSERT INTO website_events(
		received_at, event_type, page_url, element_id, element_text, user_agent, referrer,
		session_id, user_id, metadata_json) VALUES(?,?,?,?,?,?,?,?,?,json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	receivedAt := d.now().UnixMilli()
	for _, event := range events {
		if err := d.ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return err
		}

		metadata := event.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		jsonData, err := json.Marshal(metadata)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}

		var userID sql.NullString
		if id, ok := event.UserID.Value(); ok {
			userID = sql.NullString{String: id, Valid: true}
		}

		if _, err := statement.ExecContext(ctx, receivedAt, string(event.Type), event.PageURL,
			nullable(event.ElementID), nullable(event.ElementText), nullable(event.UserAgent),
			nullable(event.Referrer), event.SessionID, userID, string(jsonData)); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SessionEvents returns a session's events in arrival order. Stored rows carry
// no absent/null distinction for user_id: a missing id reads back as null.
func (d *Database) SessionEvents(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT event_type, page_url, element_id, element_text,
		user_agent, referrer, session_id, user_id, metadata_json
		FROM website_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		var eventType, metadataJSON string
		var elementID, elementText, userAgent, referrer, userID sql.NullString
		if err := rows.Scan(&eventType, &event.PageURL, &elementID, &elementText, &userAgent,
			&referrer, &event.SessionID, &userID, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = models.EventType(eventType)
		event.ElementID = elementID.String
		event.ElementText = elementText.String
		event.UserAgent = userAgent.String
		event.Referrer = referrer.String
		event.UserID = models.AnonymousUser()
		if userID.Valid {
			event.UserID = models.KnownUser(userID.String)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events, optionally of one type.
func (d *Database) CountEvents(ctx context.Context, eventType models.EventType) (int, error) {
	query := "SELECT COUNT(*) FROM website_events"
	var args []any
	if eventType != "" {
		query += " WHERE event_type = ?"
		args = append(args, string(eventType))
	}

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
