package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Retained security events; older entries are evicted on insert.
const eventLogCapacity = 1000

// SecurityEvent is one recorded security-relevant occurrence.
type SecurityEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Well-known event types.
const (
	EventTokenIssued      = "token_issued"
	EventTokenRejected    = "token_rejected"
	EventPermissionDenied = "permission_denied"
)

// EventRepository records and reads security events.
type EventRepository interface {
	// Log appends an event, evicting the oldest beyond the retention cap.
	Log(ctx context.Context, eventType string, details map[string]any) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]SecurityEvent, error)
}

// SQLiteEventRepository implements EventRepository using SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a SQLite-backed event log.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// Log appends an event and trims the log to its retention cap.
func (r *SQLiteEventRepository) Log(ctx context.Context, eventType string, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshalling event details: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO security_events (event_type, details, created_at)
		VALUES (?, ?, ?)`,
		eventType, string(detailsJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM security_events
		WHERE id NOT IN (
			SELECT id FROM security_events ORDER BY id DESC LIMIT ?
		)`, eventLogCapacity)
	if err != nil {
		return fmt.Errorf("trimming security events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing security event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *SQLiteEventRepository) Recent(ctx context.Context, limit int) ([]SecurityEvent, error) {
	if limit <= 0 || limit > eventLogCapacity {
		limit = eventLogCapacity
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, details, created_at
		FROM security_events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		var detailsJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.EventType, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning security event: %w", err)
		}

		if detailsJSON != "" && detailsJSON != "null" {
			if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshalling event details: %w", err)
			}
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating security events: %w", err)
	}
	return events, nil
}
