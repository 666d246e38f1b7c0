package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryRepository records delivered envelopes per recipient. Each
// (recipient, class) pair keeps a bounded window: appending beyond the
// capacity evicts the oldest records.
type HistoryRepository interface {
	// Append stores one delivery and trims the (recipient, class) window
	// to capacity.
	Append(ctx context.Context, rec DeliveryRecord, capacity int) error

	// Recent returns up to limit deliveries for a recipient and class,
	// newest first. limit <= 0 means no limit beyond the stored window.
	Recent(ctx context.Context, recipientID string, class Kind, limit int) ([]DeliveryRecord, error)

	// Count returns the stored record count for a (recipient, class) pair.
	Count(ctx context.Context, recipientID string, class Kind) (int, error)
}

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a SQLite-backed history store.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Append stores one delivery and evicts the oldest records beyond
// capacity. The insert and the trim commit together, so a crash cannot
// leave the window over capacity by more than it ever reports.
func (r *SQLiteHistoryRepository) Append(ctx context.Context, rec DeliveryRecord, capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("history capacity must be at least 1, got %d", capacity)
	}

	data, err := json.Marshal(rec.Envelope)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO delivery_history (recipient_id, class, envelope, enqueued_at, delivered_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.RecipientID,
		string(rec.Envelope.Kind),
		string(data),
		rec.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		rec.DeliveredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM delivery_history
		WHERE recipient_id = ? AND class = ?
		AND id NOT IN (
			SELECT id FROM delivery_history
			WHERE recipient_id = ? AND class = ?
			ORDER BY id DESC
			LIMIT ?
		)`,
		rec.RecipientID, string(rec.Envelope.Kind),
		rec.RecipientID, string(rec.Envelope.Kind),
		capacity,
	)
	if err != nil {
		return fmt.Errorf("trimming history window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history append: %w", err)
	}
	return nil
}

// Recent returns up to limit deliveries for a recipient and class,
// newest first.
func (r *SQLiteHistoryRepository) Recent(ctx context.Context, recipientID string, class Kind, limit int) ([]DeliveryRecord, error) {
	query := `
		SELECT recipient_id, envelope, enqueued_at, delivered_at
		FROM delivery_history
		WHERE recipient_id = ? AND class = ?
		ORDER BY id DESC`
	args := []any{recipientID, string(class)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var data, enqueued, delivered string
		if err := rows.Scan(&rec.RecipientID, &data, &enqueued, &delivered); err != nil {
			return nil, fmt.Errorf("scanning history record: %w", err)
		}

		if err := json.Unmarshal([]byte(data), &rec.Envelope); err != nil {
			return nil, fmt.Errorf("unmarshalling history envelope: %w", err)
		}
		if rec.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueued); err != nil {
			return nil, fmt.Errorf("parsing enqueued_at: %w", err)
		}
		if rec.DeliveredAt, err = time.Parse(time.RFC3339Nano, delivered); err != nil {
			return nil, fmt.Errorf("parsing delivered_at: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return records, nil
}

// Count returns the stored record count for a (recipient, class) pair.
func (r *SQLiteHistoryRepository) Count(ctx context.Context, recipientID string, class Kind) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delivery_history WHERE recipient_id = ? AND class = ?",
		recipientID, string(class)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return count, nil
}
