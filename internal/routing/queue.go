package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queue names stored in the delivery_queue table.
const (
	QueueAgentMessages = "agent_messages"
	QueueDeviceData    = "device_data"
)

// DeliveryQueue is a durable FIFO backed by SQLite. Enqueue commits a row
// before returning, so pending envelopes survive a restart. A notify
// channel wakes the drain loop without polling; Dequeue also retries on a
// bounded timer so envelopes enqueued by a previous process run are still
// picked up.
//
// Enqueue is safe for concurrent use. Dequeue is intended for a single
// consumer per queue; FIFO order is only meaningful with one drainer.
type DeliveryQueue struct {
	db     *sql.DB
	name   string
	notify chan struct{}
}

// NewDeliveryQueue creates a queue over an open database. name selects
// the logical queue within the shared table.
func NewDeliveryQueue(db *sql.DB, name string) *DeliveryQueue {
	return &DeliveryQueue{
		db:     db,
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

// Name returns the logical queue name.
func (q *DeliveryQueue) Name() string {
	return q.name
}

// Enqueue appends an envelope to the tail of the queue. The envelope is
// durable once Enqueue returns nil.
func (q *DeliveryQueue) Enqueue(ctx context.Context, env Envelope) error {
	if env.ID == "" {
		return fmt.Errorf("%w: missing envelope ID", ErrInvalidEnvelope)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	query := `
		INSERT INTO delivery_queue (queue, envelope, enqueued_at)
		VALUES (?, ?, ?)`

	_, err = q.db.ExecContext(ctx, query, q.name, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueueing envelope: %w", err)
	}

	// Wake the drainer if it is waiting. The channel holds one pending
	// wakeup; a full channel means a wakeup is already queued.
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the oldest envelope. If the queue is empty
// it waits up to wait for a new envelope, then returns (nil, nil, nil).
// An empty result is normal operation, not an error. Context cancellation
// ends the wait with ctx.Err().
func (q *DeliveryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Envelope, time.Time, error) {
	env, enqueuedAt, err := q.pop(ctx)
	if err != nil || env != nil {
		return env, enqueuedAt, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, time.Time{}, ctx.Err()
	case <-q.notify:
	case <-timer.C:
	}

	return q.pop(ctx)
}

// Len returns the number of pending envelopes.
func (q *DeliveryQueue) Len(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delivery_queue WHERE queue = ?", q.name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting queue %s: %w", q.name, err)
	}
	return count, nil
}

// pop atomically removes the head row. Returns (nil, zero, nil) when the
// queue is empty.
func (q *DeliveryQueue) pop(ctx context.Context) (*Envelope, time.Time, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("beginning pop transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var id int64
	var data, enqueued string
	row := tx.QueryRowContext(ctx, `
		SELECT id, envelope, enqueued_at FROM delivery_queue
		WHERE queue = ?
		ORDER BY id
		LIMIT 1`, q.name)
	if err := row.Scan(&id, &data, &enqueued); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("scanning queue head: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM delivery_queue WHERE id = ?", id); err != nil {
		return nil, time.Time{}, fmt.Errorf("deleting queue head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, time.Time{}, fmt.Errorf("committing pop: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshalling envelope: %w", err)
	}

	enqueuedAt, err := time.Parse(time.RFC3339Nano, enqueued)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parsing enqueued_at: %w", err)
	}

	return &env, enqueuedAt, nil
}
