package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SubscriptionRepository persists agent subscriptions so the registry
// survives a restart. The in-memory registry remains the source of truth
// for resolution; the repository is write-through storage.
type SubscriptionRepository interface {
	// Add records a subscription. Adding an existing pair is a no-op.
	Add(ctx context.Context, pattern, agentID string) error

	// Remove deletes one subscription. Removing an absent pair is a no-op.
	Remove(ctx context.Context, pattern, agentID string) error

	// RemoveAgent deletes all subscriptions held by an agent.
	RemoveAgent(ctx context.Context, agentID string) error

	// List returns every stored subscription.
	List(ctx context.Context) ([]Subscription, error)
}

// AgentRepository persists agent registrations.
type AgentRepository interface {
	// Upsert inserts or replaces an agent registration.
	Upsert(ctx context.Context, agent Agent) error

	// Get retrieves an agent by ID. Returns ErrNotRegistered if absent.
	Get(ctx context.Context, id string) (*Agent, error)

	// Exists reports whether an agent is registered.
	Exists(ctx context.Context, id string) (bool, error)

	// Delete removes an agent registration. Deleting an absent agent
	// returns ErrNotRegistered.
	Delete(ctx context.Context, id string) error

	// List returns all registered agents.
	List(ctx context.Context) ([]Agent, error)
}

// SQLiteSubscriptionRepository implements SubscriptionRepository using SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a SQLite-backed subscription store.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// Add records a subscription.
func (r *SQLiteSubscriptionRepository) Add(ctx context.Context, pattern, agentID string) error {
	query := `
		INSERT OR IGNORE INTO subscriptions (pattern, agent_id, created_at)
		VALUES (?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, pattern, agentID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// Remove deletes one subscription.
func (r *SQLiteSubscriptionRepository) Remove(ctx context.Context, pattern, agentID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE pattern = ? AND agent_id = ?", pattern, agentID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// RemoveAgent deletes all subscriptions held by an agent.
func (r *SQLiteSubscriptionRepository) RemoveAgent(ctx context.Context, agentID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE agent_id = ?", agentID)
	if err != nil {
		return fmt.Errorf("deleting agent subscriptions: %w", err)
	}
	return nil
}

// List returns every stored subscription.
func (r *SQLiteSubscriptionRepository) List(ctx context.Context) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT pattern, agent_id FROM subscriptions ORDER BY agent_id, pattern")
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.Pattern, &s.AgentID); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

// SQLiteAgentRepository implements AgentRepository using SQLite.
type SQLiteAgentRepository struct {
	db *sql.DB
}

// NewSQLiteAgentRepository creates a SQLite-backed agent store.
func NewSQLiteAgentRepository(db *sql.DB) *SQLiteAgentRepository {
	return &SQLiteAgentRepository{db: db}
}

// Upsert inserts or replaces an agent registration. Re-registering an
// existing agent refreshes its type and metadata but keeps the original
// registration timestamp.
func (r *SQLiteAgentRepository) Upsert(ctx context.Context, agent Agent) error {
	metaJSON, err := json.Marshal(agent.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling agent metadata: %w", err)
	}

	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agents (id, agent_type, metadata, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET agent_type = excluded.agent_type,
			metadata = excluded.metadata`

	_, err = r.db.ExecContext(ctx, query,
		agent.ID,
		agent.AgentType,
		string(metaJSON),
		agent.RegisteredAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by ID.
func (r *SQLiteAgentRepository) Get(ctx context.Context, id string) (*Agent, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, agent_type, metadata, registered_at FROM agents WHERE id = ?", id)

	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// Exists reports whether an agent is registered.
func (r *SQLiteAgentRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking agent exists: %w", err)
	}
	return count > 0, nil
}

// Delete removes an agent registration.
func (r *SQLiteAgentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotRegistered
	}
	return nil
}

// List returns all registered agents.
func (r *SQLiteAgentRepository) List(ctx context.Context) ([]Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, agent_type, metadata, registered_at FROM agents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, *agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(scanner rowScanner) (*Agent, error) {
	var a Agent
	var metaJSON, registeredAt string

	if err := scanner.Scan(&a.ID, &a.AgentType, &metaJSON, &registeredAt); err != nil {
		return nil, err
	}

	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling agent metadata: %w", err)
		}
	}

	ts, err := time.Parse(time.RFC3339, registeredAt)
	if err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	a.RegisteredAt = ts

	return &a, nil
}
