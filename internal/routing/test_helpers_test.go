package routing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the routing schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	// Each pooled connection would get its own in-memory database;
	// single connection also matches the production writer setup.
	db.SetMaxOpenConns(1)

	// Matches the initial migration
	schema := `
		CREATE TABLE delivery_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			envelope TEXT NOT NULL,
			enqueued_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_delivery_queue_order ON delivery_queue(queue, id);

		CREATE TABLE delivery_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient_id TEXT NOT NULL,
			class TEXT NOT NULL,
			envelope TEXT NOT NULL,
			enqueued_at TEXT NOT NULL,
			delivered_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_delivery_history_window ON delivery_history(recipient_id, class, id);

		CREATE TABLE subscriptions (
			pattern TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (pattern, agent_id)
		) STRICT;
		CREATE INDEX idx_subscriptions_agent ON subscriptions(agent_id);

		CREATE TABLE agents (
			id TEXT PRIMARY KEY,
			agent_type TEXT NOT NULL,
			metadata TEXT,
			registered_at TEXT NOT NULL
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}
