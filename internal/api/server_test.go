package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/agentlink-core/internal/auth"
	"github.com/nerrad567/agentlink-core/internal/devicedata"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/config"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/agentlink-core/internal/routing"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

// setupTestDB creates an in-memory SQLite database with the full schema
// the handlers touch.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE delivery_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			envelope TEXT NOT NULL,
			enqueued_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE delivery_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient_id TEXT NOT NULL,
			class TEXT NOT NULL,
			envelope TEXT NOT NULL,
			enqueued_at TEXT NOT NULL,
			delivered_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE subscriptions (
			pattern TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (pattern, agent_id)
		) STRICT;

		CREATE TABLE agents (
			id TEXT PRIMARY KEY,
			agent_type TEXT NOT NULL,
			metadata TEXT,
			registered_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE security_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		) STRICT;`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// testServer builds a Server over a real routing.Router with in-memory
// storage. The routing drain loops are not started; handlers only
// enqueue and read.
func testServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)

	router := routing.NewRouter(routing.Deps{
		Registry:    routing.NewSubscriptionRegistry(routing.NewSQLiteSubscriptionRepository(db)),
		Agents:      routing.NewSQLiteAgentRepository(db),
		History:     routing.NewSQLiteHistoryRepository(db),
		AgentQueue:  routing.NewDeliveryQueue(db, routing.QueueAgentMessages),
		DeviceQueue: routing.NewDeliveryQueue(db, routing.QueueDeviceData),
	})

	cache := devicedata.NewCache()

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, TokenTTL: 60},
		},
		Logger:  logging.Default(),
		Router:  router,
		Cache:   cache,
		Events:  auth.NewSQLiteEventRepository(db),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return srv, db
}

func agentToken(t *testing.T, agentID, agentType string) string {
	t.Helper()
	token, err := auth.GenerateAgentToken(agentID, agentType, testSecret, 60)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
	if body["devices"] != float64(0) {
		t.Errorf("devices = %v, want 0", body["devices"])
	}
	if _, ok := body["last_reading"]; ok {
		t.Error("last_reading should be absent before any reading arrives")
	}

	srv.cache.Update("temperature", "temp-1", map[string]any{"temperature": 21.0}, time.Now())

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/health", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", body["devices"])
	}
	if _, ok := body["last_reading"]; !ok {
		t.Error("last_reading should be reported once a reading is cached")
	}
}

func TestIssueToken(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "", map[string]any{
		"agent_id":   "monitor-1",
		"agent_type": "monitoring",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	token, _ := body["token"].(string)
	claims, err := auth.ParseAgentToken(token, testSecret)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.AgentID != "monitor-1" || claims.AgentType != "monitoring" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssueTokenValidation(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "", map[string]any{
		"agent_id": "monitor-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing agent_type status = %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/agents/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token list status = %d, want 401", rec.Code)
	}
}

func TestRegisterAndGetAgent(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "monitor-1", "monitoring")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/agents/register", token, map[string]any{
		"metadata": map[string]any{"version": "1.0"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/monitor-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	var agent routing.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agent); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if agent.ID != "monitor-1" || agent.AgentType != "monitoring" {
		t.Errorf("agent = %+v", agent)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/ghost", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}

func TestRegisterMismatchedIdentity(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "monitor-1", "monitoring")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/agents/register", token, map[string]any{
		"agent_id": "somebody-else",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("mismatched register status = %d, want 403", rec.Code)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "monitor-1", "monitoring")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/agents/monitor-1/subscriptions", token,
		map[string]any{"pattern": "devices/+/+/data"})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d: %s", rec.Code, rec.Body.String())
	}

	// Malformed pattern is rejected synchronously
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/agents/monitor-1/subscriptions", token,
		map[string]any{"pattern": "devices/#/data"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid pattern status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/monitor-1/subscriptions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var body struct {
		Patterns []string `json:"patterns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Patterns) != 1 || body.Patterns[0] != "devices/+/+/data" {
		t.Errorf("patterns = %v", body.Patterns)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/agents/monitor-1/subscriptions", token,
		map[string]any{"pattern": "devices/+/+/data"})
	if rec.Code != http.StatusOK {
		t.Errorf("unsubscribe status = %d", rec.Code)
	}

	// Another agent's token may not mutate or read monitor-1's subscriptions
	other := agentToken(t, "intruder", "monitoring")
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/agents/monitor-1/subscriptions", other,
		map[string]any{"pattern": "devices/#"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-agent subscribe status = %d, want 403", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/monitor-1/subscriptions", other, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-agent list status = %d, want 403", rec.Code)
	}
}

func TestSendMessageQueues(t *testing.T) {
	srv, db := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "control-1", "control")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/agents/message", token, map[string]any{
		"target_agent_id": "monitor-1",
		"message_type":    "status_update",
		"payload":         map[string]any{"state": "ok"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("message status = %d: %s", rec.Code, rec.Body.String())
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM delivery_queue WHERE queue = ?",
		routing.QueueAgentMessages).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("queued %d envelopes, want 1", count)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/agents/message", token, map[string]any{
		"message_type": "status_update",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing target status = %d, want 400", rec.Code)
	}
}

func TestQueryDevices(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "monitor-1", "monitoring")

	srv.cache.Update("temperature_sensor", "temp-1",
		map[string]any{"temperature": 22.5, "location": "greenhouse"}, time.Now().UTC())
	srv.cache.Update("temperature_sensor", "temp-2",
		map[string]any{"temperature": 18.0, "location": "warehouse"}, time.Now().UTC())

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/iot/query", token, map[string]any{
		"device_type":  "temperature_sensor",
		"query_params": map[string]any{"time_range": "last_hour", "location": "greenhouse"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Status string `json:"status"`
		Data   struct {
			Devices map[string]map[string]any `json:"devices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Data.Devices) != 1 {
		t.Fatalf("devices = %v, want temp-1 only", body.Data.Devices)
	}
	if body.Data.Devices["temp-1"]["temperature"] != 22.5 {
		t.Errorf("temp-1 = %v", body.Data.Devices["temp-1"])
	}
}

func TestQueryUnknownDeviceTypeEmpty(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "monitor-1", "monitoring")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/iot/query", token, map[string]any{
		"device_type": "never_seen",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d", rec.Code)
	}

	var body struct {
		Data struct {
			Devices map[string]any `json:"devices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Data.Devices) != 0 {
		t.Errorf("devices = %v, want empty", body.Data.Devices)
	}
}

func TestControlPermissions(t *testing.T) {
	srv, db := testServer(t)
	handler := srv.buildRouter()

	// Monitoring agents may not control devices.
	monitor := agentToken(t, "monitor-1", "monitoring")
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/iot/control", monitor, map[string]any{
		"device_id": "lamp-1",
		"command":   map[string]any{"action": "toggle"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("monitoring control status = %d, want 403", rec.Code)
	}

	// Denial is recorded as a security event.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM security_events WHERE event_type = ?",
		auth.EventPermissionDenied).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("permission_denied events = %d, want 1", count)
	}

	// Control agents may, but without a broker the request is rejected
	// as unavailable rather than forbidden.
	control := agentToken(t, "control-1", "control")
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/iot/control", control, map[string]any{
		"device_id": "lamp-1",
		"command":   map[string]any{"action": "toggle"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("control without broker status = %d, want 503", rec.Code)
	}

	// Query permission: control agents hold no read grant.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/iot/query", control, map[string]any{
		"device_type": "temperature_sensor",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("control query status = %d, want 403", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, db := testServer(t)
	handler := srv.buildRouter()
	token := agentToken(t, "monitor-1", "monitoring")

	// Seed history directly through the repository.
	repo := routing.NewSQLiteHistoryRepository(db)
	rec0 := routing.DeliveryRecord{
		RecipientID: "monitor-1",
		Envelope: routing.Envelope{
			ID:            "env-1",
			Kind:          routing.KindAgentMessage,
			SourceAgentID: "control-1",
			TargetAgentID: "monitor-1",
			MessageType:   "status_update",
			Timestamp:     time.Now().UTC(),
		},
		EnqueuedAt:  time.Now().UTC(),
		DeliveredAt: time.Now().UTC(),
	}
	if err := repo.Append(context.Background(), rec0, 100); err != nil {
		t.Fatalf("seeding history: %v", err)
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/agents/monitor-1/history?class=agent_message", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Records []routing.DeliveryRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Records) != 1 || body.Records[0].Envelope.ID != "env-1" {
		t.Errorf("records = %+v", body.Records)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/monitor-1/history?class=bogus", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus class status = %d, want 400", rec.Code)
	}

	// History is private to the agent.
	other := agentToken(t, "intruder", "monitoring")
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/agents/monitor-1/history", other, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-agent history status = %d, want 403", rec.Code)
	}
}

func TestSecurityEventsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.buildRouter()

	// Token issuance logs an event.
	doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "", map[string]any{
		"agent_id":   "monitor-1",
		"agent_type": "monitoring",
	})

	token := agentToken(t, "monitor-1", "monitoring")
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/security/events", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}

	var body struct {
		Events []auth.SecurityEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].EventType != auth.EventTokenIssued {
		t.Errorf("events = %+v", body.Events)
	}
}
