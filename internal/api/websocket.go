package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/agentlink-core/internal/infrastructure/config"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/agentlink-core/internal/routing"
)

// WebSocket message types.
const (
	WSTypeEvent = "event"
	WSTypePing  = "ping"
	WSTypePong  = "pong"
	WSTypeError = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections keyed by agent and delivers routed
// envelopes to them. It implements routing.Transport.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	byAgent map[string]map[*WSClient]struct{}
}

// WSClient represents one connected agent socket. The send channel is
// guarded so a delivery cannot race the close that happens on
// disconnect or shutdown.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	agentID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// upgrader configures the WebSocket upgrader. Origin checking is
// handled by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
		byAgent: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	if h.byAgent[client.agentID] == nil {
		h.byAgent[client.agentID] = make(map[*WSClient]struct{})
	}
	h.byAgent[client.agentID][client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "agent_id", client.agentID, "clients", h.ClientCount())
}

// Unregister removes a client from the hub. Only the goroutine that
// removes the client from the map closes the send channel, preventing
// double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	if agents, ok := h.byAgent[client.agentID]; ok {
		delete(agents, client)
		if len(agents) == 0 {
			delete(h.byAgent, client.agentID)
		}
	}
	h.mu.Unlock()

	if existed {
		client.closeSend()
	}
	h.logger.Debug("websocket client disconnected", "agent_id", client.agentID, "clients", h.ClientCount())
}

// Push delivers a routed record to every socket the recipient holds.
// Returns routing-tolerated errors only; an agent with no open socket
// is not an error, the record is already in history.
func (h *Hub) Push(_ context.Context, agentID string, rec routing.DeliveryRecord) error {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.byAgent[agentID]))
	for client := range h.byAgent[agentID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return nil
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: string(rec.Envelope.Kind),
		Timestamp: rec.DeliveredAt.UTC().Format(time.RFC3339),
		Payload:   rec,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	for _, client := range clients {
		client.trySend(data)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels so
// writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.byAgent = make(map[string]map[*WSClient]struct{})
}

// handleWebSocket upgrades the connection for the authenticated agent.
// The agent's identity comes from the bearer token; there is no
// per-socket subscription state, topic subscriptions live in the
// routing registry.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "agent_id", claims.AgentID, "error", err)
		return
	}

	client := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		agentID: claims.AgentID,
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// trySend offers a message to the client without blocking. A client
// whose buffer is full misses the message; history covers the gap.
// Sending to a client that disconnected mid-delivery is a silent no-op.
func (c *WSClient) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("websocket send buffer full, dropping message", "agent_id", c.agentID)
	}
}

// closeSend closes the send channel exactly once so writePump exits.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "agent_id", c.agentID, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "agent_id", c.agentID, "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// handleMessage processes one inbound client message. Only
// application-level pings are recognized.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.respond(WSMessage{Type: WSTypeError, Payload: "invalid message"})
		return
	}

	if msg.Type == WSTypePing {
		c.respond(WSMessage{
			Type:      WSTypePong,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (c *WSClient) respond(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write failure surfaces via readPump teardown
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Write failure surfaces via readPump teardown
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
