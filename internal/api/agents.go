package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/agentlink-core/internal/routing"
)

// registerRequest is the body of POST /agents/register.
type registerRequest struct {
	AgentID   string         `json:"agent_id"`
	AgentType string         `json:"agent_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// messageRequest is the body of POST /agents/message.
type messageRequest struct {
	TargetAgentID string         `json:"target_agent_id"`
	MessageType   string         `json:"message_type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// subscriptionRequest is the body of subscription mutations.
type subscriptionRequest struct {
	Pattern string `json:"pattern"`
}

// handleRegisterAgent registers the authenticated agent with the
// router. The registered identity comes from the token, not the body;
// the body supplies metadata only.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.AgentID != "" && req.AgentID != claims.AgentID {
		writeForbidden(w, "agent_id does not match token")
		return
	}

	if err := s.router.RegisterSubscriber(r.Context(), claims.AgentID, claims.AgentType, req.Metadata); err != nil {
		s.logger.Error("agent registration failed", "agent_id", claims.AgentID, "error", err)
		writeInternalError(w, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "registered",
		"agent_id": claims.AgentID,
	})
}

// handleUnregisterAgent removes an agent, its subscriptions and its
// live listener.
func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !s.requireSelf(w, r, agentID) {
		return
	}

	if err := s.router.UnregisterSubscriber(r.Context(), agentID); err != nil {
		if errors.Is(err, routing.ErrNotRegistered) {
			writeNotFound(w, "agent not registered")
			return
		}
		s.logger.Error("agent unregistration failed", "agent_id", agentID, "error", err)
		writeInternalError(w, "unregistration failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "unregistered",
		"agent_id": agentID,
	})
}

// handleGetAgent returns one agent registration.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	agent, err := s.router.Agent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, routing.ErrNotRegistered) {
			writeNotFound(w, "agent not registered")
			return
		}
		s.logger.Error("agent lookup failed", "agent_id", agentID, "error", err)
		writeInternalError(w, "agent lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleListAgents returns all registered agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.router.Agents(r.Context())
	if err != nil {
		s.logger.Error("agent list failed", "error", err)
		writeInternalError(w, "agent list failed")
		return
	}
	if agents == nil {
		agents = []routing.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// handleSendMessage enqueues a directed message from the authenticated
// agent. An unregistered target is accepted; the message waits in its
// history.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TargetAgentID == "" {
		writeBadRequest(w, "target_agent_id is required")
		return
	}
	if req.MessageType == "" {
		writeBadRequest(w, "message_type is required")
		return
	}

	err := s.router.EnqueueAgentMessage(r.Context(),
		claims.AgentID, req.TargetAgentID, req.MessageType, req.Payload, req.CorrelationID)
	if err != nil {
		s.logger.Error("message enqueue failed",
			"source", claims.AgentID, "target", req.TargetAgentID, "error", err)
		writeInternalError(w, "message enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

// handleSubscribe adds a topic pattern subscription for an agent.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !s.requireSelf(w, r, agentID) {
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.router.Subscribe(r.Context(), agentID, req.Pattern); err != nil {
		if errors.Is(err, routing.ErrInvalidPattern) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("subscribe failed", "agent_id", agentID, "pattern", req.Pattern, "error", err)
		writeInternalError(w, "subscribe failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "subscribed",
		"pattern": req.Pattern,
	})
}

// handleUnsubscribe removes a topic pattern subscription.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !s.requireSelf(w, r, agentID) {
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.router.Unsubscribe(r.Context(), agentID, req.Pattern); err != nil {
		s.logger.Error("unsubscribe failed", "agent_id", agentID, "pattern", req.Pattern, "error", err)
		writeInternalError(w, "unsubscribe failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "unsubscribed",
		"pattern": req.Pattern,
	})
}

// handleListSubscriptions returns the agent's own patterns.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !s.requireSelf(w, r, agentID) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"patterns": s.router.Registry().Patterns(agentID),
	})
}

// handleHistory returns an agent's recent deliveries. The class query
// parameter selects agent messages (default) or device data.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !s.requireSelf(w, r, agentID) {
		return
	}

	class := routing.KindAgentMessage
	switch r.URL.Query().Get("class") {
	case "", string(routing.KindAgentMessage):
	case string(routing.KindDeviceData):
		class = routing.KindDeviceData
	default:
		writeBadRequest(w, "class must be agent_message or device_data")
		return
	}

	records, err := s.router.History(r.Context(), agentID, class, parseLimit(r, 0))
	if err != nil {
		s.logger.Error("history query failed", "agent_id", agentID, "error", err)
		writeInternalError(w, "history query failed")
		return
	}
	if records == nil {
		records = []routing.DeliveryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"class":    class,
		"records":  records,
	})
}

// requireSelf ensures the authenticated agent is operating on its own
// resources. Writes a 403 and returns false otherwise.
func (s *Server) requireSelf(w http.ResponseWriter, r *http.Request, agentID string) bool {
	claims := claimsFrom(r.Context())
	if claims == nil || claims.AgentID != agentID {
		writeForbidden(w, "token does not match agent")
		return false
	}
	return true
}

// parseLimit reads a "limit" query parameter, returning fallback when
// absent or malformed.
func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}
