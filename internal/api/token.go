package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/agentlink-core/internal/auth"
)

// tokenRequest is the body of POST /auth/token.
type tokenRequest struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// handleIssueToken issues a signed agent token. Issuance is the point
// where an agent's type is bound to its identity; every later
// permission check trusts the type in the token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.AgentID == "" || req.AgentType == "" {
		writeBadRequest(w, "agent_id and agent_type are required")
		return
	}

	token, err := auth.GenerateAgentToken(req.AgentID, req.AgentType, s.secCfg.JWT.Secret, s.secCfg.JWT.TokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "agent_id", req.AgentID, "error", err)
		writeInternalError(w, "token generation failed")
		return
	}

	s.logEvent(r.Context(), auth.EventTokenIssued, map[string]any{
		"agent_id":   req.AgentID,
		"agent_type": req.AgentType,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"agent_id":   req.AgentID,
		"agent_type": req.AgentType,
	})
}

// handleSecurityEvents returns recent security events, newest first.
func (s *Server) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []auth.SecurityEvent{}})
		return
	}

	events, err := s.events.Recent(r.Context(), parseLimit(r, 100))
	if err != nil {
		s.logger.Error("security events query failed", "error", err)
		writeInternalError(w, "querying security events failed")
		return
	}
	if events == nil {
		events = []auth.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
