package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/agentlink-core/internal/auth"
	"github.com/nerrad567/agentlink-core/internal/transform"
)

// queryRequest is the body of POST /iot/query.
type queryRequest struct {
	DeviceType  string         `json:"device_type"`
	QueryParams map[string]any `json:"query_params,omitempty"`
}

// controlRequest is the body of POST /iot/control.
type controlRequest struct {
	DeviceID string         `json:"device_id"`
	Command  map[string]any `json:"command"`
}

// handleQueryDevices returns the latest readings of one device type,
// filtered by the request's query parameters. Requires device read
// permission; a device type never seen yields an empty result.
func (s *Server) handleQueryDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if !s.requirePermission(w, r, claims, auth.ActionRead) {
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceType == "" {
		writeBadRequest(w, "device_type is required")
		return
	}

	query := transform.QueryToBroker(req.QueryParams)
	readings := s.cache.Query(req.DeviceType, transform.FilterFromQuery(query))

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   transform.AgentReadings(readings),
	})
}

// handleControlDevice publishes a command to one device. Requires
// device control permission; the publish is fire-and-forget.
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if !s.requirePermission(w, r, claims, auth.ActionControl) {
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	if len(req.Command) == 0 {
		writeBadRequest(w, "command is required")
		return
	}

	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "device control unavailable")
		return
	}

	payload, err := json.Marshal(transform.CommandToBroker(req.Command))
	if err != nil {
		writeInternalError(w, "encoding command failed")
		return
	}
	if err := s.broker.PublishCommand(req.DeviceID, payload); err != nil {
		s.logger.Error("command publish failed", "device_id", req.DeviceID, "error", err)
		writeInternalError(w, "command publish failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"device_id": req.DeviceID,
	})
}

// requirePermission checks an action against the authenticated agent's
// type, recording a security event on denial.
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, claims *auth.AgentClaims, action auth.Action) bool {
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return false
	}

	if !auth.CheckPermission(claims.AgentType, auth.ResourceDevice, action) {
		s.logEvent(r.Context(), auth.EventPermissionDenied, map[string]any{
			"agent_id":   claims.AgentID,
			"agent_type": claims.AgentType,
			"action":     string(action),
		})
		writeForbidden(w, "agent not authorized")
		return false
	}
	return true
}
