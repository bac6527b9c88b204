package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/session"
	"github.com/terra-clan/apprentice-engine/internal/upstream"
	"github.com/terra-clan/apprentice-engine/internal/validation"
	"github.com/terra-clan/apprentice-engine/internal/workflow"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &apiError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, apiErr *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error:   apiErr,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// sentinel errors that map directly to a status and code
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{session.ErrSessionNotFound, http.StatusNotFound, "not_found"},
	{session.ErrTaskNotFound, http.StatusNotFound, "task_not_found"},
	{workflow.ErrMilestoneNotFound, http.StatusNotFound, "milestone_not_found"},
	{workflow.ErrProfileMissing, http.StatusPreconditionFailed, "profile_missing"},
	{workflow.ErrProfileExists, http.StatusConflict, "profile_exists"},
	{workflow.ErrNoTaskSelected, http.StatusConflict, "no_task_selected"},
	{workflow.ErrMilestonesLoading, http.StatusConflict, "milestones_loading"},
	{workflow.ErrMilestonesLoaded, http.StatusConflict, "milestones_loaded"},
	{workflow.ErrMilestoneLocked, http.StatusConflict, "milestone_locked"},
	{workflow.ErrGateClosed, http.StatusConflict, "gate_closed"},
	{workflow.ErrStaleResult, http.StatusConflict, "stale_result"},
}

// respondServiceError maps manager errors onto the response envelope
func respondServiceError(w http.ResponseWriter, err error, action string) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, &apiError{
			Code:    "validation_error",
			Message: verr.Error(),
			Fields:  verr.Fields,
		})
		return
	}

	var terr *workflow.ThresholdError
	if errors.As(err, &terr) {
		respondError(w, http.StatusUnprocessableEntity, "score_below_threshold", terr.Guidance())
		return
	}

	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			respondError(w, e.status, e.code, e.err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, upstream.ErrNetworkFailure), errors.Is(err, upstream.ErrPollExhausted):
		slog.Warn("upstream failure", "action", action, "error", err)
		respondError(w, http.StatusBadGateway, "network_failure", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		slog.Error("request failed", "action", action, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
