package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Create(r.Context())
	if err != nil {
		respondServiceError(w, err, "create session")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.Context(), SessionIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err, "get session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := SessionIDFromContext(r.Context())
	if err := s.manager.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err, "delete session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "session deleted",
	})
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var req models.NewProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sess, err := s.manager.SetProfile(r.Context(), SessionIDFromContext(r.Context()), req)
	if err != nil {
		respondServiceError(w, err, "save profile")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessionTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.manager.ListTasks(r.Context(), SessionIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err, "list tasks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func (s *Server) handleSelectTask(w http.ResponseWriter, r *http.Request) {
	var req models.SelectTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.TaskID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "task_id is required")
		return
	}

	id := SessionIDFromContext(r.Context())
	sess, err := s.manager.SelectTask(r.Context(), id, req.TaskID, wantWait(r))
	if err != nil {
		respondServiceError(w, err, "select task")
		return
	}

	status := http.StatusOK
	if sess.State == models.StateLoadingMilestones {
		status = http.StatusAccepted
	}
	respondJSON(w, status, sess)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Regenerate(r.Context(), SessionIDFromContext(r.Context()), wantWait(r))
	if err != nil {
		respondServiceError(w, err, "regenerate milestones")
		return
	}

	status := http.StatusOK
	if sess.State == models.StateLoadingMilestones {
		status = http.StatusAccepted
	}
	respondJSON(w, status, sess)
}

func (s *Server) handleReturnToCatalog(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.ReturnToCatalog(r.Context(), SessionIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err, "return to catalog")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// wantWait reads the ?wait= flag; anything unparsable counts as false
func wantWait(r *http.Request) bool {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return false
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Debug("ignoring invalid wait flag", "value", raw)
		return false
	}
	return wait
}
