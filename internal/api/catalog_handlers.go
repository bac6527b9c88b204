package api

import (
	"encoding/json"
	"net/http"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// Catalog handlers: the shared task catalog outside any session

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.manager.Catalog(r.Context())
	if err != nil {
		respondServiceError(w, err, "list tasks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.NewTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	task, err := s.manager.CreateTask(r.Context(), req)
	if err != nil {
		respondServiceError(w, err, "create task")
		return
	}
	respondJSON(w, http.StatusCreated, task)
}
