package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// sessionContext resolves the {id} path parameter to a live session and
// refreshes its idle TTL. Unknown sessions are rejected before any handler
// runs.
func (s *Server) sessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
			return
		}

		if _, err := s.manager.Get(r.Context(), id); err != nil {
			slog.Debug("session lookup failed", "session_id", id, "error", err)
			respondServiceError(w, err, "load session")
			return
		}

		ctx := ContextWithSessionID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
