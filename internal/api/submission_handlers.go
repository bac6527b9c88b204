package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// maxUploadSize caps a submitted artifact
const maxUploadSize = 10 << 20

// Body limits per encoding. JSON carries the artifact base64 encoded.
var (
	maxMultipartBody = int64(maxUploadSize + 1<<20)
	maxJSONBody      = int64(base64.StdEncoding.EncodedLen(maxUploadSize) + 1<<10)
)

// readSubmission extracts the optional artifact. Multipart requests carry it
// in the "file" field, JSON requests as base64 "file_content".
func readSubmission(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		file, _, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid file field: %w", err)
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadSize))
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req models.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if len(req.FileContent) > maxUploadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadSize)
	}
	return req.FileContent, nil
}

func (s *Server) handleSubmitMilestone(w http.ResponseWriter, r *http.Request) {
	milestoneID := chi.URLParam(r, "milestoneId")
	if milestoneID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "milestone id is required")
		return
	}

	file, err := readSubmission(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.manager.SubmitMilestone(r.Context(), SessionIDFromContext(r.Context()), milestoneID, file)
	if err != nil {
		respondServiceError(w, err, "review milestone")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSubmitFinal(w http.ResponseWriter, r *http.Request) {
	file, err := readSubmission(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.manager.SubmitFinal(r.Context(), SessionIDFromContext(r.Context()), file)
	if err != nil {
		respondServiceError(w, err, "review final project")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleForwardToCompany(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.ForwardToCompany(r.Context(), SessionIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err, "submit to company")
		return
	}
	respondJSON(w, http.StatusOK, res)
}
