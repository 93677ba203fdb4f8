// Package handlers implements the fusiond HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/helixsec/fusion/internal/httputil"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/models"
	"github.com/helixsec/fusion/internal/pipeline"
	"github.com/helixsec/fusion/internal/repository"
)

// Service is the pipeline surface the API exposes.
type Service interface {
	Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error)
	GetRoutedGroup(ctx context.Context, groupID string) (*models.RoutedGroup, error)
	Confirm(ctx context.Context, groupID, approvedBy string) error
}

type Handler struct {
	pipeline Service
	log      *logging.Logger
}

func NewHandler(p Service, log *logging.Logger) *Handler {
	return &Handler{pipeline: p, log: log}
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// IngestAlert handles POST /api/v1/alerts
func (h *Handler) IngestAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SourceSystem == "" {
		httputil.WriteError(w, http.StatusBadRequest, "source_system is required")
		return
	}

	resp, err := h.pipeline.Ingest(r.Context(), &req)
	if err != nil {
		if errors.Is(err, pipeline.ErrIngestionPaused) {
			w.Header().Set("Retry-After", "10")
			httputil.WriteError(w, http.StatusServiceUnavailable, "ingestion paused, retry later")
			return
		}
		h.log.ErrorContext(r.Context(), "ingest failed", "source", req.SourceSystem, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to ingest alert")
		return
	}

	switch {
	case resp.Failure != "":
		// The raw payload was escalated to a human, not dropped, but the
		// sender still learns its feed is broken.
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, resp)
	case resp.Duplicate:
		httputil.WriteJSON(w, http.StatusOK, resp)
	default:
		httputil.WriteJSON(w, http.StatusAccepted, resp)
	}
}

// GetGroup handles GET /api/v1/groups/:id
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/groups/")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Group ID required")
		return
	}

	record, err := h.pipeline.GetRoutedGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Group not found")
			return
		}
		h.log.ErrorContext(r.Context(), "group lookup failed", "group_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to load group")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

type confirmRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// ConfirmGroup handles POST /api/v1/groups/:id/confirm
func (h *Handler) ConfirmGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/groups/")
	id := strings.TrimSuffix(path, "/confirm")
	if id == "" || id == path {
		httputil.WriteError(w, http.StatusBadRequest, "Group ID required")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ApprovedBy == "" {
		httputil.WriteError(w, http.StatusBadRequest, "approved_by is required")
		return
	}

	if err := h.pipeline.Confirm(r.Context(), id, req.ApprovedBy); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Group not found")
			return
		}
		h.log.ErrorContext(r.Context(), "confirm failed", "group_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to confirm group")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
