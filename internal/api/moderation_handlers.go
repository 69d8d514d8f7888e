package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/qwermap/qwermap/internal/moderation"
	"github.com/qwermap/qwermap/internal/place"
)

// ModerationHandlers serves the submission review endpoints.
type ModerationHandlers struct {
	workflow *moderation.Workflow
	logger   *slog.Logger
}

// NewModerationHandlers creates moderation handlers backed by the workflow.
func NewModerationHandlers(wf *moderation.Workflow, logger *slog.Logger) *ModerationHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationHandlers{workflow: wf, logger: logger}
}

// Queue handles GET /v1/moderation/queue: pending places newest-first as a
// bare array of detail payloads.
func (h *ModerationHandlers) Queue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	places, err := h.workflow.ListQueue(r.Context(), limit)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if places == nil {
		places = []*place.Place{}
	}

	writeJSON(w, http.StatusOK, places)
}

// moderateRequest is the PATCH body for a moderation decision.
type moderateRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Moderate handles PATCH /v1/moderation/places/{id}: a one-shot transition
// to approved or rejected, returning the full updated place.
func (h *ModerationHandlers) Moderate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, CategoryBadRequest,
			ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	updated, err := h.workflow.Moderate(r.Context(), id, req.Status, req.Reason)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}
