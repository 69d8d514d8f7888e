// Package api provides HTTP API handlers for the place directory.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/qwermap/qwermap/internal/middleware"
	"github.com/qwermap/qwermap/internal/place"
	"github.com/qwermap/qwermap/internal/registry"
)

// DefaultRadiusMeters is the proximity search radius applied when the
// request does not specify one.
const DefaultRadiusMeters = 50000

// PlaceHandlers serves the place submission, lookup, query, and upvote
// endpoints.
type PlaceHandlers struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewPlaceHandlers creates place handlers backed by the given registry.
func NewPlaceHandlers(reg *registry.Registry, logger *slog.Logger) *PlaceHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaceHandlers{registry: reg, logger: logger}
}

// queryResponse is the paginated proximity query payload.
type queryResponse struct {
	Places []place.Summary `json:"places"`
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// Query handles GET /v1/places. lat and lon are required; radius defaults to
// 50 km. Results are summaries ordered nearest-first.
func (h *PlaceHandlers) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	radius := float64(DefaultRadiusMeters)
	if raw := q.Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			WriteDomainError(w, r, place.NewValidationError("radius", "INVALID_COORDS", "radius must be a number"))
			return
		}
		radius = parsed
	}

	limit := registry.DefaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			WriteDomainError(w, r, place.NewValidationError("limit", "BAD_REQUEST", "limit must be an integer"))
			return
		}
		if parsed > 0 {
			limit = parsed
		}
	}
	if limit > registry.MaxQueryLimit {
		limit = registry.MaxQueryLimit
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			WriteDomainError(w, r, place.NewValidationError("offset", "BAD_REQUEST", "offset must be an integer"))
			return
		}
		if parsed > 0 {
			offset = parsed
		}
	}

	req := registry.QueryRequest{
		Lat:       q.Get("lat"),
		Lon:       q.Get("lon"),
		RadiusM:   radius,
		PlaceType: q.Get("type"),
		Category:  q.Get("category"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	}

	results, total, err := h.registry.Query(r.Context(), req)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	resp := queryResponse{
		Places: make([]place.Summary, 0, len(results)),
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}
	for _, n := range results {
		d := n.DistanceMeters
		resp.Places = append(resp.Places, n.Place.Summary(&d))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Submit handles POST /v1/places. The client fingerprint header is required
// and the body is a JSON submission payload.
func (h *PlaceHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req registry.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, CategoryBadRequest,
			ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	fingerprint := r.Header.Get(middleware.FingerprintHeader)
	result, err := h.registry.Submit(r.Context(), &req, fingerprint)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Get handles GET /v1/places/{id}. The id resolves as a place id first and
// falls back to the attestation transaction id. Returns the full detail
// shape.
func (h *PlaceHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.registry.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Upvote handles POST /v1/places/{id}/upvote. One upvote per fingerprint per
// place per window; the response carries the recomputed safety score.
func (h *PlaceHandlers) Upvote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fingerprint := r.Header.Get(middleware.FingerprintHeader)

	result, err := h.registry.Upvote(r.Context(), id, fingerprint)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
