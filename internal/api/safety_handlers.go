package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/qwermap/qwermap/internal/place"
	"github.com/qwermap/qwermap/internal/safety"
)

// SafetyHandlers serves the derived safety score endpoints.
type SafetyHandlers struct {
	aggregator *safety.Aggregator
	logger     *slog.Logger
}

// NewSafetyHandlers creates safety handlers backed by the given aggregator.
func NewSafetyHandlers(agg *safety.Aggregator, logger *slog.Logger) *SafetyHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafetyHandlers{aggregator: agg, logger: logger}
}

// parseOrigin reads the lat/lon/radius query parameters shared by both
// safety endpoints. radius defaults to 50 km.
func parseOrigin(r *http.Request) (lat, lon, radius float64, err error) {
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, 0, place.NewValidationError("lat", "INVALID_COORDS", "lat and lon required")
	}
	if err := place.ValidateLatLon(lat, lon); err != nil {
		return 0, 0, 0, err
	}

	radius = float64(DefaultRadiusMeters)
	if raw := q.Get("radius"); raw != "" {
		parsed, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return 0, 0, 0, place.NewValidationError("radius", "INVALID_COORDS", "radius must be a number")
		}
		radius = parsed
	}
	return lat, lon, radius, nil
}

// RegionScore handles GET /v1/safety-scores: the aggregate score for all
// places within the radius.
func (h *SafetyHandlers) RegionScore(w http.ResponseWriter, r *http.Request) {
	lat, lon, radius, err := parseOrigin(r)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	score, err := h.aggregator.RegionScore(r.Context(), lat, lon, radius)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// Heatmap handles GET /v1/safety-scores/heatmap: approved places within the
// radius as a bare array of [lon, lat, safety_score] triples.
func (h *SafetyHandlers) Heatmap(w http.ResponseWriter, r *http.Request) {
	lat, lon, radius, err := parseOrigin(r)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	points, err := h.aggregator.Heatmap(r.Context(), lat, lon, radius)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if points == nil {
		points = []place.HeatPoint{}
	}

	writeJSON(w, http.StatusOK, points)
}
