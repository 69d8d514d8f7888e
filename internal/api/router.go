package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qwermap/qwermap/internal/middleware"
)

// ServiceName identifies this service in the root payload and trace spans.
const ServiceName = "qwermap-api"

// RouterConfig carries the handlers and plumbing the router wires together.
type RouterConfig struct {
	Places     *PlaceHandlers
	Safety     *SafetyHandlers
	Moderation *ModerationHandlers
	Health     *HealthHandlers

	Logger      *slog.Logger
	HTTPMetrics *middleware.Metrics
	Registry    *prometheus.Registry

	CORSOrigins    []string
	TracingEnabled bool
}

// NewRouter builds the HTTP router: the /v1 API surface plus the health,
// readiness, and metrics endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.TracingEnabled {
		r.Use(middleware.Tracing(ServiceName))
	}
	r.Use(middleware.Fingerprint)
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.HTTPMetrics != nil {
		r.Use(middleware.HTTPMetrics(cfg.HTTPMetrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.FingerprintHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, CategoryNotFound,
			ErrCodeNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, CategoryBadRequest,
			ErrCodeBadRequest, "Method not allowed")
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": ServiceName,
			"status":  "ok",
		})
	})

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/places", cfg.Places.Query)
		v1.Post("/places", cfg.Places.Submit)
		v1.Get("/places/{id}", cfg.Places.Get)
		v1.Post("/places/{id}/upvote", cfg.Places.Upvote)

		v1.Get("/safety-scores", cfg.Safety.RegionScore)
		v1.Get("/safety-scores/heatmap", cfg.Safety.Heatmap)

		v1.Get("/moderation/queue", cfg.Moderation.Queue)
		v1.Patch("/moderation/places/{id}", cfg.Moderation.Moderate)
	})

	return r
}
