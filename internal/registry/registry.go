// Package registry is the domain core of the place directory: it validates
// submissions, applies upvotes with idempotency, recomputes safety scores,
// and serves proximity queries. Mutating operations consult the rate/dedupe
// gate first and mint an attestation reference before committing.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/qwermap/qwermap/internal/attest"
	"github.com/qwermap/qwermap/internal/gate"
	"github.com/qwermap/qwermap/internal/place"
	"github.com/qwermap/qwermap/internal/tracing"
)

// Query pagination bounds.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 100
)

// Config holds the registry's policy knobs.
type Config struct {
	// SubmitPerHour and UpvotePerHour are the fixed-window limits applied
	// per client fingerprint.
	SubmitPerHour int
	UpvotePerHour int

	// Window is the fixed rate-limit window size.
	Window time.Duration

	// AutoApprove controls whether new submissions start approved instead
	// of pending moderation.
	AutoApprove bool

	// AttestationRequired controls whether an attestation failure blocks
	// the mutation (fail-closed) or lets it proceed without a reference.
	AttestationRequired bool
}

// Registry coordinates the gate, the attestation client, and the place store.
type Registry struct {
	repo   place.Repository
	gate   gate.Gate
	attest attest.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Registry. logger may be nil.
func New(repo place.Repository, g gate.Gate, client attest.Client, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:   repo,
		gate:   g,
		attest: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SubmitRequest carries a decoded place submission. YearOpened/YearClosed
// accept any JSON value; unparseable years are dropped rather than rejected.
type SubmitRequest struct {
	Name           string                  `json:"name"`
	Location       *place.GeoPoint         `json:"location"`
	PlaceType      string                  `json:"place_type"`
	Category       string                  `json:"category"`
	Description    string                  `json:"description"`
	Era            string                  `json:"era"`
	Photos         []string                `json:"photos"`
	Address        string                  `json:"address"`
	AdditionalInfo map[string]any          `json:"additional_info"`
	Events         []place.HistoricalEvent `json:"events"`
	RelatedFigures []place.RelatedFigure   `json:"related_figures"`
	Movements      []string                `json:"movements"`
	CommunityTags  []string                `json:"community_tags"`
	SiteTypes      []string                `json:"site_types"`
	YearOpened     any                     `json:"year_opened"`
	YearClosed     any                     `json:"year_closed"`
	StillExists    string                  `json:"still_exists"`
	Significance   string                  `json:"significance"`
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	TransactionID string `json:"transaction_id"`
	PlaceID       string `json:"place_id"`
	Status        string `json:"status"`
}

// UpvoteResult is the outcome of a successful upvote.
type UpvoteResult struct {
	TransactionID  string  `json:"transaction_id"`
	NewUpvoteCount int     `json:"new_upvote_count"`
	NewSafetyScore float64 `json:"new_safety_score"`
}

// Submit validates and persists a new place submission.
func (s *Registry) Submit(ctx context.Context, req *SubmitRequest, fingerprint string) (*SubmitResult, error) {
	if fingerprint == "" {
		return nil, ErrMissingFingerprint
	}

	limited, err := s.gate.IsRateLimited(ctx, "submit:"+fingerprint, s.cfg.SubmitPerHour, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("submission gate: %w", err)
	}
	if limited {
		return nil, &RateLimitedError{Action: "submission"}
	}

	if req.Name == "" {
		return nil, place.NewValidationError("name", "MISSING_FIELD", "Missing required field: name")
	}
	if req.Location == nil {
		return nil, place.NewValidationError("location", "MISSING_FIELD", "Missing required field: location")
	}
	if req.PlaceType == "" {
		return nil, place.NewValidationError("place_type", "MISSING_FIELD", "Missing required field: place_type")
	}
	if req.Category == "" {
		return nil, place.NewValidationError("category", "MISSING_FIELD", "Missing required field: category")
	}
	if err := place.ValidatePoint(req.Location); err != nil {
		return nil, err
	}
	if err := place.ValidateEnum("place_type", req.PlaceType); err != nil {
		return nil, err
	}
	if err := place.ValidateEnum("category", req.Category); err != nil {
		return nil, err
	}
	if err := place.ValidateEnum("still_exists", req.StillExists); err != nil {
		return nil, err
	}
	if err := place.ValidateEnum("significance", req.Significance); err != nil {
		return nil, err
	}
	if len(req.Photos) > place.MaxPhotos {
		return nil, place.NewValidationError("photos", "INVALID_PHOTOS",
			fmt.Sprintf("photos must contain at most %d entries", place.MaxPhotos))
	}

	now := s.now().UTC()
	memo := attest.HashPayload("submit", fingerprint, req.Name,
		req.Location.Lat(), req.Location.Lon(), now.Unix())
	txID, err := s.recordAction(ctx, memo, "submit")
	if err != nil {
		return nil, err
	}

	status := place.StatusPending
	if s.cfg.AutoApprove {
		status = place.StatusApproved
	}

	rawData := map[string]any{"memo": memo}
	if txID != "" {
		rawData["signature"] = txID
	}

	p := &place.Place{
		ID:             uuid.New().String(),
		TransactionID:  txID,
		Name:           req.Name,
		Location:       *req.Location,
		PlaceType:      req.PlaceType,
		Category:       req.Category,
		Status:         status,
		SafetyScore:    place.SafetyScoreFor(0),
		Description:    req.Description,
		Era:            req.Era,
		Photos:         req.Photos,
		Address:        req.Address,
		AdditionalInfo: req.AdditionalInfo,
		Events:         req.Events,
		RelatedFigures: req.RelatedFigures,
		Movements:      req.Movements,
		CommunityTags:  req.CommunityTags,
		SiteTypes:      req.SiteTypes,
		YearOpened:     coerceYear(req.YearOpened),
		YearClosed:     coerceYear(req.YearClosed),
		StillExists:    req.StillExists,
		Significance:   req.Significance,
		Attestation:    &place.Attestation{RawData: rawData},
		CreatedAt:      now,
		IndexedAt:      now,
	}

	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("persist place: %w", err)
	}

	s.logger.Info("place submitted",
		"place_id", p.ID, "category", p.Category, "status", p.Status)

	return &SubmitResult{TransactionID: txID, PlaceID: p.ID, Status: p.Status}, nil
}

// Upvote applies an idempotent upvote and recomputes the safety score.
func (s *Registry) Upvote(ctx context.Context, idOrTx, fingerprint string) (*UpvoteResult, error) {
	if fingerprint == "" {
		return nil, ErrMissingFingerprint
	}

	limited, err := s.gate.IsRateLimited(ctx, "upvote:"+fingerprint, s.cfg.UpvotePerHour, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("upvote gate: %w", err)
	}
	if limited {
		return nil, &RateLimitedError{Action: "upvote"}
	}

	already, err := s.gate.CheckAndSetDedupe(ctx, "upvote:"+idOrTx+":"+fingerprint, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("upvote dedupe: %w", err)
	}
	if already {
		return nil, ErrAlreadyUpvoted
	}

	p, err := s.Get(ctx, idOrTx)
	if err != nil {
		return nil, err
	}

	memo := attest.HashPayload("upvote", fingerprint, p.ID, s.now().UTC().Unix())
	txID, err := s.recordAction(ctx, memo, "upvote")
	if err != nil {
		return nil, err
	}

	count, err := s.repo.IncrementUpvote(ctx, p.ID, fingerprint, txID)
	if err != nil {
		return nil, fmt.Errorf("increment upvote: %w", err)
	}

	// The score write is best-effort under concurrency: a concurrent upvote
	// may overwrite it with its own recomputation, which lands on the same
	// or a newer count.
	score := place.SafetyScoreFor(count)
	if err := s.repo.SetSafetyScore(ctx, p.ID, score); err != nil {
		return nil, fmt.Errorf("set safety score: %w", err)
	}

	return &UpvoteResult{TransactionID: txID, NewUpvoteCount: count, NewSafetyScore: score}, nil
}

// QueryRequest carries raw proximity query parameters. Lat/Lon are strings
// so malformed numbers surface as validation errors, not zero values.
type QueryRequest struct {
	Lat       string
	Lon       string
	RadiusM   float64
	PlaceType string
	Category  string
	Status    string
	Limit     int
	Offset    int
}

// Query validates the request and runs the proximity search. The returned
// total counts all matches independent of pagination.
func (s *Registry) Query(ctx context.Context, req QueryRequest) ([]place.Near, int, error) {
	lat, err := strconv.ParseFloat(req.Lat, 64)
	if err != nil {
		return nil, 0, place.NewValidationError("lat", "INVALID_COORDS", "lat and lon required")
	}
	lon, err := strconv.ParseFloat(req.Lon, 64)
	if err != nil {
		return nil, 0, place.NewValidationError("lon", "INVALID_COORDS", "lat and lon required")
	}
	if err := place.ValidateLatLon(lat, lon); err != nil {
		return nil, 0, err
	}
	if err := place.ValidateEnum("type", req.PlaceType); err != nil {
		return nil, 0, err
	}
	if err := place.ValidateEnum("category", req.Category); err != nil {
		return nil, 0, err
	}
	if err := place.ValidateEnum("status", req.Status); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	return s.repo.SearchNear(ctx, place.NearQuery{
		Lat:          lat,
		Lon:          lon,
		RadiusMeters: req.RadiusM,
		PlaceType:    req.PlaceType,
		Category:     req.Category,
		Status:       req.Status,
		Limit:        limit,
		Offset:       offset,
	})
}

// Get resolves a place by store id or by attestation transaction id.
func (s *Registry) Get(ctx context.Context, idOrTx string) (*place.Place, error) {
	p, err := s.repo.GetByID(ctx, idOrTx)
	if err == nil {
		return p, nil
	}
	if err != place.ErrNotFound {
		return nil, fmt.Errorf("lookup place: %w", err)
	}
	p, err = s.repo.GetByTransactionID(ctx, idOrTx)
	if err == place.ErrNotFound {
		return nil, place.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup place: %w", err)
	}
	return p, nil
}

// recordAction mints an attestation reference for an action memo. When
// attestation is not required a failure is logged and the mutation proceeds
// without a reference.
func (s *Registry) recordAction(ctx context.Context, memo, action string) (string, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "record_attestation")
	txID, err := s.attest.RecordAction(ctx, memo)
	endSpan(err)
	if err != nil {
		if s.cfg.AttestationRequired {
			return "", fmt.Errorf("attestation for %s: %w", action, err)
		}
		s.logger.Warn("attestation failed, continuing without reference",
			"action", action, "error", err)
		return "", nil
	}
	return txID, nil
}

// coerceYear parses a year value from a JSON payload. Numbers and numeric
// strings parse; anything else is dropped.
func coerceYear(v any) *int {
	switch val := v.(type) {
	case float64:
		y := int(val)
		return &y
	case int:
		return &val
	case string:
		if y, err := strconv.Atoi(val); err == nil {
			return &y
		}
	}
	return nil
}
