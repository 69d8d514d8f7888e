package place

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no place matches the given id or
// transaction id.
var ErrNotFound = errors.New("place not found")

// NearQuery describes a proximity search. Empty filter fields mean
// "no filter". Limit/Offset are assumed already clamped by the caller.
type NearQuery struct {
	Lat          float64
	Lon          float64
	RadiusMeters float64
	PlaceType    string
	Category     string
	Status       string
	Limit        int
	Offset       int
}

// Near is a proximity search result with the computed distance from the
// query origin.
type Near struct {
	Place          *Place
	DistanceMeters float64
}

// RegionStats aggregates places within a radius.
type RegionStats struct {
	PlaceCount   int
	TotalUpvotes int
}

// HeatPoint is a heatmap sample: [lon, lat, safety_score].
type HeatPoint [3]float64

// Repository persists places in a geo-indexed collection.
//
// IncrementUpvote must be atomic with respect to concurrent upvotes on the
// same place: the counter uses an atomic add, never read-modify-write. The
// safety score that follows is written separately by SetSafetyScore and is
// allowed to lag under concurrency (it self-corrects on the next upvote).
type Repository interface {
	// Insert stores a new place.
	Insert(ctx context.Context, p *Place) error

	// GetByID retrieves a place by its store-assigned id.
	// Returns ErrNotFound if no place matches.
	GetByID(ctx context.Context, id string) (*Place, error)

	// GetByTransactionID retrieves a place by its attestation transaction id.
	// Returns ErrNotFound if no place matches.
	GetByTransactionID(ctx context.Context, txID string) (*Place, error)

	// SearchNear returns places within RadiusMeters of the query origin,
	// ordered by ascending distance, paged by Limit/Offset. The returned
	// total is the count of all matches independent of pagination.
	SearchNear(ctx context.Context, q NearQuery) ([]Near, int, error)

	// IncrementUpvote atomically adds one to the upvote counter, records the
	// fingerprint and upvote transaction id, refreshes indexed_at, and
	// returns the new count. Returns ErrNotFound if no place matches.
	IncrementUpvote(ctx context.Context, id, fingerprint, txID string) (int, error)

	// SetSafetyScore stores a recomputed place-level safety score.
	SetSafetyScore(ctx context.Context, id string, score float64) error

	// UpdateStatus sets the moderation status, optionally recording a reason
	// under the reserved additional_info key, and returns the updated place.
	UpdateStatus(ctx context.Context, id, status, reason string) (*Place, error)

	// ListPending returns pending places ordered newest-first, capped at limit.
	ListPending(ctx context.Context, limit int) ([]*Place, error)

	// RegionStats counts places and sums upvotes within the radius. An empty
	// status means all statuses.
	RegionStats(ctx context.Context, lat, lon, radiusMeters float64, status string) (RegionStats, error)

	// Heatmap samples approved places within the radius as
	// [lon, lat, safety_score] triples.
	Heatmap(ctx context.Context, lat, lon, radiusMeters float64) ([]HeatPoint, error)
}

// earthRadiusMeters is the mean Earth radius used by the haversine distance.
const earthRadiusMeters = 6371000.0

// haversineMeters computes the great-circle distance between two lat/lon
// pairs in meters.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// InMemoryRepository is an in-memory Repository used for tests and
// development. Distances use the haversine formula. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	places map[string]*Place
	byTx   map[string]string
}

// NewInMemoryRepository creates an empty in-memory place repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		places: make(map[string]*Place),
		byTx:   make(map[string]string),
	}
}

// Insert stores a new place.
func (r *InMemoryRepository) Insert(ctx context.Context, p *Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := clonePlace(p)
	r.places[stored.ID] = stored
	if stored.TransactionID != "" {
		r.byTx[stored.TransactionID] = stored.ID
	}
	return nil
}

// GetByID retrieves a place by its store-assigned id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Place, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.places[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlace(p), nil
}

// GetByTransactionID retrieves a place by its attestation transaction id.
func (r *InMemoryRepository) GetByTransactionID(ctx context.Context, txID string) (*Place, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTx[txID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlace(r.places[id]), nil
}

// matches reports whether a place passes the query filters.
func matchesFilters(p *Place, placeType, category, status string) bool {
	if placeType != "" && placeType != TypeAll && p.PlaceType != placeType {
		return false
	}
	if category != "" && p.Category != category {
		return false
	}
	if status != "" && p.Status != status {
		return false
	}
	return true
}

// SearchNear returns places within the radius ordered by ascending distance.
func (r *InMemoryRepository) SearchNear(ctx context.Context, q NearQuery) ([]Near, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Near
	for _, p := range r.places {
		if !matchesFilters(p, q.PlaceType, q.Category, q.Status) {
			continue
		}
		d := haversineMeters(q.Lat, q.Lon, p.Location.Lat(), p.Location.Lon())
		if d > q.RadiusMeters {
			continue
		}
		all = append(all, Near{Place: clonePlace(p), DistanceMeters: d})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].DistanceMeters != all[j].DistanceMeters {
			return all[i].DistanceMeters < all[j].DistanceMeters
		}
		return all[i].Place.ID < all[j].Place.ID
	})

	total := len(all)
	if q.Offset >= total {
		return []Near{}, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return all[q.Offset:end], total, nil
}

// IncrementUpvote atomically adds one upvote under the repository lock.
func (r *InMemoryRepository) IncrementUpvote(ctx context.Context, id, fingerprint, txID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.places[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.UpvoteCount++
	p.UpvotedBy = append(p.UpvotedBy, fingerprint)
	p.IndexedAt = time.Now().UTC()
	if p.Attestation == nil {
		p.Attestation = &Attestation{}
	}
	if p.Attestation.RawData == nil {
		p.Attestation.RawData = make(map[string]any)
	}
	p.Attestation.RawData["last_upvote_tx"] = txID
	return p.UpvoteCount, nil
}

// SetSafetyScore stores a recomputed safety score.
func (r *InMemoryRepository) SetSafetyScore(ctx context.Context, id string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.places[id]
	if !ok {
		return ErrNotFound
	}
	p.SafetyScore = score
	return nil
}

// UpdateStatus sets the moderation status and optional reason.
func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id, status, reason string) (*Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.places[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Status = status
	if reason != "" {
		if p.AdditionalInfo == nil {
			p.AdditionalInfo = make(map[string]any)
		}
		p.AdditionalInfo[ModerationReasonKey] = reason
	}
	return clonePlace(p), nil
}

// ListPending returns pending places ordered newest-first.
func (r *InMemoryRepository) ListPending(ctx context.Context, limit int) ([]*Place, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []*Place
	for _, p := range r.places {
		if p.Status == StatusPending {
			pending = append(pending, clonePlace(p))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.After(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// RegionStats counts places and sums upvotes within the radius.
func (r *InMemoryRepository) RegionStats(ctx context.Context, lat, lon, radiusMeters float64, status string) (RegionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats RegionStats
	for _, p := range r.places {
		if status != "" && p.Status != status {
			continue
		}
		if haversineMeters(lat, lon, p.Location.Lat(), p.Location.Lon()) > radiusMeters {
			continue
		}
		stats.PlaceCount++
		stats.TotalUpvotes += p.UpvoteCount
	}
	return stats, nil
}

// Heatmap samples approved places within the radius.
func (r *InMemoryRepository) Heatmap(ctx context.Context, lat, lon, radiusMeters float64) ([]HeatPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	points := []HeatPoint{}
	for _, p := range r.places {
		if p.Status != StatusApproved {
			continue
		}
		if haversineMeters(lat, lon, p.Location.Lat(), p.Location.Lon()) > radiusMeters {
			continue
		}
		points = append(points, HeatPoint{p.Location.Lon(), p.Location.Lat(), p.SafetyScore})
	}
	return points, nil
}

// clonePlace deep-copies a place to prevent external mutation of stored state.
func clonePlace(p *Place) *Place {
	if p == nil {
		return nil
	}
	c := *p
	c.Location.Coordinates = append([]float64(nil), p.Location.Coordinates...)
	c.Photos = append([]string(nil), p.Photos...)
	c.Events = append([]HistoricalEvent(nil), p.Events...)
	c.RelatedFigures = append([]RelatedFigure(nil), p.RelatedFigures...)
	c.Movements = append([]string(nil), p.Movements...)
	c.CommunityTags = append([]string(nil), p.CommunityTags...)
	c.SiteTypes = append([]string(nil), p.SiteTypes...)
	c.UpvotedBy = append([]string(nil), p.UpvotedBy...)
	if p.YearOpened != nil {
		y := *p.YearOpened
		c.YearOpened = &y
	}
	if p.YearClosed != nil {
		y := *p.YearClosed
		c.YearClosed = &y
	}
	if p.AdditionalInfo != nil {
		c.AdditionalInfo = make(map[string]any, len(p.AdditionalInfo))
		for k, v := range p.AdditionalInfo {
			c.AdditionalInfo[k] = v
		}
	}
	if p.Attestation != nil {
		a := Attestation{AccountAddress: p.Attestation.AccountAddress}
		if p.Attestation.RawData != nil {
			a.RawData = make(map[string]any, len(p.Attestation.RawData))
			for k, v := range p.Attestation.RawData {
				a.RawData[k] = v
			}
		}
		c.Attestation = &a
	}
	return &c
}
