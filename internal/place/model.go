// Package place provides the place model, validation, and repositories for
// the community directory. A place is a community location (current or
// historical) submitted by a client, moderated, and ranked by upvotes.
package place

import "time"

// Moderation status values. Transitions only go pending -> approved or
// pending -> rejected; terminal states are never re-entered.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Place type values. TypeAll is accepted only as a query filter meaning
// "no type filter" and is never stored.
const (
	TypeCurrent    = "current"
	TypeHistorical = "historical"
	TypeAll        = "all"
)

// MaxPhotos is the maximum number of photo references per place.
const MaxPhotos = 5

// ModerationReasonKey is the reserved additional_info key under which the
// moderation workflow records a reviewer-supplied reason.
const ModerationReasonKey = "moderation_reason"

// GeoPoint is a GeoJSON point. Coordinates are [lon, lat].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Lon returns the longitude component.
func (p GeoPoint) Lon() float64 {
	if len(p.Coordinates) != 2 {
		return 0
	}
	return p.Coordinates[0]
}

// Lat returns the latitude component.
func (p GeoPoint) Lat() float64 {
	if len(p.Coordinates) != 2 {
		return 0
	}
	return p.Coordinates[1]
}

// NewPoint builds a GeoJSON point from a lon/lat pair.
func NewPoint(lon, lat float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Attestation holds the external ledger reference recorded alongside a place.
// RawData is an open mapping; the registry stores the submission memo and
// signature there, and the last upvote transaction id under "last_upvote_tx".
type Attestation struct {
	AccountAddress *string        `json:"account_address"`
	RawData        map[string]any `json:"raw_data"`
}

// HistoricalEvent is a dated event associated with a place.
type HistoricalEvent struct {
	Title       string `json:"title"`
	Date        string `json:"date,omitempty"` // flexible: "1969-06-28", "1970s"
	Description string `json:"description,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

// RelatedFigure is a person associated with a place.
type RelatedFigure struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

// Place is the full place record.
type Place struct {
	ID            string   `json:"id"`
	TransactionID string   `json:"transaction_id"`
	Name          string   `json:"name"`
	Location      GeoPoint `json:"location"`
	PlaceType     string   `json:"place_type"`
	Category      string   `json:"category"`

	Status      string  `json:"status"`
	UpvoteCount int     `json:"upvote_count"`
	SafetyScore float64 `json:"safety_score"`

	Description    string         `json:"description,omitempty"`
	Era            string         `json:"era,omitempty"`
	Photos         []string       `json:"photos,omitempty"`
	Address        string         `json:"address,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`

	Events         []HistoricalEvent `json:"events,omitempty"`
	RelatedFigures []RelatedFigure   `json:"related_figures,omitempty"`
	Movements      []string          `json:"movements,omitempty"`
	CommunityTags  []string          `json:"community_tags,omitempty"`
	SiteTypes      []string          `json:"site_types,omitempty"`
	YearOpened     *int              `json:"year_opened,omitempty"`
	YearClosed     *int              `json:"year_closed,omitempty"`
	StillExists    string            `json:"still_exists,omitempty"`
	Significance   string            `json:"significance,omitempty"`

	Attestation *Attestation `json:"on_chain_data,omitempty"`

	// UpvotedBy tracks fingerprints for audits; the primary dedupe lives in
	// the gate backend.
	UpvotedBy []string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	IndexedAt time.Time `json:"indexed_at,omitempty"`
}

// Summary is the projection returned by list-style endpoints.
type Summary struct {
	ID             string   `json:"id"`
	TransactionID  string   `json:"transaction_id"`
	Name           string   `json:"name"`
	Location       GeoPoint `json:"location"`
	PlaceType      string   `json:"place_type"`
	Category       string   `json:"category"`
	SafetyScore    float64  `json:"safety_score"`
	UpvoteCount    int      `json:"upvote_count"`
	DistanceMeters *float64 `json:"distance_meters"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"created_at"`
	Movements      []string `json:"movements"`
	Significance   string   `json:"significance,omitempty"`
	StillExists    string   `json:"still_exists,omitempty"`
}

// Summary projects a place to its summary shape. distance is optional and
// only meaningful for proximity query results.
func (p *Place) Summary(distance *float64) Summary {
	movements := p.Movements
	if movements == nil {
		movements = []string{}
	}
	return Summary{
		ID:             p.ID,
		TransactionID:  p.TransactionID,
		Name:           p.Name,
		Location:       p.Location,
		PlaceType:      p.PlaceType,
		Category:       p.Category,
		SafetyScore:    p.SafetyScore,
		UpvoteCount:    p.UpvoteCount,
		DistanceMeters: distance,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
		Movements:      movements,
		Significance:   p.Significance,
		StillExists:    p.StillExists,
	}
}

// SafetyScoreFor computes the place-level safety score for an upvote count.
// The score is a pure function of the count and is recomputed on every
// upvote, never mutated independently.
func SafetyScoreFor(upvotes int) float64 {
	score := float64(upvotes) * 2.0
	if score > 100 {
		return 100
	}
	return score
}

// RegionScoreFor computes the region-level safety score from the number of
// places and their accumulated upvotes within a radius.
func RegionScoreFor(placeCount, totalUpvotes int) float64 {
	score := float64(placeCount)*5.0 + float64(totalUpvotes)*2.0
	if score > 100 {
		return 100
	}
	return score
}
