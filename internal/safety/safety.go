// Package safety computes derived safety scores from stored upvote activity,
// at region granularity and as a heatmap of point-level scores. It only ever
// reads from the place store.
package safety

import (
	"context"
	"fmt"

	"github.com/qwermap/qwermap/internal/place"
)

// RegionScore summarizes upvote activity within a radius.
type RegionScore struct {
	Location     Location `json:"location"`
	RadiusMeters float64  `json:"radius_meters"`
	SafetyScore  float64  `json:"safety_score"`
	PlaceCount   int      `json:"place_count"`
	TotalUpvotes int      `json:"total_upvotes"`
}

// Location is the query origin echoed back in a region score.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Aggregator computes safety aggregates over the place store.
type Aggregator struct {
	repo place.Repository

	// approvedOnly restricts region aggregation to approved places.
	approvedOnly bool
}

// NewAggregator creates a safety aggregator. When approvedOnly is true,
// region scores only count approved places; heatmaps are always
// approved-only.
func NewAggregator(repo place.Repository, approvedOnly bool) *Aggregator {
	return &Aggregator{repo: repo, approvedOnly: approvedOnly}
}

// RegionScore aggregates places within the radius and derives the region
// score min(100, places*5 + upvotes*2).
func (a *Aggregator) RegionScore(ctx context.Context, lat, lon, radiusMeters float64) (*RegionScore, error) {
	status := ""
	if a.approvedOnly {
		status = place.StatusApproved
	}
	stats, err := a.repo.RegionStats(ctx, lat, lon, radiusMeters, status)
	if err != nil {
		return nil, fmt.Errorf("region stats: %w", err)
	}
	return &RegionScore{
		Location:     Location{Lat: lat, Lon: lon},
		RadiusMeters: radiusMeters,
		SafetyScore:  place.RegionScoreFor(stats.PlaceCount, stats.TotalUpvotes),
		PlaceCount:   stats.PlaceCount,
		TotalUpvotes: stats.TotalUpvotes,
	}, nil
}

// Heatmap samples approved places within the radius as
// [lon, lat, safety_score] triples.
func (a *Aggregator) Heatmap(ctx context.Context, lat, lon, radiusMeters float64) ([]place.HeatPoint, error) {
	points, err := a.repo.Heatmap(ctx, lat, lon, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	return points, nil
}
