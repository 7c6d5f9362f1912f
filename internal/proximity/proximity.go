// Package proximity selects the caches lying within a radius of a point.
package proximity

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/geo"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// DefaultRadiusKm is used when a query gives no radius.
const DefaultRadiusKm = 5.0

// Strategy names accepted by New.
const (
	StrategyScan    = "scan"
	StrategyBounded = "bounded"
)

// FindNearby keeps the caches whose distance to origin is at most radiusKm.
// Input order is preserved.
func FindNearby(caches []*models.Cache, origin geo.Point, radiusKm float64) []*models.Cache {
	out := make([]*models.Cache, 0)
	for _, c := range caches {
		d := geo.DistanceKm(origin.Lat, origin.Lon, c.Coordinates.Latitude, c.Coordinates.Longitude)
		if d <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

// ValidateRadius rejects negative or non-finite radii.
func ValidateRadius(radiusKm float64) error {
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		return apperrors.Validation("radius must be a non-negative number")
	}
	return nil
}

// ParseRadius reads a radius in kilometers, defaulting to DefaultRadiusKm
// when raw is empty.
func ParseRadius(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRadiusKm, nil
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.Validation("radius %q is not a number", raw)
	}
	if err := ValidateRadius(r); err != nil {
		return 0, err
	}
	return r, nil
}

// Finder answers nearby queries against the cache repository.
type Finder interface {
	Nearby(ctx context.Context, origin geo.Point, radiusKm float64) ([]*models.Cache, error)
}

// New returns the Finder registered under strategy.
func New(strategy string, caches repository.CacheRepository) (Finder, error) {
	switch strategy {
	case StrategyScan:
		return &ScanFinder{caches: caches}, nil
	case "", StrategyBounded:
		return &BoundedFinder{caches: caches}, nil
	default:
		return nil, fmt.Errorf("unknown proximity strategy %q", strategy)
	}
}

// ScanFinder reads every cache and filters them.
type ScanFinder struct {
	caches repository.CacheRepository
}

// NewScanFinder creates a full-scan finder
func NewScanFinder(caches repository.CacheRepository) *ScanFinder {
	return &ScanFinder{caches: caches}
}

// Nearby implements Finder
func (f *ScanFinder) Nearby(ctx context.Context, origin geo.Point, radiusKm float64) ([]*models.Cache, error) {
	all, err := f.caches.List(ctx)
	if err != nil {
		return nil, err
	}
	return FindNearby(all, origin, radiusKm), nil
}

// BoundedFinder narrows the candidates to a bounding box around the origin
// before the exact distance filter. It returns the same set as ScanFinder.
type BoundedFinder struct {
	caches repository.CacheRepository
}

// NewBoundedFinder creates a bounding-box finder
func NewBoundedFinder(caches repository.CacheRepository) *BoundedFinder {
	return &BoundedFinder{caches: caches}
}

// Nearby implements Finder
func (f *BoundedFinder) Nearby(ctx context.Context, origin geo.Point, radiusKm float64) ([]*models.Cache, error) {
	bound, ok := geo.SearchBound(origin, radiusKm)
	if !ok {
		log.Debug().
			Float64("lat", origin.Lat).
			Float64("lon", origin.Lon).
			Float64("radius_km", radiusKm).
			Msg("Search bound unusable, scanning all caches")
		return (&ScanFinder{caches: f.caches}).Nearby(ctx, origin, radiusKm)
	}

	candidates, err := f.caches.ListInBound(ctx, bound)
	if err != nil {
		return nil, err
	}
	return FindNearby(candidates, origin, radiusKm), nil
}
