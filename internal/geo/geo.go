package geo

import (
	"math"
	"strconv"
	"strings"

	"geocaching-backend/internal/apperrors"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// boundSlack widens search boxes a little so float rounding never drops an edge point.
const boundSlack = 1.001

// Point represents a geographic coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// DistanceKm calculates the haversine distance between two coordinates in kilometers.
// Inputs are degrees. Coordinates are expected to be valid, see Point.Validate.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)
	rLat1 := lat1 * (math.Pi / 180.0)
	rLat2 := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distance is DistanceKm for two points.
func Distance(a, b Point) float64 {
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Validate rejects NaN, infinities and out of range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return apperrors.Validation("latitude must be a number between -90 and 90")
	}
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return apperrors.Validation("longitude must be a number between -180 and 180")
	}
	return nil
}

// ParsePoint parses raw latitude and longitude values coming from a query string,
// a form field or a loosely typed JSON body. Both must be present and numeric.
func ParsePoint(latRaw, lonRaw string) (Point, error) {
	latRaw = strings.TrimSpace(latRaw)
	lonRaw = strings.TrimSpace(lonRaw)
	if latRaw == "" || lonRaw == "" {
		return Point{}, apperrors.Validation("latitude and longitude are required")
	}

	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return Point{}, apperrors.Validation("latitude %q is not a number", latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return Point{}, apperrors.Validation("longitude %q is not a number", lonRaw)
	}

	p := Point{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

// SearchBound returns a lat/lon box containing every point within radiusKm of origin.
// The second result is false when no simple box exists (the box would wrap the
// antimeridian or the inputs are degenerate); callers should scan everything then.
func SearchBound(origin Point, radiusKm float64) (orb.Bound, bool) {
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		return orb.Bound{}, false
	}

	// orb measures with a larger radius than DistanceKm, scale so the box never undershoots.
	meters := radiusKm * 1000 * (orb.EarthRadius / (EarthRadiusKm * 1000)) * boundSlack
	b := orbgeo.NewBoundAroundPoint(orb.Point{origin.Lon, origin.Lat}, meters)

	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) {
			return orb.Bound{}, false
		}
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, false
	}
	if b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
		return orb.Bound{}, false
	}
	return b, true
}
