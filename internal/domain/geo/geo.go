// Package geo provides great-circle distance and nearest-candidate selection.
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/xenking/pharmacart/internal/domain/apperr"
)

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// ErrNoCandidateAvailable is returned by Nearest when no candidate has valid
// coordinates. Callers proceed without an assignment.
var ErrNoCandidateAvailable = apperr.New(apperr.KindNotFound, "no_candidate_available", "no candidate with valid coordinates")

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Valid reports whether c lies within the WGS84 degree ranges.
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Parse builds Coordinates from string fields as stored by profile services.
// ok is false when either value is empty or not a number in range.
func Parse(lat, lon string) (Coordinates, bool) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" || lon == "" {
		return Coordinates{}, false
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return Coordinates{}, false
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return Coordinates{}, false
	}
	c := Coordinates{Lat: la, Lon: lo}
	return c, c.Valid()
}

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b Coordinates) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Guard against h drifting slightly above 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Locatable is anything with an optional position.
type Locatable interface {
	// Location returns false when the candidate has no usable coordinates.
	Location() (Coordinates, bool)
}

// Match is the result of Nearest.
type Match[T Locatable] struct {
	Candidate  T
	DistanceKm float64
	Index      int
}

// Nearest returns the candidate closest to origin. Candidates without valid
// coordinates are skipped; ties go to the first in input order.
func Nearest[T Locatable](candidates []T, origin Coordinates) (Match[T], error) {
	best := Match[T]{Index: -1}
	for i, c := range candidates {
		loc, ok := c.Location()
		if !ok || !loc.Valid() {
			continue
		}
		d := Distance(origin, loc)
		if best.Index < 0 || d < best.DistanceKm {
			best = Match[T]{Candidate: c, DistanceKm: d, Index: i}
		}
	}
	if best.Index < 0 {
		return Match[T]{}, ErrNoCandidateAvailable
	}
	return best, nil
}
