package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	id  string
	loc Coordinates
	ok  bool
}

func (p point) Location() (Coordinates, bool) { return p.loc, p.ok }

func at(id string, lat, lon float64) point {
	return point{id: id, loc: Coordinates{Lat: lat, Lon: lon}, ok: true}
}

var (
	mumbai = Coordinates{Lat: 19.0760, Lon: 72.8777}
	pune   = Coordinates{Lat: 18.5204, Lon: 73.8567}
)

func TestDistance(t *testing.T) {
	t.Run("same point is zero", func(t *testing.T) {
		for _, c := range []Coordinates{mumbai, pune, {}, {Lat: 90, Lon: 180}, {Lat: -45.5, Lon: -120.25}} {
			assert.Zero(t, Distance(c, c))
		}
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.Equal(t, Distance(mumbai, pune), Distance(pune, mumbai))
		a := Coordinates{Lat: -33.8688, Lon: 151.2093}
		b := Coordinates{Lat: 51.5074, Lon: -0.1278}
		assert.Equal(t, Distance(a, b), Distance(b, a))
	})

	t.Run("known distance", func(t *testing.T) {
		// Mumbai to Pune is roughly 120 km as the crow flies.
		assert.InDelta(t, 120, Distance(mumbai, pune), 5)
	})

	t.Run("antipodal points", func(t *testing.T) {
		d := Distance(Coordinates{Lat: 0, Lon: 0}, Coordinates{Lat: 0, Lon: 180})
		assert.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-6)
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon string
		want     Coordinates
		wantOK   bool
	}{
		{name: "valid", lat: "19.07", lon: " 72.87 ", want: Coordinates{Lat: 19.07, Lon: 72.87}, wantOK: true},
		{name: "empty lat", lat: "", lon: "72.87"},
		{name: "garbage", lat: "north", lon: "72.87"},
		{name: "out of range", lat: "91", lon: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.lat, tt.lon)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNearest(t *testing.T) {
	t.Run("empty set", func(t *testing.T) {
		_, err := Nearest([]point{}, mumbai)
		require.ErrorIs(t, err, ErrNoCandidateAvailable)
	})

	t.Run("all invalid", func(t *testing.T) {
		_, err := Nearest([]point{
			{id: "a"},
			{id: "b", loc: Coordinates{Lat: 200}, ok: true},
			{id: "c", loc: Coordinates{Lat: math.NaN()}, ok: true},
		}, mumbai)
		require.ErrorIs(t, err, ErrNoCandidateAvailable)
	})

	t.Run("single valid candidate regardless of distance", func(t *testing.T) {
		m, err := Nearest([]point{{id: "skip"}, at("far", -33.8, 151.2)}, mumbai)
		require.NoError(t, err)
		assert.Equal(t, "far", m.Candidate.id)
		assert.Equal(t, 1, m.Index)
		assert.Greater(t, m.DistanceKm, 9000.0)
	})

	t.Run("picks minimum", func(t *testing.T) {
		m, err := Nearest([]point{
			at("pune", pune.Lat, pune.Lon),
			at("near", 19.08, 72.88),
			{id: "nocoords"},
		}, mumbai)
		require.NoError(t, err)
		assert.Equal(t, "near", m.Candidate.id)
	})

	t.Run("tie goes to first encountered", func(t *testing.T) {
		m, err := Nearest([]point{
			at("first", pune.Lat, pune.Lon),
			at("second", pune.Lat, pune.Lon),
		}, mumbai)
		require.NoError(t, err)
		assert.Equal(t, "first", m.Candidate.id)
		assert.Equal(t, 0, m.Index)
	})
}
