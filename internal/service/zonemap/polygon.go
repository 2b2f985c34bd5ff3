package zonemap

import (
	"math"

	"github.com/feastlane/dispatch-system/internal/domain/models"
)

// pointInPolygon runs the even-odd ray casting test against the ring.
// Vertices on an edge may land on either side; zone boundaries are not
// legal contours so the ambiguity does not matter.
func pointInPolygon(lat, lon float64, ring []models.Location) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := ring[i], ring[j]
		if (vi.Latitude > lat) != (vj.Latitude > lat) {
			x := (vj.Longitude-vi.Longitude)*(lat-vi.Latitude)/(vj.Latitude-vi.Latitude) + vi.Longitude
			if lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// validatePolygon checks that the ring has at least three vertices, finite
// coordinates in range, and no self-intersection between non-adjacent edges.
func validatePolygon(ring []models.Location) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	for _, v := range ring {
		if math.IsNaN(v.Latitude) || math.IsNaN(v.Longitude) ||
			v.Latitude < -90 || v.Latitude > 90 ||
			v.Longitude < -180 || v.Longitude > 180 {
			return false
		}
	}

	for i := 0; i < n; i++ {
		a1 := ring[i]
		a2 := ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip edges sharing a vertex.
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := ring[j]
			b2 := ring[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

// polygonsTouch reports whether two rings overlap or share area: any vertex
// of one inside the other, or any pair of edges crossing.
func polygonsTouch(a, b []models.Location) bool {
	for _, v := range a {
		if pointInPolygon(v.Latitude, v.Longitude, b) {
			return true
		}
	}
	for _, v := range b {
		if pointInPolygon(v.Latitude, v.Longitude, a) {
			return true
		}
	}

	na, nb := len(a), len(b)
	for i := 0; i < na; i++ {
		for j := 0; j < nb; j++ {
			if segmentsIntersect(a[i], a[(i+1)%na], b[j], b[(j+1)%nb]) {
				return true
			}
		}
	}
	return false
}

// centroid is the vertex average, good enough for distance ranking.
func centroid(ring []models.Location) models.Location {
	var lat, lon float64
	for _, v := range ring {
		lat += v.Latitude
		lon += v.Longitude
	}
	n := float64(len(ring))
	return models.Location{Latitude: lat / n, Longitude: lon / n}
}

func segmentsIntersect(p1, p2, p3, p4 models.Location) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

func cross(a, b, c models.Location) float64 {
	return (b.Longitude-a.Longitude)*(c.Latitude-a.Latitude) -
		(b.Latitude-a.Latitude)*(c.Longitude-a.Longitude)
}

func onSegment(a, b, p models.Location) bool {
	return math.Min(a.Longitude, b.Longitude) <= p.Longitude && p.Longitude <= math.Max(a.Longitude, b.Longitude) &&
		math.Min(a.Latitude, b.Latitude) <= p.Latitude && p.Latitude <= math.Max(a.Latitude, b.Latitude)
}
