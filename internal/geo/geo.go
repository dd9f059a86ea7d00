// Package geo holds the stateless distance and geometry helpers used by the
// trail tracker, the replay engine and the snapping adapter.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// LatLng is a coordinate in decimal degrees, ordered latitude first.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (p LatLng) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b LatLng) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial bearing from a to b in degrees within [0,360).
// ok is false when the two points coincide and the bearing is undefined.
func Bearing(a, b LatLng) (deg float64, ok bool) {
	if a == b {
		return 0, false
	}
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg = math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg, true
}

// SmoothPolyline applies Chaikin corner cutting (1/4, 3/4 ratios) the given
// number of times. Each pass turns n points into 2n-2 while keeping the first
// and last points exactly. Inputs shorter than 3 points are returned as is.
func SmoothPolyline(points []LatLng, iterations int) []LatLng {
	if len(points) < 3 || iterations <= 0 {
		return points
	}
	cur := points
	for it := 0; it < iterations; it++ {
		n := len(cur)
		next := make([]LatLng, 0, 2*n-2)
		next = append(next, cur[0])
		for i := 0; i < n-1; i++ {
			p, q := cur[i], cur[i+1]
			r := LatLng{Lat: 0.25*p.Lat + 0.75*q.Lat, Lng: 0.25*p.Lng + 0.75*q.Lng}
			if i > 0 {
				l := LatLng{Lat: 0.75*p.Lat + 0.25*q.Lat, Lng: 0.75*p.Lng + 0.25*q.Lng}
				next = append(next, l)
			}
			if i < n-2 {
				next = append(next, r)
			}
		}
		next = append(next, cur[n-1])
		cur = next
	}
	return cur
}

// PathLengthKm sums the haversine distance over consecutive points.
func PathLengthKm(points []LatLng) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineKm(points[i-1], points[i])
	}
	return total
}
