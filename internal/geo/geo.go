// Package geo provides spherical geodesy helpers used by the grid walker.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for every calculation in this package.
const EarthRadiusKm = 6371.001

const earthRadiusM = EarthRadiusKm * 1000

// Compass bearings in degrees clockwise from north.
const (
	North = 0.0
	East  = 90.0
	South = 180.0
	West  = 270.0
)

// LatLng is a position in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Destination solves the direct geodesic problem on a sphere: the point reached by
// travelling distanceM metres from origin along bearingDeg. Longitude is not
// wrapped into [-180, 180].
func Destination(origin LatLng, bearingDeg, distanceM float64) LatLng {
	lat1 := toRadians(origin.Lat)
	lng1 := toRadians(origin.Lng)
	theta := toRadians(bearingDeg)
	delta := distanceM / earthRadiusM

	sinLat1, cosLat1 := math.Sincos(lat1)
	sinDelta, cosDelta := math.Sincos(delta)

	sinLat2 := sinLat1*cosDelta + cosLat1*sinDelta*math.Cos(theta)
	lat2 := math.Asin(clamp(sinLat2, -1, 1))
	lng2 := lng1 + math.Atan2(
		math.Sin(theta)*sinDelta*cosLat1,
		cosDelta-sinLat1*math.Sin(lat2),
	)

	return LatLng{Lat: toDegrees(lat2), Lng: toDegrees(lng2)}
}

// Distance returns the haversine great-circle distance in metres.
func Distance(a, b LatLng) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusM * math.Asin(math.Sqrt(clamp(h, 0, 1)))
}

// NormalizeBearing maps any bearing into [0, 360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	return b
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
