package geo

import (
	"math"
	"math/rand"
)

// EarthRadiusKm is the mean Earth radius used for great-circle math.
const EarthRadiusKm = 6371.0

// degPerKm approximates one degree of latitude as 111 km. The same factor
// is applied to longitude without a cosine-latitude correction, so sampled
// offsets stretch east-west away from the equator. Kept for compatibility
// with existing target sets.
const degPerKm = 1.0 / 111.0

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
func HaversineKm(a, b Coordinates) float64 {
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Latitude))*math.Cos(radians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// DistanceMeters returns the great-circle distance between a and b in meters.
func DistanceMeters(a, b Coordinates) float64 {
	return HaversineKm(a, b) * 1000
}

// InitialBearingDegrees returns the forward azimuth from a to b in [0, 360).
func InitialBearingDegrees(a, b Coordinates) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// RandomPointWithinRadius samples a point at most radiusKm from center.
// Distance is drawn uniformly in [0, radiusKm], not uniformly by area, so
// samples cluster toward the center. That matches how targets have always
// been generated; do not "fix" without migrating stored rounds.
func RandomPointWithinRadius(center Coordinates, radiusKm float64) Coordinates {
	radiusDeg := radiusKm * degPerKm

	angle := rand.Float64() * 2 * math.Pi
	dist := rand.Float64() * radiusDeg

	return Coordinates{
		Latitude:  center.Latitude + dist*math.Cos(angle),
		Longitude: center.Longitude + dist*math.Sin(angle),
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
