// Package scoring turns a round's two signals, image similarity and
// geographic proximity, into points. Pure math, no I/O.
package scoring

import "math"

const (
	// MaxPoints is the ceiling for a perfect round.
	MaxPoints = 5000

	// maxDistanceMeters is where the proximity component bottoms out.
	maxDistanceMeters = 1000.0

	similarityWeight = 0.6
	proximityWeight  = 0.4
)

// Breakdown explains how a score was computed. The result screen shows
// the components, not just the total.
type Breakdown struct {
	SimilarityPercent float64 `json:"similarityPercent"`
	ProximityMeters   float64 `json:"proximityMeters"`
	ProximityScore    float64 `json:"proximityScore"`
	Combined          float64 `json:"combined"`
	Points            int     `json:"points"`
}

// ComputePoints maps similarity [0,100] and proximity in meters (>= 0) to
// points in [0, 5000]. Proximity scores 100 at 0 m and decays linearly to
// 0 at 1000 m. Inputs outside their ranges are a caller bug; this function
// never fails, it only clamps the final result at 0.
func ComputePoints(similarityPercent, proximityMeters float64) int {
	return Compute(similarityPercent, proximityMeters).Points
}

// Compute returns the full breakdown for a similarity/proximity pair.
func Compute(similarityPercent, proximityMeters float64) Breakdown {
	proximityScore := math.Max(0, 100-(proximityMeters/maxDistanceMeters)*100)
	combined := similarityPercent*similarityWeight + proximityScore*proximityWeight

	points := int(math.Round((combined / 100) * MaxPoints))
	if points < 0 {
		points = 0
	}

	return Breakdown{
		SimilarityPercent: similarityPercent,
		ProximityMeters:   proximityMeters,
		ProximityScore:    proximityScore,
		Combined:          combined,
		Points:            points,
	}
}

// ValidInputs reports whether the pair honors the caller contract.
// Handlers check this at the boundary before scoring.
func ValidInputs(similarityPercent, proximityMeters float64) bool {
	if math.IsNaN(similarityPercent) || math.IsNaN(proximityMeters) {
		return false
	}
	if similarityPercent < 0 || similarityPercent > 100 {
		return false
	}
	return proximityMeters >= 0
}
