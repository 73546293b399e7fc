// Package similarity is the image-comparison oracle. The scoring contract
// only needs a percentage in [0,100]; how it is produced is pluggable.
package similarity

import (
	"context"
	"math"
	"math/rand"
)

// Oracle compares a captured photo against the round's reference imagery.
type Oracle interface {
	Compare(ctx context.Context, capturedRef, referenceImageURL string) (percent float64, err error)
}

// RandomOracle returns a random score with a small upward bonus, matching
// the placeholder the game shipped with until a real vision backend lands.
type RandomOracle struct{}

func (RandomOracle) Compare(_ context.Context, _, _ string) (float64, error) {
	base := rand.Float64() * 100
	bonus := rand.Float64() * 20
	return math.Min(100, math.Floor(base+bonus)), nil
}

// FixedOracle always reports the same score. For tests.
type FixedOracle struct {
	Percent float64
}

func (f FixedOracle) Compare(_ context.Context, _, _ string) (float64, error) {
	return f.Percent, nil
}
