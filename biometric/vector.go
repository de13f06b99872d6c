// Package biometric matches face vectors against enrolled employees and
// wraps the external face encoder.
package biometric

import (
	"fmt"
	"math"

	"github.com/warp/attendance-engine/core"
)

// DefaultTolerance is the maximum Euclidean distance, exclusive, at which
// two vectors are considered the same face.
const DefaultTolerance = 0.5

// Validate rejects vectors of the wrong length or with non-finite values.
func Validate(v []float64, dim int) error {
	if len(v) != dim {
		return &core.ValidationError{
			Field:   "face_vector",
			Message: fmt.Sprintf("must have exactly %d values, got %d", dim, len(v)),
		}
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return &core.ValidationError{
				Field:   "face_vector",
				Message: fmt.Sprintf("value %d is not finite", i),
			}
		}
	}
	return nil
}

// Distance is the Euclidean distance between equal-length vectors.
func Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
