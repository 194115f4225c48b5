package runtime

import "math"

// CalculateBackoffMultiplier returns factor^tries. Providers scale their
// base retry delay by it, so tries=0 leaves the delay unchanged.
func CalculateBackoffMultiplier(tries int, factor float64) float64 {
	return math.Pow(factor, float64(tries))
}
