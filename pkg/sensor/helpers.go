package sensor

import "math"

// round2 rounds v to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// clamp01 keeps raw fractions inside [0,1]; converters can overshoot by a count at the rails.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
