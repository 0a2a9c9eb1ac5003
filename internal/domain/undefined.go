package domain

import "math"

// Undefined is the sentinel for indicator/fuzzy values that are not yet
// warm. It is IEEE NaN so that arithmetic propagates it instead of
// silently treating it as zero.
func Undefined() float64 {
	return math.NaN()
}

// IsUndefined reports whether v is the warm-up sentinel.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}
