// Package fuzzy evaluates triangular membership functions over
// indicator columns, producing fuzzy feature frames in [0,1].
package fuzzy

import (
	"math"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// Scale selects the input transform applied before membership
// evaluation.
type Scale string

// Input scales.
const (
	ScaleLinear Scale = "linear"
	// ScaleLog evaluates membership on ln(x); the set's a/b/c are in
	// log space. Non-positive inputs become undefined.
	ScaleLog Scale = "log"
)

// Set is one triangular membership function over a named input column.
// Membership is 0 outside [a,c], 1 at b, linear between. Degenerate
// edges act as shoulders: a==b holds 1 for all x<=b, b==c holds 1 for
// all x>=b.
type Set struct {
	Name  string
	Input string
	A     float64
	B     float64
	C     float64
	Scale Scale
}

// Validate checks the triangle ordering and the scale.
func (s Set) Validate() error {
	if s.Name == "" || s.Input == "" {
		return kerr.New(kerr.KindConfig, "fuzzy set needs a name and an input")
	}
	if math.IsNaN(s.A) || math.IsNaN(s.B) || math.IsNaN(s.C) {
		return kerr.Newf(kerr.KindConfig, "fuzzy set %q has non-finite points", s.Name)
	}
	if !(s.A <= s.B && s.B <= s.C) {
		return kerr.Newf(kerr.KindConfig, "fuzzy set %q requires a <= b <= c, got (%v, %v, %v)",
			s.Name, s.A, s.B, s.C)
	}
	switch s.Scale {
	case "", ScaleLinear, ScaleLog:
		return nil
	}
	return kerr.Newf(kerr.KindConfig, "fuzzy set %q has unknown scale %q", s.Name, s.Scale)
}

// Membership evaluates the set at x. Undefined inputs stay undefined.
func (s Set) Membership(x float64) float64 {
	if domain.IsUndefined(x) {
		return domain.Undefined()
	}
	if s.Scale == ScaleLog {
		if x <= 0 {
			return domain.Undefined()
		}
		x = math.Log(x)
	}
	// Shoulders extend past the degenerate edge.
	if s.A == s.B && x <= s.B {
		return 1
	}
	if s.B == s.C && x >= s.B {
		return 1
	}
	switch {
	case x < s.A || x > s.C:
		return 0
	case x == s.B:
		return 1
	case x < s.B:
		return clamp01((x - s.A) / (s.B - s.A))
	default:
		return clamp01((s.C - x) / (s.C - s.B))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
