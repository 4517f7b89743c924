package lattice

import (
	"math"

	"github.com/golang/geo/r3"
)

// AngleBetween returns the angle between a and b in radians.
// The cosine is clamped to [-1, 1] so nearly parallel vectors never yield NaN.
func AngleBetween(a, b r3.Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	cos := a.Dot(b) / (na * nb)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// AngleDegrees returns the angle between a and b in degrees.
func AngleDegrees(a, b r3.Vector) float64 {
	return AngleBetween(a, b) * 180 / math.Pi
}

// HasNiggliAngles reports whether the cell a,b,c has all three angles below
// 90 degrees or all three at or above 90 degrees. Both inequalities are
// relaxed by epsilon degrees so that measured angles at the boundary count
// for either type.
func HasNiggliAngles(a, b, c r3.Vector, epsilon float64) bool {
	alpha := AngleDegrees(b, c)
	beta := AngleDegrees(c, a)
	gamma := AngleDegrees(a, b)

	if alpha < 90+epsilon && beta < 90+epsilon && gamma < 90+epsilon {
		return true
	}
	if alpha >= 90-epsilon && beta >= 90-epsilon && gamma >= 90-epsilon {
		return true
	}
	return false
}

// tripleProduct returns (a x b) . c, the signed cell volume.
func tripleProduct(a, b, c r3.Vector) float64 {
	return a.Cross(b).Dot(c)
}

func isFiniteVector(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
