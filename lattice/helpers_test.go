package lattice

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
)

const epsilon = 1e-9

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func matricesEqual(m1, m2 Mat3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !almostEqual(m1[i][j], m2[i][j], tol) {
				return false
			}
		}
	}
	return true
}

func paramsEqual(t *testing.T, got, want LatticeParams, lenTol, angTol float64) {
	t.Helper()
	if !almostEqual(got.A, want.A, lenTol) || !almostEqual(got.B, want.B, lenTol) || !almostEqual(got.C, want.C, lenTol) {
		t.Errorf("edges = %.5f %.5f %.5f, want %.5f %.5f %.5f", got.A, got.B, got.C, want.A, want.B, want.C)
	}
	if !almostEqual(got.Alpha, want.Alpha, angTol) || !almostEqual(got.Beta, want.Beta, angTol) || !almostEqual(got.Gamma, want.Gamma, angTol) {
		t.Errorf("angles = %.4f %.4f %.4f, want %.4f %.4f %.4f", got.Alpha, got.Beta, got.Gamma, want.Alpha, want.Beta, want.Gamma)
	}
}

// rotation returns R_z(gamma) * R_y(beta) * R_x(alpha), angles in degrees.
func rotation(alpha, beta, gamma float64) Mat3 {
	rad := math.Pi / 180
	ca, sa := math.Cos(alpha*rad), math.Sin(alpha*rad)
	cb, sb := math.Cos(beta*rad), math.Sin(beta*rad)
	cg, sg := math.Cos(gamma*rad), math.Sin(gamma*rad)
	rx := Mat3{{1, 0, 0}, {0, ca, -sa}, {0, sa, ca}}
	ry := Mat3{{cb, 0, sb}, {0, 1, 0}, {-sb, 0, cb}}
	rz := Mat3{{cg, -sg, 0}, {sg, cg, 0}, {0, 0, 1}}
	return rz.Mul(ry).Mul(rx)
}

// orientedUB returns a UB for the cell p in a rotated frame.
func orientedUB(p LatticeParams) Mat3 {
	return rotation(17, -31, 52).Mul(BMatrix(p))
}

// syntheticPeaks returns q = UB*hkl for every non-zero hkl with components
// in [-n, n], each perturbed by up to noise in fractional index units.
func syntheticPeaks(ub Mat3, n int, noise float64, seed int64) []r3.Vector {
	rng := rand.New(rand.NewSource(seed))
	var qs []r3.Vector
	for h := -n; h <= n; h++ {
		for k := -n; k <= n; k++ {
			for l := -n; l <= n; l++ {
				if h == 0 && k == 0 && l == 0 {
					continue
				}
				hkl := r3.Vector{
					X: float64(h) + noise*(2*rng.Float64()-1),
					Y: float64(k) + noise*(2*rng.Float64()-1),
					Z: float64(l) + noise*(2*rng.Float64()-1),
				}
				qs = append(qs, ub.MulVec(hkl))
			}
		}
	}
	return qs
}

// sortedEdges returns a, b, c in increasing order.
func sortedEdges(p LatticeParams) [3]float64 {
	e := [3]float64{p.A, p.B, p.C}
	for i := 0; i < 2; i++ {
		for j := i + 1; j < 3; j++ {
			if e[j] < e[i] {
				e[i], e[j] = e[j], e[i]
			}
		}
	}
	return e
}
