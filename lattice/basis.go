package lattice

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Orientation matrices whose determinant falls outside this range are
// rejected as unreasonable.
const (
	minUBDeterminant = 1e-12
	maxUBDeterminant = 10.0
)

// Mat3 is a row-major 3x3 matrix. Values are never mutated in place by this
// package; every operation returns a new matrix.
type Mat3 [3][3]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MatFromRows builds a matrix whose rows are a, b and c.
func MatFromRows(a, b, c r3.Vector) Mat3 {
	return Mat3{
		{a.X, a.Y, a.Z},
		{b.X, b.Y, b.Z},
		{c.X, c.Y, c.Z},
	}
}

// Row returns row i as a vector.
func (m Mat3) Row(i int) r3.Vector {
	return r3.Vector{X: m[i][0], Y: m[i][1], Z: m[i][2]}
}

// Mul returns m * o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return r
}

// MulVec returns m * v.
func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Transpose returns the transpose of m.
func (m Mat3) Transpose() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Det returns the determinant of m.
func (m Mat3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// IsFinite reports whether every entry of m is finite.
func (m Mat3) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(m[i][j]) || math.IsInf(m[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// Inverse returns the inverse of m computed from its adjugate.
func (m Mat3) Inverse() (Mat3, error) {
	det := m.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Mat3{}, fmt.Errorf("inverting matrix with determinant %g: %w", det, ErrDegenerateMatrix)
	}
	inv := 1 / det
	r := Mat3{
		{
			(m[1][1]*m[2][2] - m[1][2]*m[2][1]) * inv,
			(m[0][2]*m[2][1] - m[0][1]*m[2][2]) * inv,
			(m[0][1]*m[1][2] - m[0][2]*m[1][1]) * inv,
		},
		{
			(m[1][2]*m[2][0] - m[1][0]*m[2][2]) * inv,
			(m[0][0]*m[2][2] - m[0][2]*m[2][0]) * inv,
			(m[0][2]*m[1][0] - m[0][0]*m[1][2]) * inv,
		},
		{
			(m[1][0]*m[2][1] - m[1][1]*m[2][0]) * inv,
			(m[0][1]*m[2][0] - m[0][0]*m[2][1]) * inv,
			(m[0][0]*m[1][1] - m[0][1]*m[1][0]) * inv,
		},
	}
	if !r.IsFinite() {
		return Mat3{}, fmt.Errorf("inverse is not finite: %w", ErrDegenerateMatrix)
	}
	return r, nil
}

// UBFromABC returns the orientation matrix whose inverse has the real-space
// edge vectors a, b and c as rows.
func UBFromABC(a, b, c r3.Vector) (Mat3, error) {
	ub, err := MatFromRows(a, b, c).Inverse()
	if err != nil {
		return Mat3{}, fmt.Errorf("forming UB from edges: %w", err)
	}
	return ub, nil
}

// ABCFromUB returns the real-space edge vectors a, b and c of ub.
func ABCFromUB(ub Mat3) (a, b, c r3.Vector, err error) {
	inv, err := ub.Inverse()
	if err != nil {
		return r3.Vector{}, r3.Vector{}, r3.Vector{}, fmt.Errorf("extracting edges from UB: %w", err)
	}
	return inv.Row(0), inv.Row(1), inv.Row(2), nil
}

// CheckUB verifies that ub is usable as an orientation matrix: all entries
// finite and the determinant bounded away from zero and from unreasonably
// large values.
func CheckUB(ub Mat3) error {
	if !ub.IsFinite() {
		return fmt.Errorf("UB has non-finite entries: %w", ErrDegenerateMatrix)
	}
	det := math.Abs(ub.Det())
	if det < minUBDeterminant || det > maxUBDeterminant {
		return fmt.Errorf("UB determinant %g outside [%g, %g]: %w",
			det, minUBDeterminant, maxUBDeterminant, ErrDegenerateMatrix)
	}
	return nil
}

// LatticeParams holds the six lattice parameters of a cell. Lengths are in
// the inverse units of the q-vectors (usually Angstrom), angles in degrees.
type LatticeParams struct {
	A     float64 `json:"a" yaml:"a"`
	B     float64 `json:"b" yaml:"b"`
	C     float64 `json:"c" yaml:"c"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// Volume returns the cell volume.
func (p LatticeParams) Volume() float64 {
	ca := math.Cos(p.Alpha * math.Pi / 180)
	cb := math.Cos(p.Beta * math.Pi / 180)
	cg := math.Cos(p.Gamma * math.Pi / 180)
	v := 1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg
	if v < 0 {
		v = 0
	}
	return p.A * p.B * p.C * math.Sqrt(v)
}

// String formats the parameters for display.
func (p LatticeParams) String() string {
	return fmt.Sprintf("a=%.4f b=%.4f c=%.4f alpha=%.3f beta=%.3f gamma=%.3f",
		p.A, p.B, p.C, p.Alpha, p.Beta, p.Gamma)
}

// LatticeParamsFromUB derives the lattice parameters of the real-space cell
// described by ub.
func LatticeParamsFromUB(ub Mat3) (LatticeParams, error) {
	if math.Abs(ub.Det()) <= 1e-10 || !ub.IsFinite() {
		return LatticeParams{}, fmt.Errorf("lattice parameters: determinant of UB too close to 0: %w", ErrDegenerateMatrix)
	}
	a, b, c, err := ABCFromUB(ub)
	if err != nil {
		return LatticeParams{}, err
	}
	return LatticeParamsFromEdges(a, b, c), nil
}

// LatticeParamsFromEdges derives lattice parameters from real-space edges.
func LatticeParamsFromEdges(a, b, c r3.Vector) LatticeParams {
	return LatticeParams{
		A:     a.Norm(),
		B:     b.Norm(),
		C:     c.Norm(),
		Alpha: AngleDegrees(b, c),
		Beta:  AngleDegrees(c, a),
		Gamma: AngleDegrees(a, b),
	}
}

// DecomposeUB splits ub into the rotation U and the reciprocal metric B
// (Busing-Levy convention) such that ub = U * B.
func DecomposeUB(ub Mat3) (u, b Mat3, err error) {
	p, err := LatticeParamsFromUB(ub)
	if err != nil {
		return Mat3{}, Mat3{}, err
	}
	b = BMatrix(p)
	bInv, err := b.Inverse()
	if err != nil {
		return Mat3{}, Mat3{}, fmt.Errorf("decomposing UB: %w", err)
	}
	return ub.Mul(bInv), b, nil
}

// BMatrix returns the Busing-Levy B matrix of the cell p.
func BMatrix(p LatticeParams) Mat3 {
	rad := math.Pi / 180
	ca, cb, cg := math.Cos(p.Alpha*rad), math.Cos(p.Beta*rad), math.Cos(p.Gamma*rad)
	sa, sb, sg := math.Sin(p.Alpha*rad), math.Sin(p.Beta*rad), math.Sin(p.Gamma*rad)
	v := p.Volume()

	// reciprocal lengths and angles
	ra := p.B * p.C * sa / v
	rb := p.A * p.C * sb / v
	rc := p.A * p.B * sg / v
	cosRBeta := (ca*cg - cb) / (sa * sg)
	cosRGamma := (ca*cb - cg) / (sa * sb)
	sinRBeta := math.Sqrt(math.Max(0, 1-cosRBeta*cosRBeta))
	sinRGamma := math.Sqrt(math.Max(0, 1-cosRGamma*cosRGamma))

	return Mat3{
		{ra, rb * cosRGamma, rc * cosRBeta},
		{0, rb * sinRGamma, -rc * sinRBeta * ca},
		{0, 0, 1 / p.C},
	}
}
