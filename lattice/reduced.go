package lattice

import (
	"fmt"
	"math"
)

// NumReducedForms is the number of reduced forms in the international table.
// Form 0 is the unconstrained cell.
const NumReducedForms = 44

// CellType is the crystal family of a conventional cell.
type CellType string

const (
	CellTypeNone         CellType = "NONE"
	CellTypeCubic        CellType = "CUBIC"
	CellTypeHexagonal    CellType = "HEXAGONAL"
	CellTypeRhombohedral CellType = "RHOMBOHEDRAL"
	CellTypeTetragonal   CellType = "TETRAGONAL"
	CellTypeOrthorhombic CellType = "ORTHORHOMBIC"
	CellTypeMonoclinic   CellType = "MONOCLINIC"
	CellTypeTriclinic    CellType = "TRICLINIC"
)

// symmetryRank orders cell types from most to least symmetric.
func (t CellType) symmetryRank() int {
	switch t {
	case CellTypeCubic:
		return 7
	case CellTypeHexagonal:
		return 6
	case CellTypeRhombohedral:
		return 5
	case CellTypeTetragonal:
		return 4
	case CellTypeOrthorhombic:
		return 3
	case CellTypeMonoclinic:
		return 2
	case CellTypeTriclinic:
		return 1
	default:
		return 0
	}
}

// Centering is the lattice centering of a conventional cell.
type Centering string

const (
	CenteringNone Centering = "NONE"
	CenteringP    Centering = "P_CENTERED"
	CenteringF    Centering = "F_CENTERED"
	CenteringI    Centering = "I_CENTERED"
	CenteringC    Centering = "C_CENTERED"
	CenteringR    Centering = "R_CENTERED"
)

// dots holds the six dot-product invariants of a cell.
type dots struct {
	aa, bb, cc float64
	bc, ac, ab float64
}

// footnoteRule optionally reclassifies the centering when a face diagonal is
// short relative to an edge, adjusting the transform with a correction matrix.
type footnoteRule struct {
	applies   func(d dots) bool
	modifier  Mat3
	centering Centering
}

// Correction matrices applied by footnote rules.
var (
	footnoteToBody = Mat3{{0, 0, -1}, {0, 1, 0}, {1, 0, 1}}
	footnoteToBase = Mat3{{-1, 0, -1}, {0, 1, 0}, {1, 0, 0}}
)

var (
	footnoteB = &footnoteRule{
		applies:   func(d dots) bool { return d.aa < 4*math.Abs(d.ac) },
		modifier:  footnoteToBody,
		centering: CenteringI,
	}
	footnoteC = &footnoteRule{
		applies:   func(d dots) bool { return d.bb < 4*math.Abs(d.bc) },
		modifier:  footnoteToBody,
		centering: CenteringI,
	}
	footnoteD = &footnoteRule{
		applies:   func(d dots) bool { return d.cc < 4*math.Abs(d.bc) },
		modifier:  footnoteToBody,
		centering: CenteringI,
	}
	footnoteE = &footnoteRule{
		applies:   func(d dots) bool { return 3*d.aa < d.cc+2*math.Abs(d.ac) },
		modifier:  footnoteToBase,
		centering: CenteringC,
	}
	footnoteF = &footnoteRule{
		applies:   func(d dots) bool { return 3*d.bb < d.cc+2*math.Abs(d.bc) },
		modifier:  footnoteToBase,
		centering: CenteringC,
	}
)

// formSpec is one row of the reduced-form table: the reduced-to-conventional
// transform, the resulting cell, the off-diagonal scalar formula and an
// optional footnote.
type formSpec struct {
	transform Mat3
	cellType  CellType
	centering Centering
	offDiag   func(d dots) [3]float64
	footnote  *footnoteRule
}

func off(a, b, c float64) [3]float64 { return [3]float64{a, b, c} }

// reducedForms is indexed by form id.
var reducedForms = [NumReducedForms + 1]formSpec{
	0: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeNone, CenteringNone,
		func(d dots) [3]float64 { return off(d.bc, d.ac, d.ab) }, nil},
	1: {Mat3{{1, -1, 1}, {1, 1, -1}, {-1, 1, 1}}, CellTypeCubic, CenteringF,
		func(d dots) [3]float64 { return off(d.aa/2, d.aa/2, d.aa/2) }, nil},
	2: {Mat3{{1, -1, 0}, {-1, 0, 1}, {-1, -1, -1}}, CellTypeRhombohedral, CenteringR,
		func(d dots) [3]float64 { return off(d.bc, d.bc, d.bc) }, nil},
	3: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeCubic, CenteringP,
		func(d dots) [3]float64 { return off(0, 0, 0) }, nil},
	4: {Mat3{{1, -1, 0}, {-1, 0, 1}, {-1, -1, -1}}, CellTypeRhombohedral, CenteringR,
		func(d dots) [3]float64 { v := -math.Abs(d.bc); return off(v, v, v) }, nil},
	5: {Mat3{{1, 0, 1}, {1, 1, 0}, {0, 1, 1}}, CellTypeCubic, CenteringI,
		func(d dots) [3]float64 { return off(-d.aa/3, -d.aa/3, -d.aa/3) }, nil},
	6: {Mat3{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}}, CellTypeTetragonal, CenteringI,
		func(d dots) [3]float64 {
			v := (-d.aa + math.Abs(d.ab)) / 2
			return off(v, v, -math.Abs(d.ab))
		}, nil},
	7: {Mat3{{1, 0, 1}, {1, 1, 0}, {0, 1, 1}}, CellTypeTetragonal, CenteringI,
		func(d dots) [3]float64 {
			v := (-d.aa + math.Abs(d.bc)) / 2
			return off(-math.Abs(d.bc), v, v)
		}, nil},
	8: {Mat3{{-1, -1, 0}, {-1, 0, -1}, {0, -1, -1}}, CellTypeOrthorhombic, CenteringI,
		func(d dots) [3]float64 {
			return off(-math.Abs(d.bc), -math.Abs(d.ac), -(math.Abs(d.aa) - math.Abs(d.bc) - math.Abs(d.ac)))
		}, nil},
	9: {Mat3{{1, 0, 0}, {-1, 1, 0}, {-1, -1, 3}}, CellTypeRhombohedral, CenteringR,
		func(d dots) [3]float64 { return off(d.aa/2, d.aa/2, d.aa/2) }, nil},
	10: {Mat3{{1, 1, 0}, {1, -1, 0}, {0, 0, -1}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(d.bc, d.bc, d.ab) }, footnoteD},
	11: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeTetragonal, CenteringP,
		func(d dots) [3]float64 { return off(0, 0, 0) }, nil},
	12: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeHexagonal, CenteringP,
		func(d dots) [3]float64 { return off(0, 0, -d.aa/2) }, nil},
	13: {Mat3{{1, 1, 0}, {-1, 1, 0}, {0, 0, 1}}, CellTypeOrthorhombic, CenteringC,
		func(d dots) [3]float64 { return off(0, 0, -math.Abs(d.ab)) }, nil},
	14: {Mat3{{1, 1, 0}, {-1, 1, 0}, {0, 0, 1}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), -math.Abs(d.bc), -math.Abs(d.ab)) }, footnoteD},
	15: {Mat3{{1, 0, 0}, {0, 1, 0}, {1, 1, 2}}, CellTypeTetragonal, CenteringI,
		func(d dots) [3]float64 { return off(-d.aa/2, -d.aa/2, 0) }, nil},
	16: {Mat3{{-1, -1, 0}, {1, -1, 0}, {1, 1, 2}}, CellTypeOrthorhombic, CenteringF,
		func(d dots) [3]float64 {
			return off(-math.Abs(d.bc), -math.Abs(d.bc), -(d.aa - 2*math.Abs(d.bc)))
		}, nil},
	17: {Mat3{{-1, 0, -1}, {-1, -1, 0}, {0, 1, 1}}, CellTypeMonoclinic, CenteringI,
		func(d dots) [3]float64 {
			return off(-math.Abs(d.bc), -math.Abs(d.ac), -(d.aa - math.Abs(d.bc) - math.Abs(d.ac)))
		}, footnoteE},
	18: {Mat3{{0, -1, 1}, {1, -1, -1}, {1, 0, 0}}, CellTypeTetragonal, CenteringI,
		func(d dots) [3]float64 { return off(d.aa/4, d.aa/2, d.aa/2) }, nil},
	19: {Mat3{{-1, 0, 0}, {0, -1, 1}, {-1, 1, 1}}, CellTypeOrthorhombic, CenteringI,
		func(d dots) [3]float64 { return off(d.bc, d.aa/2, d.aa/2) }, nil},
	20: {Mat3{{0, 1, 1}, {0, 1, -1}, {-1, 0, 0}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(d.bc, d.ac, d.ac) }, footnoteB},
	21: {Mat3{{0, 1, 0}, {0, 0, 1}, {1, 0, 0}}, CellTypeTetragonal, CenteringP,
		func(d dots) [3]float64 { return off(0, 0, 0) }, nil},
	22: {Mat3{{0, 1, 0}, {0, 0, 1}, {1, 0, 0}}, CellTypeHexagonal, CenteringP,
		func(d dots) [3]float64 { return off(-d.bb/2, 0, 0) }, nil},
	23: {Mat3{{0, 1, 1}, {0, -1, 1}, {1, 0, 0}}, CellTypeOrthorhombic, CenteringC,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), 0, 0) }, nil},
	24: {Mat3{{1, 2, 1}, {0, -1, 1}, {1, 0, 0}}, CellTypeRhombohedral, CenteringR,
		func(d dots) [3]float64 { return off(-(d.bb-d.aa/3)/2, -d.aa/3, -d.aa/3) }, nil},
	25: {Mat3{{0, 1, 1}, {0, -1, 1}, {1, 0, 0}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), -math.Abs(d.ac), -math.Abs(d.ac)) }, footnoteB},
	26: {Mat3{{1, 0, 0}, {-1, 2, 0}, {-1, 0, 2}}, CellTypeOrthorhombic, CenteringF,
		func(d dots) [3]float64 { return off(d.aa/4, d.aa/2, d.aa/2) }, nil},
	27: {Mat3{{0, -1, 1}, {-1, 0, 0}, {1, -1, -1}}, CellTypeMonoclinic, CenteringI,
		func(d dots) [3]float64 { return off(d.bc, d.aa/2, d.aa/2) }, footnoteF},
	28: {Mat3{{-1, 0, 0}, {-1, 0, 2}, {0, 1, 0}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(d.ab/2, d.aa/2, d.ab) }, nil},
	29: {Mat3{{1, 0, 0}, {1, -2, 0}, {0, 0, -1}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(d.ac/2, d.ac, d.aa/2) }, nil},
	30: {Mat3{{0, 1, 0}, {0, 1, -2}, {-1, 0, 0}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(d.bb/2, d.ab/2, d.ab) }, nil},
	31: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeTriclinic, CenteringP,
		func(d dots) [3]float64 { return off(d.bc, d.ac, d.ab) }, nil},
	32: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeOrthorhombic, CenteringP,
		func(d dots) [3]float64 { return off(0, 0, 0) }, nil},
	33: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeMonoclinic, CenteringP,
		func(d dots) [3]float64 { return off(0, -math.Abs(d.ac), 0) }, nil},
	34: {Mat3{{-1, 0, 0}, {0, 0, -1}, {0, -1, 0}}, CellTypeMonoclinic, CenteringP,
		func(d dots) [3]float64 { return off(0, 0, -math.Abs(d.ab)) }, nil},
	35: {Mat3{{0, -1, 0}, {-1, 0, 0}, {0, 0, -1}}, CellTypeMonoclinic, CenteringP,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), 0, 0) }, nil},
	36: {Mat3{{1, 0, 0}, {-1, 0, -2}, {0, 1, 0}}, CellTypeOrthorhombic, CenteringC,
		func(d dots) [3]float64 { return off(0, -d.aa/2, 0) }, nil},
	37: {Mat3{{1, 0, 2}, {1, 0, 0}, {0, 1, 0}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), -d.aa/2, 0) }, footnoteC},
	38: {Mat3{{-1, 0, 0}, {1, 2, 0}, {0, 0, -1}}, CellTypeOrthorhombic, CenteringC,
		func(d dots) [3]float64 { return off(0, 0, -d.aa/2) }, nil},
	39: {Mat3{{-1, -2, 0}, {-1, 0, 0}, {0, 0, -1}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), 0, -d.aa/2) }, footnoteD},
	40: {Mat3{{0, -1, 0}, {0, 1, 2}, {-1, 0, 0}}, CellTypeOrthorhombic, CenteringC,
		func(d dots) [3]float64 { return off(-d.bb/2, 0, 0) }, nil},
	41: {Mat3{{0, -1, -2}, {0, -1, 0}, {-1, 0, 0}}, CellTypeMonoclinic, CenteringC,
		func(d dots) [3]float64 { return off(-d.bb/2, -math.Abs(d.ac), 0) }, footnoteB},
	42: {Mat3{{-1, 0, 0}, {0, -1, 0}, {1, 1, 2}}, CellTypeOrthorhombic, CenteringI,
		func(d dots) [3]float64 { return off(-d.bb/2, -d.aa/2, 0) }, nil},
	43: {Mat3{{-1, 0, 0}, {-1, -1, -2}, {0, -1, 0}}, CellTypeMonoclinic, CenteringI,
		func(d dots) [3]float64 {
			return off(-(d.bb-math.Abs(d.ab))/2, -(d.aa-math.Abs(d.ab))/2, -math.Abs(d.ab))
		}, nil},
	44: {Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, CellTypeTriclinic, CenteringP,
		func(d dots) [3]float64 { return off(-math.Abs(d.bc), -math.Abs(d.ac), -math.Abs(d.ab)) }, nil},
}

// diagonal returns the squared-edge scalars that form imposes.
func diagonal(form int, d dots) [3]float64 {
	switch {
	case form == 0:
		return [3]float64{d.aa, d.bb, d.cc}
	case form <= 8:
		return [3]float64{d.aa, d.aa, d.aa}
	case form <= 17:
		return [3]float64{d.aa, d.aa, d.cc}
	case form <= 25:
		return [3]float64{d.aa, d.bb, d.bb}
	default:
		return [3]float64{d.aa, d.bb, d.cc}
	}
}

// ReducedCell is the classification of a cell against one reduced form.
// It is immutable once computed.
type ReducedCell struct {
	Form int `json:"form"`

	// Dot-product invariants a.a, b.b, c.c, b.c, a.c, a.b. For forms other
	// than 0 the off-diagonal products are absolute values.
	AA float64 `json:"aa"`
	BB float64 `json:"bb"`
	CC float64 `json:"cc"`
	BC float64 `json:"bc"`
	AC float64 `json:"ac"`
	AB float64 `json:"ab"`

	// Scalars are the form's idealized scalar descriptors in the same order.
	Scalars [6]float64 `json:"scalars"`

	// Transform maps the reduced cell basis to the conventional cell basis.
	Transform Mat3      `json:"transform"`
	CellType  CellType  `json:"cellType"`
	Centering Centering `json:"centering"`
}

// ClassifyReducedCell classifies the cell p against reduced form form
// (0..44). Angles in p are in degrees.
func ClassifyReducedCell(form int, p LatticeParams) (ReducedCell, error) {
	if p.A <= 0 || p.B <= 0 || p.C <= 0 {
		return ReducedCell{}, fmt.Errorf("reduced cell: a, b, c must be positive: %w", ErrInvalidConfiguration)
	}
	for _, ang := range []float64{p.Alpha, p.Beta, p.Gamma} {
		if ang <= 0 || ang >= 180 {
			return ReducedCell{}, fmt.Errorf("reduced cell: angle %g outside (0, 180): %w", ang, ErrInvalidConfiguration)
		}
	}
	if form < 0 || form > NumReducedForms {
		return ReducedCell{}, fmt.Errorf("reduced cell: form %d outside [0, %d]: %w", form, NumReducedForms, ErrInvalidConfiguration)
	}

	rad := math.Pi / 180
	d := dots{
		aa: p.A * p.A,
		bb: p.B * p.B,
		cc: p.C * p.C,
		bc: p.B * p.C * math.Cos(p.Alpha*rad),
		ac: p.A * p.C * math.Cos(p.Beta*rad),
		ab: p.A * p.B * math.Cos(p.Gamma*rad),
	}
	if form > 0 {
		d.bc = math.Abs(d.bc)
		d.ac = math.Abs(d.ac)
		d.ab = math.Abs(d.ab)
	}

	spec := reducedForms[form]
	diag := diagonal(form, d)
	od := spec.offDiag(d)

	rc := ReducedCell{
		Form:      form,
		AA:        d.aa,
		BB:        d.bb,
		CC:        d.cc,
		BC:        d.bc,
		AC:        d.ac,
		AB:        d.ab,
		Scalars:   [6]float64{diag[0], diag[1], diag[2], od[0], od[1], od[2]},
		Transform: spec.transform,
		CellType:  spec.cellType,
		Centering: spec.centering,
	}

	if fn := spec.footnote; fn != nil && fn.applies(d) {
		rc.Transform = fn.modifier.Mul(rc.Transform)
		rc.Centering = fn.centering
	}

	return rc, nil
}

// lengthScalars converts the dot-product scalars into length-like values:
// edge lengths, and for the cross terms the face diagonal length given by
// the law of cosines, so differences correspond to errors in lattice
// positions.
func lengthScalars(s [6]float64) [6]float64 {
	a := math.Sqrt(math.Max(0, s[0]))
	b := math.Sqrt(math.Max(0, s[1]))
	c := math.Sqrt(math.Max(0, s[2]))
	return [6]float64{
		a, b, c,
		math.Sqrt(math.Max(0, b*b+c*c-2*s[3])),
		math.Sqrt(math.Max(0, a*a+c*c-2*s[4])),
		math.Sqrt(math.Max(0, a*a+b*b-2*s[5])),
	}
}

// WeightedDistance returns the largest absolute difference between the
// length-like descriptors of rc and other. It is zero when the two
// classifications describe the same cell.
func (rc ReducedCell) WeightedDistance(other ReducedCell) float64 {
	v1 := lengthScalars(rc.Scalars)
	v2 := lengthScalars(other.Scalars)
	maxDiff := 0.0
	for i := range v1 {
		if diff := math.Abs(v1[i] - v2[i]); diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff
}
