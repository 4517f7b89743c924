package lattice

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ConventionalCell is one candidate conventional cell for an orientation
// matrix, produced by BuildConventionalCell.
type ConventionalCell struct {
	Form      int       `json:"form"`
	Error     float64   `json:"error"`
	CellType  CellType  `json:"cellType"`
	Centering Centering `json:"centering"`

	// OriginalUB is the matrix of the reduced cell the candidate was built from.
	OriginalUB Mat3 `json:"originalUB"`
	// Transform maps reduced cell indices to conventional cell indices.
	Transform Mat3 `json:"transform"`
	// UB is the orientation matrix of the conventional cell.
	UB Mat3 `json:"ub"`
}

// LatticeParams returns the lattice parameters of the conventional cell.
func (c ConventionalCell) LatticeParams() (LatticeParams, error) {
	return LatticeParamsFromUB(c.UB)
}

// String formats the cell for display.
func (c ConventionalCell) String() string {
	return fmt.Sprintf("form %2d  error %.4f  %s %s", c.Form, c.Error, c.CellType, c.Centering)
}

// BuildConventionalCell builds the conventional cell of reduced form form for
// ub, whose lattice parameters are params. The error is the weighted
// distance between the form's idealized scalars and the unconstrained cell.
// With allowPermutations the axes of tetragonal, hexagonal and rhombohedral
// cells are reordered into their standard setting.
func BuildConventionalCell(form int, ub Mat3, allowPermutations bool, params LatticeParams) (ConventionalCell, error) {
	form0, err := ClassifyReducedCell(0, params)
	if err != nil {
		return ConventionalCell{}, err
	}
	formI, err := ClassifyReducedCell(form, params)
	if err != nil {
		return ConventionalCell{}, err
	}

	tInv, err := formI.Transform.Inverse()
	if err != nil {
		return ConventionalCell{}, fmt.Errorf("form %d transform: %w", form, err)
	}
	adjusted := ub.Mul(tInv)

	if allowPermutations {
		switch formI.CellType {
		case CellTypeTetragonal:
			adjusted, err = standardizeTetragonal(adjusted)
		case CellTypeHexagonal, CellTypeRhombohedral:
			adjusted, err = standardizeHexagonal(adjusted)
		}
		if err != nil {
			return ConventionalCell{}, fmt.Errorf("standardizing form %d: %w", form, err)
		}
	}

	return ConventionalCell{
		Form:       form,
		Error:      form0.WeightedDistance(formI),
		CellType:   formI.CellType,
		Centering:  formI.Centering,
		OriginalUB: ub,
		Transform:  formI.Transform,
		UB:         adjusted,
	}, nil
}

// standardizeTetragonal puts the two most nearly equal edges first.
func standardizeTetragonal(ub Mat3) (Mat3, error) {
	a, b, c, err := ABCFromUB(ub)
	if err != nil {
		return Mat3{}, err
	}
	na, nb, nc := a.Norm(), b.Norm(), c.Norm()
	abDiff := math.Abs(na-nb) / math.Min(na, nb)
	acDiff := math.Abs(na-nc) / math.Min(na, nc)
	bcDiff := math.Abs(nb-nc) / math.Min(nb, nc)

	switch {
	case acDiff <= abDiff && acDiff <= bcDiff:
		return UBFromABC(c, a, b)
	case bcDiff <= abDiff && bcDiff <= acDiff:
		return UBFromABC(b, c, a)
	default:
		return ub, nil
	}
}

// standardizeHexagonal makes the non-90 degree angle gamma and, when it is
// near 60 degrees, flips a and c so that it becomes near 120.
func standardizeHexagonal(ub Mat3) (Mat3, error) {
	a, b, c, err := ABCFromUB(ub)
	if err != nil {
		return Mat3{}, err
	}

	alpha := AngleDegrees(b, c)
	beta := AngleDegrees(c, a)
	switch {
	case math.Abs(alpha-90) > 20:
		a, b, c = b, c, a
	case math.Abs(beta-90) > 20:
		a, b, c = c, a, b
	}

	if math.Abs(AngleDegrees(a, b)-60) < 10 {
		a, c = negate(a), negate(c)
	}
	return UBFromABC(a, b, c)
}

func negate(v r3.Vector) r3.Vector {
	return r3.Vector{X: -v.X, Y: -v.Y, Z: -v.Z}
}
