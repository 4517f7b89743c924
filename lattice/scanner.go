package lattice

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxScalarError is the default ceiling on the weighted distance
	// of a reported conventional cell.
	DefaultMaxScalarError = 0.2

	// Related matrices are generated by reflections whose unchanged angle is
	// within relatedAngleTolerance degrees of 90, and kept when the edges
	// stay ordered within relatedLengthFactor.
	relatedAngleTolerance = 2.0
	relatedLengthFactor   = 1.05
)

// BravaisLattice is one of the 15 standard cell type and centering pairs.
type BravaisLattice struct {
	CellType  CellType
	Centering Centering
}

// BravaisLattices lists the standard pairs in scan order.
var BravaisLattices = [15]BravaisLattice{
	{CellTypeCubic, CenteringF},
	{CellTypeCubic, CenteringI},
	{CellTypeCubic, CenteringP},
	{CellTypeHexagonal, CenteringP},
	{CellTypeRhombohedral, CenteringR},
	{CellTypeTetragonal, CenteringI},
	{CellTypeTetragonal, CenteringP},
	{CellTypeOrthorhombic, CenteringF},
	{CellTypeOrthorhombic, CenteringI},
	{CellTypeOrthorhombic, CenteringC},
	{CellTypeOrthorhombic, CenteringP},
	{CellTypeMonoclinic, CenteringC},
	{CellTypeMonoclinic, CenteringI},
	{CellTypeMonoclinic, CenteringP},
	{CellTypeTriclinic, CenteringP},
}

// ScanOptions controls ScanCells.
type ScanOptions struct {
	// BestOnly keeps only the lowest-error cell of each Bravais lattice.
	BestOnly bool `json:"bestOnly" yaml:"bestOnly"`
	// AllowPermutations also scans symmetry-related matrices and puts
	// cells in their standard setting.
	AllowPermutations bool `json:"allowPermutations" yaml:"allowPermutations"`
	// MaxScalarError drops cells whose error exceeds it.
	MaxScalarError float64 `json:"maxScalarError" yaml:"maxScalarError"`
	// Workers bounds the number of lattices scanned concurrently. Zero or
	// less scans one at a time.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultScanOptions returns the options used when none are configured.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		BestOnly:          true,
		AllowPermutations: true,
		MaxScalarError:    DefaultMaxScalarError,
		Workers:           1,
	}
}

// ScanCells classifies ub against the 15 Bravais lattices and returns at
// most one cell per form, ranked by symmetry (highest first), then error,
// then form. Cells with error above opts.MaxScalarError are dropped.
func ScanCells(ub Mat3, opts ScanOptions) ([]ConventionalCell, error) {
	if opts.MaxScalarError < 0 || math.IsNaN(opts.MaxScalarError) {
		return nil, fmt.Errorf("max scalar error %g: %w", opts.MaxScalarError, ErrInvalidConfiguration)
	}
	if err := CheckUB(ub); err != nil {
		return nil, err
	}

	ubs := []Mat3{ub}
	if opts.AllowPermutations {
		related, err := RelatedUBs(ub, relatedLengthFactor, relatedAngleTolerance)
		if err != nil {
			return nil, err
		}
		if len(related) > 0 {
			ubs = related
		}
	}

	slots := make([][]ConventionalCell, len(BravaisLattices))
	var g errgroup.Group
	g.SetLimit(max(opts.Workers, 1))
	for i, bl := range BravaisLattices {
		i, bl := i, bl
		g.Go(func() error {
			cells, err := cellsForLattice(ubs, bl, opts.AllowPermutations)
			if err != nil {
				return fmt.Errorf("scanning %s %s: %w", bl.CellType, bl.Centering, err)
			}
			if opts.BestOnly && len(cells) > 0 {
				best, err := BestCell(cells, true)
				if err != nil {
					return err
				}
				cells = []ConventionalCell{best}
			}
			slots[i] = cells
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []ConventionalCell
	for _, cells := range slots {
		for _, c := range cells {
			results = addIfBest(results, c)
		}
	}
	results = RemoveHighErrorForms(results, opts.MaxScalarError)
	rankCells(results)

	logger.Debugw("cell scan complete", "matrices", len(ubs), "cells", len(results))
	return results, nil
}

// cellsForLattice builds every matching form of bl for each matrix in ubs,
// keeping the lowest error per form.
func cellsForLattice(ubs []Mat3, bl BravaisLattice, allowPermutations bool) ([]ConventionalCell, error) {
	var results []ConventionalCell
	for _, ub := range ubs {
		params, err := LatticeParamsFromUB(ub)
		if err != nil {
			return nil, err
		}
		for form := 0; form <= NumReducedForms; form++ {
			rc, err := ClassifyReducedCell(form, params)
			if err != nil {
				return nil, err
			}
			if rc.CellType != bl.CellType || rc.Centering != bl.Centering {
				continue
			}
			cell, err := BuildConventionalCell(form, ub, allowPermutations, params)
			if err != nil {
				return nil, err
			}
			results = addIfBest(results, cell)
		}
	}
	return results, nil
}

// addIfBest appends cell unless a cell with the same form is present, in
// which case the lower-error one is kept in place.
func addIfBest(results []ConventionalCell, cell ConventionalCell) []ConventionalCell {
	for i := range results {
		if results[i].Form == cell.Form {
			if results[i].Error > cell.Error {
				results[i] = cell
			}
			return results
		}
	}
	return append(results, cell)
}

// rankCells orders cells by symmetry rank descending, error, then form.
func rankCells(cells []ConventionalCell) {
	sort.SliceStable(cells, func(i, j int) bool {
		ri, rj := cells[i].CellType.symmetryRank(), cells[j].CellType.symmetryRank()
		if ri != rj {
			return ri > rj
		}
		if cells[i].Error != cells[j].Error {
			return cells[i].Error < cells[j].Error
		}
		return cells[i].Form < cells[j].Form
	})
}

// BestCell returns the lowest-error cell. Triclinic cells are only
// considered when useTriclinic is set.
func BestCell(cells []ConventionalCell, useTriclinic bool) (ConventionalCell, error) {
	if len(cells) == 0 {
		return ConventionalCell{}, fmt.Errorf("best cell of empty list: %w", ErrNoSolution)
	}
	best := -1
	minErr := math.Inf(1)
	for i, c := range cells {
		if !useTriclinic && c.CellType == CellTypeTriclinic {
			continue
		}
		if c.Error < minErr {
			best = i
			minErr = c.Error
		}
	}
	if best < 0 {
		return ConventionalCell{}, fmt.Errorf("no allowed form with minimum error: %w", ErrNoSolution)
	}
	return cells[best], nil
}

// RemoveHighErrorForms returns the cells whose error is at most level.
func RemoveHighErrorForms(cells []ConventionalCell, level float64) []ConventionalCell {
	out := make([]ConventionalCell, 0, len(cells))
	for _, c := range cells {
		if c.Error <= level {
			out = append(out, c)
		}
	}
	return out
}

// RelatedUBs returns orientation matrices describing the same lattice as ub
// that could equally be Niggli reduced given experimental error. Pairs of
// edges are reflected when the angle the reflection leaves unchanged is
// within angleTolerance of 90 degrees, and each reflection is permuted in
// the six handedness-preserving ways that keep |a| <= factor*|b| and
// |b| <= factor*|c|.
func RelatedUBs(ub Mat3, factor, angleTolerance float64) ([]Mat3, error) {
	a, b, c, err := ABCFromUB(ub)
	if err != nil {
		return nil, err
	}
	ma, mb, mc := negate(a), negate(b), negate(c)

	reflections := [4][3]r3.Vector{
		{a, b, c},
		{ma, mb, c},
		{ma, b, mc},
		{a, mb, mc},
	}
	unchanged := [4]float64{90, AngleDegrees(a, b), AngleDegrees(c, a), AngleDegrees(b, c)}

	var results []Mat3
	for i, r := range reflections {
		if math.Abs(unchanged[i]-90) >= angleTolerance {
			continue
		}
		ra, rb, rc := r[0], r[1], r[2]
		permutations := [6][3]r3.Vector{
			{ra, rb, rc},
			{negate(ra), rc, rb},
			{rb, rc, ra},
			{negate(rb), ra, rc},
			{rc, ra, rb},
			{negate(rc), rb, ra},
		}
		for _, p := range permutations {
			if p[0].Norm() > factor*p[1].Norm() || p[1].Norm() > factor*p[2].Norm() {
				continue
			}
			m, err := UBFromABC(p[0], p[1], p[2])
			if err != nil {
				return nil, err
			}
			results = append(results, m)
		}
	}
	return results, nil
}
