package lattice

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// minFitPoints is the least number of indexed peaks a least squares fit
// accepts.
const minFitPoints = 3

// nearestIntError returns |v - round(v)|.
func nearestIntError(v float64) float64 {
	return math.Abs(v - math.Round(v))
}

// withinTol reports whether v lies within tol of an integer.
func withinTol(v, tol float64) bool {
	v = math.Abs(v)
	if v-math.Floor(v) < tol {
		return true
	}
	return math.Floor(v+1)-v < tol
}

// validIndex reports whether hkl is a non-zero triple of near-integers.
func validIndex(hkl r3.Vector, tol float64) bool {
	if round4(hkl.X) == 0 && round4(hkl.Y) == 0 && round4(hkl.Z) == 0 {
		return false
	}
	return withinTol(hkl.X, tol) && withinTol(hkl.Y, tol) && withinTol(hkl.Z, tol)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// numIndexed1D counts the q-vectors whose projection on dir is within tol
// of an integer. A zero direction indexes nothing.
func numIndexed1D(qs []r3.Vector, dir r3.Vector, tol float64) int {
	if dir.Norm() == 0 {
		return 0
	}
	count := 0
	for _, q := range qs {
		if nearestIntError(dir.Dot(q)) <= tol {
			count++
		}
	}
	return count
}

// indexedPeaks1D returns the integer index and q-vector of every peak that
// dir indexes within tol.
func indexedPeaks1D(qs []r3.Vector, dir r3.Vector, tol float64) ([]float64, []r3.Vector) {
	if dir.Norm() == 0 {
		return nil, nil
	}
	var indices []float64
	var indexed []r3.Vector
	for _, q := range qs {
		p := dir.Dot(q)
		if nearestIntError(p) < tol {
			indices = append(indices, math.Round(p))
			indexed = append(indexed, q)
		}
	}
	return indices, indexed
}

// numIndexed3D counts the q-vectors given a valid Miller index by the
// real-space edges a, b, c.
func numIndexed3D(qs []r3.Vector, a, b, c r3.Vector, tol float64) int {
	if a.Norm() == 0 || b.Norm() == 0 || c.Norm() == 0 {
		return 0
	}
	count := 0
	for _, q := range qs {
		if validIndex(r3.Vector{X: a.Dot(q), Y: b.Dot(q), Z: c.Dot(q)}, tol) {
			count++
		}
	}
	return count
}

// optimizeDirection fits the real-space vector d minimizing
// sum (d.q_i - index_i)^2.
func optimizeDirection(indices []float64, qs []r3.Vector) (r3.Vector, error) {
	if len(indices) < minFitPoints {
		return r3.Vector{}, fmt.Errorf("optimizing direction with %d points: %w", len(indices), ErrInsufficientData)
	}
	if len(indices) != len(qs) {
		return r3.Vector{}, fmt.Errorf("optimizing direction: %d indices for %d q-vectors: %w", len(indices), len(qs), ErrInvalidConfiguration)
	}

	h := mat.NewDense(len(qs), 3, nil)
	for i, q := range qs {
		h.SetRow(i, []float64{q.X, q.Y, q.Z})
	}
	var x mat.VecDense
	if err := x.SolveVec(h, mat.NewVecDense(len(indices), append([]float64(nil), indices...))); err != nil {
		return r3.Vector{}, fmt.Errorf("optimizing direction: %w", err)
	}
	d := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	if !isFiniteVector(d) {
		return r3.Vector{}, fmt.Errorf("optimized direction is not finite: %w", ErrDegenerateMatrix)
	}
	return d, nil
}

// refineDirection re-fits dir to the peaks it indexes up to rounds times
// and returns the best-scoring vector seen with its indexed count. A failed
// fit ends refinement and keeps the best so far.
func refineDirection(qs []r3.Vector, dir r3.Vector, tol float64, rounds int) (r3.Vector, int) {
	best, bestCount := dir, numIndexed1D(qs, dir, tol)
	current := dir
	for i := 0; i < rounds; i++ {
		indices, indexed := indexedPeaks1D(qs, current, tol)
		next, err := optimizeDirection(indices, indexed)
		if err != nil {
			logger.Debugw("direction refinement stopped", "round", i, "error", err)
			break
		}
		current = next
		if n := numIndexed1D(qs, current, tol); n >= bestCount {
			best, bestCount = current, n
		}
	}
	return best, bestCount
}

// optimizeUB fits the matrix minimizing sum |UB*hkl_i - q_i|^2 row by row.
// The fit is rejected if it is not finite or fails CheckUB.
func optimizeUB(hkls [][3]float64, qs []r3.Vector) (Mat3, error) {
	if len(hkls) < minFitPoints {
		return Mat3{}, fmt.Errorf("optimizing UB with %d peaks: %w", len(hkls), ErrInsufficientData)
	}
	if len(hkls) != len(qs) {
		return Mat3{}, fmt.Errorf("optimizing UB: %d indices for %d q-vectors: %w", len(hkls), len(qs), ErrInvalidConfiguration)
	}

	h := mat.NewDense(len(hkls), 3, nil)
	for i, hkl := range hkls {
		h.SetRow(i, hkl[:])
	}

	var ub Mat3
	col := make([]float64, len(qs))
	for row := 0; row < 3; row++ {
		for i, q := range qs {
			col[i] = [3]float64{q.X, q.Y, q.Z}[row]
		}
		var x mat.VecDense
		if err := x.SolveVec(h, mat.NewVecDense(len(col), append([]float64(nil), col...))); err != nil {
			return Mat3{}, fmt.Errorf("optimizing UB row %d: %w", row, err)
		}
		ub[row] = [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
	}
	if err := CheckUB(ub); err != nil {
		return Mat3{}, fmt.Errorf("optimized UB rejected: %w", err)
	}
	return ub, nil
}

// IndexedSet is the result of indexing a peak set with a fixed UB.
type IndexedSet struct {
	// Miller holds the rounded index of each indexed peak.
	Miller [][3]float64 `json:"miller"`
	// Q holds the indexed q-vectors, parallel to Miller.
	Q []r3.Vector `json:"q"`
	// FitError is the sum of squared deviations of the fractional indices
	// from their rounded values.
	FitError float64 `json:"fitError"`
}

// Count returns the number of indexed peaks.
func (s IndexedSet) Count() int { return len(s.Miller) }

// IndexedPeaks indexes qs with ub. A peak is indexed when all three
// components of inv(ub)*q lie within tol of integers and are not all zero.
func IndexedPeaks(ub Mat3, qs []r3.Vector, tol float64) (IndexedSet, error) {
	if err := CheckUB(ub); err != nil {
		return IndexedSet{}, err
	}
	inv, err := ub.Inverse()
	if err != nil {
		return IndexedSet{}, err
	}

	var set IndexedSet
	for _, q := range qs {
		hkl := inv.MulVec(q)
		if !validIndex(hkl, tol) {
			continue
		}
		rounded := [3]float64{math.Round(hkl.X), math.Round(hkl.Y), math.Round(hkl.Z)}
		for i, v := range [3]float64{hkl.X, hkl.Y, hkl.Z} {
			e := v - rounded[i]
			set.FitError += e * e
		}
		set.Miller = append(set.Miller, rounded)
		set.Q = append(set.Q, q)
	}
	return set, nil
}

// discardDuplicates collapses directions of nearly equal length that are
// nearly parallel or antiparallel, keeping the member of each group that
// indexes the most peaks. dirs must be sorted by length. Directions that
// index nothing are dropped.
func discardDuplicates(qs []r3.Vector, dirs []r3.Vector, tol, lengthTol, angleTol float64) []r3.Vector {
	work := append([]r3.Vector(nil), dirs...)
	var out []r3.Vector
	for i := range work {
		length := work[i].Norm()
		if length == 0 {
			continue
		}
		group := []r3.Vector{work[i]}
		for j := i + 1; j < len(work); j++ {
			next := work[j].Norm()
			if next == 0 {
				continue
			}
			if math.Abs(next-length)/length >= lengthTol {
				break
			}
			angle := AngleDegrees(work[i], work[j])
			if angle < angleTol || angle > 180-angleTol {
				group = append(group, work[j])
				work[j] = r3.Vector{}
			}
		}

		best, bestCount := r3.Vector{}, -1
		for _, d := range group {
			if n := numIndexed1D(qs, d, tol); n > bestCount {
				best, bestCount = d, n
			}
		}
		if bestCount > 0 {
			out = append(out, best)
		}
	}
	return out
}
