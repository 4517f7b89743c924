package lattice

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

const (
	// MinPeaks is the least number of q-vectors Index accepts.
	MinPeaks = 4

	// MinDirections is the least number of distinct candidate edge
	// directions needed to choose a basis triple. Three directions leave no
	// choice and are rejected rather than guessed at.
	MinDirections = 4

	// TripleImprovementFactor is how many times more peaks a later (longer)
	// triple must index to replace the incumbent, biasing the search toward
	// smaller cells.
	TripleImprovementFactor = 1.2

	// DuplicateLengthTolerance and DuplicateAngleTolerance (degrees) decide
	// when two candidate directions describe the same edge.
	DuplicateLengthTolerance = 0.1
	DuplicateAngleTolerance  = 5.0

	// Edge lengths are accepted within these factors of [MinD, MaxD].
	minLengthFactor = 0.8
	maxLengthFactor = 1.2

	// Fractions of the best score a direction must reach to survive the
	// initial and post-refinement filters.
	initialScoreFraction = 0.5
	refinedScoreFraction = 0.75

	// minRefinePeaks is the least number of peaks for refining the full UB.
	minRefinePeaks = 5

	// TripleCandidatePeaks bounds the q-vectors whose triples seed edge
	// candidates. Sets at most this large always use them.
	TripleCandidatePeaks = 32

	// coplanarTolerance is the smallest |det| of a q-vector triple, relative
	// to the product of their norms, that is inverted for candidates.
	coplanarTolerance = 1e-3

	// MinDirStepSize is the finest hemisphere step, in radians, accepted.
	MinDirStepSize = 1e-3
)

// IndexConfig holds the parameters of one indexing run.
type IndexConfig struct {
	// MinD and MaxD bound the real-space edge lengths searched for.
	MinD float64 `json:"minD" yaml:"minD"`
	MaxD float64 `json:"maxD" yaml:"maxD"`
	// Tolerance is the largest deviation of a fractional index from an
	// integer for a peak to count as indexed.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
	// DirStepSize is the angular spacing of the hemisphere scan in radians.
	DirStepSize float64 `json:"dirStepSize" yaml:"dirStepSize"`
	// FFTSize is the number of histogram bins per projection.
	FFTSize int `json:"fftSize" yaml:"fftSize"`
	// Iterations bounds the least squares refinements of the full UB.
	Iterations int `json:"iterations" yaml:"iterations"`
	// DirectionRefinements bounds the least squares refinements of each
	// candidate direction.
	DirectionRefinements int `json:"directionRefinements" yaml:"directionRefinements"`
	// Workers bounds the goroutines used by the hemisphere scan.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultIndexConfig returns a configuration for edges between minD and maxD.
func DefaultIndexConfig(minD, maxD float64) IndexConfig {
	return IndexConfig{
		MinD:                 minD,
		MaxD:                 maxD,
		Tolerance:            0.15 * 0.75,
		DirStepSize:          0.03,
		FFTSize:              512,
		Iterations:           4,
		DirectionRefinements: 5,
		Workers:              1,
	}
}

// Validate checks the configuration bounds.
func (c IndexConfig) Validate() error {
	switch {
	case !(c.MinD > 0) || !(c.MaxD > c.MinD):
		return fmt.Errorf("need 0 < minD < maxD, got minD=%g maxD=%g: %w", c.MinD, c.MaxD, ErrInvalidConfiguration)
	case !(c.Tolerance > 0):
		return fmt.Errorf("tolerance must be positive, got %g: %w", c.Tolerance, ErrInvalidConfiguration)
	case !(c.DirStepSize >= MinDirStepSize):
		return fmt.Errorf("direction step must be at least %g, got %g: %w", MinDirStepSize, c.DirStepSize, ErrInvalidConfiguration)
	case c.FFTSize < 2*dcBins+4:
		return fmt.Errorf("fft size %d too small: %w", c.FFTSize, ErrInvalidConfiguration)
	case c.Iterations < 0 || c.DirectionRefinements < 0:
		return fmt.Errorf("iteration counts must not be negative: %w", ErrInvalidConfiguration)
	}
	return nil
}

// IndexResult is the outcome of a successful indexing run.
type IndexResult struct {
	// UB is the orientation matrix, Niggli reduced when reduction changed it.
	UB Mat3 `json:"ub"`
	// Reduced reports whether Niggli reduction changed the matrix.
	Reduced bool `json:"reduced"`
	// FitError and NumIndexed describe the refined matrix before reduction.
	FitError   float64 `json:"fitError"`
	NumIndexed int     `json:"numIndexed"`
	// Directions is the number of distinct edge directions found.
	Directions int           `json:"directions"`
	Lattice    LatticeParams `json:"lattice"`
}

// FindUB indexes qs with the default refinement settings and returns the
// orientation matrix.
func FindUB(qs []r3.Vector, minD, maxD, tolerance, step float64) (Mat3, error) {
	cfg := DefaultIndexConfig(minD, maxD)
	cfg.Tolerance = tolerance
	cfg.DirStepSize = step
	res, err := Index(qs, cfg)
	if err != nil {
		return Mat3{}, err
	}
	return res.UB, nil
}

// Index determines the orientation matrix of a single crystal from its
// q-vectors without prior knowledge of the cell. Candidate edges are the
// directions along which the projected peaks are most strongly periodic;
// the best-indexing triple of them forms the UB, which is refined against
// all indexed peaks and Niggli reduced.
func Index(qs []r3.Vector, cfg IndexConfig) (IndexResult, error) {
	if err := cfg.Validate(); err != nil {
		return IndexResult{}, err
	}
	if len(qs) < MinPeaks {
		return IndexResult{}, fmt.Errorf("%d q-vectors, need at least %d: %w", len(qs), MinPeaks, ErrInsufficientData)
	}
	qMax := 0.0
	for i, q := range qs {
		if !isFiniteVector(q) {
			return IndexResult{}, fmt.Errorf("q-vector %d is not finite: %w", i, ErrInsufficientData)
		}
		qMax = math.Max(qMax, q.Norm())
	}
	if qMax == 0 {
		return IndexResult{}, fmt.Errorf("all q-vectors are zero: %w", ErrInsufficientData)
	}
	qMax *= qMaxMargin

	dirs, err := scanDirections(qs, cfg, qMax)
	if err != nil {
		return IndexResult{}, err
	}
	ub, err := formUB(qs, dirs, cfg)
	if err != nil {
		return IndexResult{}, err
	}

	set, err := IndexedPeaks(ub, qs, cfg.Tolerance)
	if err != nil {
		return IndexResult{}, err
	}
	if len(qs) >= minRefinePeaks {
		ub, set = refineUB(ub, qs, set, cfg)
	}

	res := IndexResult{
		UB:         ub,
		FitError:   set.FitError,
		NumIndexed: set.Count(),
		Directions: len(dirs),
	}
	if changed, reduced := NiggliReduce(ub); changed {
		res.UB = reduced
		res.Reduced = true
	}
	res.Lattice, err = LatticeParamsFromUB(res.UB)
	if err != nil {
		return IndexResult{}, err
	}

	logger.Debugw("indexing complete",
		"peaks", len(qs),
		"indexed", res.NumIndexed,
		"fitError", res.FitError,
		"directions", res.Directions,
		"reduced", res.Reduced,
		"lattice", res.Lattice.String(),
	)
	return res, nil
}

// scanDirections runs the hemisphere scan and returns the distinct refined
// edge candidates sorted by length. Small peak sets give weak spectra, so
// their candidates also include the duals of every non-coplanar triple of
// q-vectors. Larger sets fall back to the triples of their shortest
// q-vectors only when the scan leaves too few directions.
func scanDirections(qs []r3.Vector, cfg IndexConfig, qMax float64) ([]r3.Vector, error) {
	unit := hemisphereDirections(cfg.DirStepSize)
	peaks, err := scanSpectra(qs, unit, cfg.FFTSize, qMax, cfg.Workers)
	if err != nil {
		return nil, err
	}
	threshold := spectrumThreshold(peaks)

	lo, hi := minLengthFactor*cfg.MinD, maxLengthFactor*cfg.MaxD
	p := newProjector(cfg.FFTSize, qMax)
	var candidates []r3.Vector
	for i, peak := range peaks {
		if peak < threshold {
			continue
		}
		pos := firstMaxIndex(p.spectrum(qs, unit[i]), threshold)
		if pos <= 0 {
			continue
		}
		if d := pos / qMax; d > lo && d <= hi {
			candidates = append(candidates, unit[i].Mul(d))
		}
	}
	scanned := len(candidates)

	small := len(qs) <= TripleCandidatePeaks
	if small {
		candidates = append(candidates, tripleCandidates(qs, lo, hi)...)
	}
	dirs, err := selectDirections(qs, candidates, cfg)
	if !small && (err != nil || len(dirs) < MinDirections) {
		logger.Debugw("direction scan found too few edges, adding q-vector triples",
			"distinct", len(dirs),
			"error", err,
		)
		candidates = append(candidates, tripleCandidates(shortestVectors(qs, TripleCandidatePeaks), lo, hi)...)
		dirs, err = selectDirections(qs, candidates, cfg)
	}
	logger.Debugw("direction scan",
		"directions", len(unit),
		"threshold", threshold,
		"scanned", scanned,
		"candidates", len(candidates),
		"distinct", len(dirs),
	)
	return dirs, err
}

// selectDirections scores, refines and filters candidate edges and returns
// the distinct survivors sorted by length.
func selectDirections(qs []r3.Vector, candidates []r3.Vector, cfg IndexConfig) ([]r3.Vector, error) {
	counts := make([]int, len(candidates))
	best := 0
	for i, d := range candidates {
		counts[i] = numIndexed1D(qs, d, cfg.Tolerance)
		best = max(best, counts[i])
	}
	if best == 0 {
		return nil, fmt.Errorf("no candidate direction indexes any peak: %w", ErrNoSolution)
	}
	var kept []r3.Vector
	for i, d := range candidates {
		if float64(counts[i]) >= initialScoreFraction*float64(best) {
			kept = append(kept, d)
		}
	}

	refinedBest := 0
	for i, d := range kept {
		var n int
		kept[i], n = refineDirection(qs, d, cfg.Tolerance, cfg.DirectionRefinements)
		refinedBest = max(refinedBest, n)
	}

	lo, hi := minLengthFactor*cfg.MinD, maxLengthFactor*cfg.MaxD
	var survivors []r3.Vector
	for _, d := range kept {
		length := d.Norm()
		if length < lo || length > hi {
			continue
		}
		if float64(numIndexed1D(qs, d, cfg.Tolerance)) >= refinedScoreFraction*float64(refinedBest) {
			survivors = append(survivors, d)
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Norm() < survivors[j].Norm()
	})

	dirs := discardDuplicates(qs, survivors, cfg.Tolerance, DuplicateLengthTolerance, DuplicateAngleTolerance)
	logger.Debugw("edge candidates selected",
		"candidates", len(candidates),
		"refined", len(kept),
		"survivors", len(survivors),
		"distinct", len(dirs),
	)
	return dirs, nil
}

// tripleCandidates returns the real-space duals of every non-coplanar
// triple of qs with length in (lo, hi]. The duals d_1, d_2, d_3 of q_1, q_2,
// q_3 satisfy d_i.q_j = 1 when i == j and 0 otherwise, so a triple of
// primitive reciprocal vectors yields lattice edges.
func tripleCandidates(qs []r3.Vector, lo, hi float64) []r3.Vector {
	var out []r3.Vector
	for i := 0; i < len(qs)-2; i++ {
		for j := i + 1; j < len(qs)-1; j++ {
			for k := j + 1; k < len(qs); k++ {
				m := MatFromRows(qs[i], qs[j], qs[k])
				scale := qs[i].Norm() * qs[j].Norm() * qs[k].Norm()
				if !(math.Abs(m.Det()) > coplanarTolerance*scale) {
					continue
				}
				inv, err := m.Inverse()
				if err != nil {
					continue
				}
				for col := 0; col < 3; col++ {
					d := r3.Vector{X: inv[0][col], Y: inv[1][col], Z: inv[2][col]}
					if n := d.Norm(); n > lo && n <= hi {
						out = append(out, d)
					}
				}
			}
		}
	}
	return out
}

// shortestVectors returns up to n of vs with the smallest norms, shortest
// first.
func shortestVectors(vs []r3.Vector, n int) []r3.Vector {
	sorted := append([]r3.Vector(nil), vs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Norm() < sorted[j].Norm()
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// formUB chooses the best-indexing triple of dirs, taken in length order,
// with volume above MinD^3/4, and builds a right-handed UB from it.
func formUB(qs []r3.Vector, dirs []r3.Vector, cfg IndexConfig) (Mat3, error) {
	if len(dirs) < MinDirections {
		return Mat3{}, fmt.Errorf("found %d edge directions, need at least %d: %w", len(dirs), MinDirections, ErrInsufficientData)
	}
	minVol := cfg.MinD * cfg.MinD * cfg.MinD / 4

	var a, b, c r3.Vector
	bestCount := -1
	for i := 0; i < len(dirs)-2; i++ {
		for j := i + 1; j < len(dirs)-1; j++ {
			for k := j + 1; k < len(dirs); k++ {
				if math.Abs(tripleProduct(dirs[i], dirs[j], dirs[k])) <= minVol {
					continue
				}
				n := numIndexed3D(qs, dirs[i], dirs[j], dirs[k], cfg.Tolerance)
				if bestCount < 0 || float64(n) > TripleImprovementFactor*float64(bestCount) {
					a, b, c, bestCount = dirs[i], dirs[j], dirs[k], n
				}
			}
		}
	}
	if bestCount <= 0 {
		return Mat3{}, fmt.Errorf("no basis triple indexes the peaks: %w", ErrNoSolution)
	}

	if tripleProduct(a, b, c) < 0 {
		c = negate(c)
	}
	ub, err := UBFromABC(a, b, c)
	if err != nil {
		return Mat3{}, err
	}
	if err := CheckUB(ub); err != nil {
		return Mat3{}, err
	}
	return ub, nil
}

// refineUB re-fits ub to its indexed peaks up to cfg.Iterations times. A
// failed fit keeps the previous matrix.
func refineUB(ub Mat3, qs []r3.Vector, set IndexedSet, cfg IndexConfig) (Mat3, IndexedSet) {
	for i := 0; i < cfg.Iterations; i++ {
		next, err := optimizeUB(set.Miller, set.Q)
		if err != nil {
			logger.Debugw("UB refinement rejected", "iteration", i, "error", err)
			continue
		}
		nextSet, err := IndexedPeaks(next, qs, cfg.Tolerance)
		if err != nil {
			logger.Debugw("UB refinement rejected", "iteration", i, "error", err)
			continue
		}
		ub, set = next, nextSet
	}
	return ub, set
}
