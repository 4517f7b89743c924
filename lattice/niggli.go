package lattice

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	// NiggliCoefficientRange bounds the integer coefficients of the lattice
	// vector combinations considered as new edges.
	NiggliCoefficientRange = 5

	// NiggliTargetTriples is the number of valid triples after which the
	// candidate pool stops growing.
	NiggliTargetTriples = 25

	// NiggliLengthTolerance is the relative window above the minimum total
	// edge length within which triples compete on angles. Larger values let
	// poor cells through on noisy data.
	NiggliLengthTolerance = 0.001

	// NiggliAngleEpsilon relaxes the Niggli angle condition, in degrees.
	NiggliAngleEpsilon = 0.01

	niggliInitialPool = 5
	niggliMinVolume   = 0.1
)

// niggliTotalVectors is the size of the full coefficient cube minus the origin.
const niggliTotalVectors = (2*NiggliCoefficientRange+1)*(2*NiggliCoefficientRange+1)*(2*NiggliCoefficientRange+1) - 1

type latticeVector struct {
	v    r3.Vector
	norm float64
}

// shellStream yields integer combinations i*a + j*b + k*c in order of
// increasing length, generating shells max(|i|,|j|,|k|) = s on demand.
// After shell s is generated every pending vector no longer than
// sigma*(s+1) is certified: all vectors of later shells are at least that
// long, sigma being the square root of the smallest eigenvalue of the
// metric tensor.
type shellStream struct {
	a, b, c   r3.Vector
	sigma     float64
	shell     int
	pending   []latticeVector
	certified []latticeVector
}

func newShellStream(a, b, c r3.Vector) *shellStream {
	return &shellStream{a: a, b: b, c: c, sigma: minMetricSigma(a, b, c)}
}

// minMetricSigma returns sqrt of the smallest eigenvalue of the metric
// tensor of a, b, c, or 0 when it cannot be computed. A zero bound only
// delays certification to the last shell.
func minMetricSigma(a, b, c r3.Vector) float64 {
	rows := []r3.Vector{a, b, c}
	g := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			g.SetSym(i, j, rows[i].Dot(rows[j]))
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(g, false); !ok {
		return 0
	}
	vals := eig.Values(nil)
	minVal := vals[0]
	for _, v := range vals[1:] {
		minVal = math.Min(minVal, v)
	}
	if minVal <= 0 || math.IsNaN(minVal) {
		return 0
	}
	return math.Sqrt(minVal)
}

func (s *shellStream) generateShell(n int) []latticeVector {
	var out []latticeVector
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			for k := -n; k <= n; k++ {
				if max(abs(i), abs(j), abs(k)) != n {
					continue
				}
				v := s.a.Mul(float64(i)).Add(s.b.Mul(float64(j))).Add(s.c.Mul(float64(k)))
				out = append(out, latticeVector{v: v, norm: v.Norm()})
			}
		}
	}
	return out
}

// take returns the n shortest vectors, or all of them once the coefficient
// range is exhausted.
func (s *shellStream) take(n int) []latticeVector {
	for len(s.certified) < n && s.shell < NiggliCoefficientRange {
		s.shell++
		s.pending = append(s.pending, s.generateShell(s.shell)...)
		sort.SliceStable(s.pending, func(i, j int) bool {
			return s.pending[i].norm < s.pending[j].norm
		})

		bound := s.sigma * float64(s.shell+1)
		if s.shell == NiggliCoefficientRange {
			bound = math.Inf(1)
		}
		cut := sort.Search(len(s.pending), func(i int) bool {
			return s.pending[i].norm > bound
		})
		s.certified = append(s.certified, s.pending[:cut]...)
		s.pending = append([]latticeVector(nil), s.pending[cut:]...)
	}
	if n > len(s.certified) {
		n = len(s.certified)
	}
	return s.certified[:n]
}

type niggliCandidate struct {
	a, b, c r3.Vector
	length  float64
	diff90  float64
}

func newNiggliCandidate(a, b, c r3.Vector) niggliCandidate {
	return niggliCandidate{
		a:      a,
		b:      b,
		c:      c,
		length: a.Norm() + b.Norm() + c.Norm(),
		diff90: diffFrom90(a, b, c),
	}
}

// diffFrom90 is the summed deviation of the cell angles from 90 degrees.
func diffFrom90(a, b, c r3.Vector) float64 {
	return math.Abs(AngleDegrees(b, c)-90) +
		math.Abs(AngleDegrees(c, a)-90) +
		math.Abs(AngleDegrees(a, b)-90)
}

func isValidNiggliTriple(a, b, c r3.Vector) bool {
	return tripleProduct(a, b, c) > niggliMinVolume && HasNiggliAngles(a, b, c, NiggliAngleEpsilon)
}

// collectTriples forms every triple of pool vectors, taken in length order,
// with positive volume above the floor and Niggli angles.
func collectTriples(pool []latticeVector) []niggliCandidate {
	var out []niggliCandidate
	for i := 0; i < len(pool)-2; i++ {
		a := pool[i].v
		for j := i + 1; j < len(pool)-1; j++ {
			b := pool[j].v
			axb := a.Cross(b)
			for k := j + 1; k < len(pool); k++ {
				c := pool[k].v
				if c.Dot(axb) <= niggliMinVolume {
					continue
				}
				if HasNiggliAngles(a, b, c, NiggliAngleEpsilon) {
					out = append(out, newNiggliCandidate(a, b, c))
				}
			}
		}
	}
	return out
}

// NiggliReduce searches for an orientation matrix equivalent to ub that
// describes the Niggli-reduced cell: the shortest total edge length, and
// among near-ties the angles farthest from 90 degrees. It returns false and
// ub unchanged when ub cannot be inverted, when no valid triple exists, or
// when ub already describes a cell as good as the best found.
func NiggliReduce(ub Mat3) (bool, Mat3) {
	a, b, c, err := ABCFromUB(ub)
	if err != nil {
		logger.Debugw("niggli reduction skipped", "error", err)
		return false, ub
	}

	stream := newShellStream(a, b, c)
	var triples []niggliCandidate
	poolSize := niggliInitialPool
	for len(triples) < NiggliTargetTriples && poolSize < niggliTotalVectors {
		poolSize *= 2
		pool := stream.take(poolSize)
		triples = collectTriples(pool)
	}
	if len(triples) == 0 {
		logger.Debugw("niggli reduction found no valid triple", "pool", poolSize)
		return false, ub
	}

	sort.SliceStable(triples, func(i, j int) bool {
		return triples[i].length < triples[j].length
	})
	minLength := triples[0].length
	best := triples[0]
	for _, t := range triples[1:] {
		if math.Abs(t.length-minLength)/minLength >= NiggliLengthTolerance {
			break
		}
		if t.diff90 > best.diff90 {
			best = t
		}
	}

	// The input competes with the winner so a reduced matrix maps to itself.
	if isValidNiggliTriple(a, b, c) {
		in := newNiggliCandidate(a, b, c)
		if (in.length-minLength)/minLength < NiggliLengthTolerance && in.diff90 >= best.diff90-1e-9 {
			return false, ub
		}
	}

	reduced, err := UBFromABC(best.a, best.b, best.c)
	if err != nil {
		logger.Debugw("niggli reduction produced a singular basis", "error", err)
		return false, ub
	}
	logger.Debugw("niggli reduced cell",
		"candidates", len(triples),
		"length", best.length,
		"diff90", best.diff90,
	)
	return true, reduced
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
