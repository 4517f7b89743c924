package lattice

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// dcBins low-frequency bins carry the overall scale of the projection
	// rather than its periodicity and are ignored when picking peaks.
	dcBins = 5

	// thresholdPool is the number of strongest directions used to choose
	// the spectrum threshold.
	thresholdPool = 500

	// qMaxMargin pads the largest |q| so no projection lands past the last bin.
	qMaxMargin = 1.1
)

// projector bins projections of the q-vectors onto a direction and takes
// the magnitude spectrum of the histogram. It owns its buffers and FFT plan
// and must not be shared between goroutines.
type projector struct {
	size  int
	scale float64
	fft   *fourier.FFT
	hist  []float64
	coeff []complex128
	mag   []float64
}

func newProjector(size int, qMax float64) *projector {
	return &projector{
		size:  size,
		scale: float64(size) / qMax,
		fft:   fourier.NewFFT(size),
		hist:  make([]float64, size),
		coeff: make([]complex128, size/2+1),
		mag:   make([]float64, size/2+1),
	}
}

// spectrum returns the magnitude spectrum for dir. The returned slice is
// reused by the next call.
func (p *projector) spectrum(qs []r3.Vector, dir r3.Vector) []float64 {
	clear(p.hist)
	for _, q := range qs {
		idx := int(math.Floor(math.Abs(q.Dot(dir)) * p.scale))
		if idx >= p.size {
			idx = p.size - 1
		}
		p.hist[idx]++
	}
	p.coeff = p.fft.Coefficients(p.coeff, p.hist)
	for i, c := range p.coeff {
		p.mag[i] = cmplx.Abs(c)
	}
	return p.mag
}

func peakMagnitude(mag []float64) float64 {
	peak := 0.0
	for _, v := range mag[min(dcBins, len(mag)):] {
		peak = math.Max(peak, v)
	}
	return peak
}

// scanSpectra returns the peak spectrum magnitude of every direction. The
// directions are split into contiguous chunks, one per worker.
func scanSpectra(qs []r3.Vector, dirs []r3.Vector, size int, qMax float64, workers int) ([]float64, error) {
	peaks := make([]float64, len(dirs))
	workers = max(1, min(workers, len(dirs)))
	chunk := (len(dirs) + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < len(dirs); start += chunk {
		start, end := start, min(start+chunk, len(dirs))
		g.Go(func() error {
			p := newProjector(size, qMax)
			for i := start; i < end; i++ {
				peaks[i] = peakMagnitude(p.spectrum(qs, dirs[i]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return peaks, nil
}

// spectrumThreshold separates strongly periodic directions from the rest.
// Among the strongest directions it takes the weakest if all exceed half of
// the global maximum, and otherwise the largest value below half.
func spectrumThreshold(peaks []float64) float64 {
	if len(peaks) == 0 {
		return 0
	}
	top := append([]float64(nil), peaks...)
	sort.Sort(sort.Reverse(sort.Float64Slice(top)))
	if len(top) > thresholdPool {
		top = top[:thresholdPool]
	}
	half := top[0] / 2
	if weakest := top[len(top)-1]; weakest >= half {
		return weakest
	}
	for _, v := range top {
		if v < half {
			return v
		}
	}
	return top[len(top)-1]
}

// firstMaxIndex locates the first strong periodicity in mag: the first
// local minimum below threshold, then the next local maximum above it. It
// returns the magnitude-weighted centroid of the bins around that maximum,
// or -1 if either extremum is missing.
func firstMaxIndex(mag []float64, threshold float64) float64 {
	m := -1
	for i := 1; i < len(mag)-1; i++ {
		if mag[i] < mag[i-1] && mag[i] < mag[i+1] && mag[i] < threshold {
			m = i
			break
		}
	}
	if m < 0 {
		return -1
	}

	found := false
	for i := m + 1; i < len(mag)-1; i++ {
		if mag[i] > mag[i-1] && mag[i] > mag[i+1] && mag[i] > threshold {
			m = i
			found = true
			break
		}
	}
	if !found {
		return -1
	}

	var sum, wSum float64
	for i := max(0, m-2); i <= min(len(mag)-1, m+2); i++ {
		sum += float64(i) * mag[i]
		wSum += mag[i]
	}
	if wSum == 0 {
		return -1
	}
	return sum / wSum
}
