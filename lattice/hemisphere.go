package lattice

import (
	"math"

	"github.com/golang/geo/r3"
)

// hemisphereDirections returns unit vectors spread nearly uniformly over a
// hemisphere, about step radians apart. Rings of constant polar angle psi
// run from the pole toward the equator; each ring gets as many azimuthal
// samples as fit its circumference. A ring at the equator only covers half
// the circle since the other half would repeat its antipodes.
func hemisphereDirections(step float64) []r3.Vector {
	var dirs []r3.Vector
	for i := 0; ; i++ {
		psi := float64(i) * step
		if psi >= math.Pi/2 {
			break
		}
		nPhi := int(math.Round(2 * math.Pi * math.Sin(psi) / step))
		if nPhi == 0 {
			dirs = append(dirs, polarDirection(psi, 0))
			continue
		}
		phiStep := 2 * math.Pi / float64(nPhi)
		if math.Abs(psi-math.Pi/2) < step/2 {
			nPhi /= 2
		}
		for j := 0; j < nPhi; j++ {
			dirs = append(dirs, polarDirection(psi, float64(j)*phiStep))
		}
	}
	return dirs
}

// polarDirection converts polar angle psi, measured from -y, and azimuth
// phi to a unit vector.
func polarDirection(psi, phi float64) r3.Vector {
	return r3.Vector{
		X: math.Sin(psi) * math.Cos(phi),
		Y: -math.Cos(psi),
		Z: -math.Sin(psi) * math.Sin(phi),
	}
}
