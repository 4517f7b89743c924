package lattice

import "errors"

// Error taxonomy for indexing and reduction. Callers match with errors.Is;
// detection sites wrap these with context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrInsufficientData is returned when there are too few peaks or
	// candidate directions to determine a cell.
	ErrInsufficientData = errors.New("lattice: insufficient data")

	// ErrInvalidConfiguration is returned for non-positive or inverted
	// bounds, tolerances or step sizes, and for out-of-range form ids.
	ErrInvalidConfiguration = errors.New("lattice: invalid configuration")

	// ErrDegenerateMatrix is returned for singular, non-finite or
	// out-of-range orientation matrices.
	ErrDegenerateMatrix = errors.New("lattice: degenerate matrix")

	// ErrNoSolution is returned when a search completes without any
	// candidate meeting the acceptance thresholds.
	ErrNoSolution = errors.New("lattice: no solution")
)
