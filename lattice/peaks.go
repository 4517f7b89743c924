package lattice

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// PeakSet is the list of q-vectors measured for one sample, in inverse
// Angstroms without the 2π factor.
type PeakSet struct {
	SampleID string
	Q        []r3.Vector
}

// peakSetJSON is the wire form: {"sample": "id", "q": [[x, y, z], ...]}
type peakSetJSON struct {
	Sample string       `json:"sample"`
	Q      [][3]float64 `json:"q"`
}

// MarshalJSON writes the peak set in its wire form
func (ps PeakSet) MarshalJSON() ([]byte, error) {
	w := peakSetJSON{Sample: ps.SampleID, Q: make([][3]float64, len(ps.Q))}
	for i, q := range ps.Q {
		w.Q[i] = [3]float64{q.X, q.Y, q.Z}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wire form
func (ps *PeakSet) UnmarshalJSON(data []byte) error {
	var w peakSetJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ps.SampleID = w.Sample
	ps.Q = make([]r3.Vector, len(w.Q))
	for i, q := range w.Q {
		ps.Q[i] = r3.Vector{X: q[0], Y: q[1], Z: q[2]}
	}
	return nil
}

// ParsePeaksJSON parses a JSON peak set
func ParsePeaksJSON(data []byte) (*PeakSet, error) {
	var ps PeakSet
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parsing peak JSON: %w", err)
	}
	if len(ps.Q) == 0 {
		return nil, fmt.Errorf("peak set has no q-vectors: %w", ErrInsufficientData)
	}
	return &ps, nil
}

// ParsePeaksText parses whitespace separated columns, one peak per line.
// The first three columns are qx, qy and qz; further columns are ignored.
// Blank lines and lines starting with '#' are skipped.
func ParsePeaksText(data []byte) (*PeakSet, error) {
	var ps PeakSet
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: want 3 columns, got %d", line, len(fields))
		}
		var v [3]float64
		for i := range v {
			f, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("line %d: column %d is not finite: %w", line, i+1, ErrInsufficientData)
			}
			v[i] = f
		}
		ps.Q = append(ps.Q, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading peaks: %w", err)
	}
	if len(ps.Q) == 0 {
		return nil, fmt.Errorf("peak set has no q-vectors: %w", ErrInsufficientData)
	}
	return &ps, nil
}

// ParsePeaks detects the format of data and parses it
func ParsePeaks(data []byte) (*PeakSet, error) {
	if isJSONObject(data) {
		return ParsePeaksJSON(data)
	}
	return ParsePeaksText(data)
}

// ParsePeaksFile reads a peak set from disk. A set without a sample ID is
// named after the file.
func ParsePeaksFile(path string) (*PeakSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading peak file: %w", err)
	}
	ps, err := ParsePeaks(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if ps.SampleID == "" {
		base := filepath.Base(path)
		ps.SampleID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return ps, nil
}

// ParseUB reads an orientation matrix given either as JSON (a 3x3 array, or
// an object with a "ub" field such as a saved SampleResult index) or as three
// whitespace separated rows.
func ParseUB(data []byte) (Mat3, error) {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		var m Mat3
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return Mat3{}, fmt.Errorf("parsing UB JSON: %w", err)
		}
		return m, nil
	case isJSONObject(trimmed):
		var w struct {
			UB *Mat3 `json:"ub"`
		}
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return Mat3{}, fmt.Errorf("parsing UB JSON: %w", err)
		}
		if w.UB == nil {
			return Mat3{}, fmt.Errorf("UB JSON has no \"ub\" field")
		}
		return *w.UB, nil
	}

	rows, err := ParsePeaksText(trimmed)
	if err != nil {
		return Mat3{}, fmt.Errorf("parsing UB rows: %w", err)
	}
	if len(rows.Q) != 3 {
		return Mat3{}, fmt.Errorf("UB needs 3 rows, got %d", len(rows.Q))
	}
	return MatFromRows(rows.Q[0], rows.Q[1], rows.Q[2]), nil
}

// ParseUBFile reads an orientation matrix from disk
func ParseUBFile(path string) (Mat3, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mat3{}, fmt.Errorf("reading UB file: %w", err)
	}
	return ParseUB(data)
}

func isJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
