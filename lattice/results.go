package lattice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultResultsCachePath is the default path for the indexing results cache
const DefaultResultsCachePath = ".ubindex-results.json"

// AnalyzePeaks indexes a peak set and scans the resulting cell for
// conventional cells of higher symmetry.
func AnalyzePeaks(ps *PeakSet, cfg *Config) (SampleResult, error) {
	if ps == nil {
		return SampleResult{}, fmt.Errorf("nil peak set: %w", ErrInsufficientData)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	idx, err := Index(ps.Q, cfg.Indexing)
	if err != nil {
		return SampleResult{}, fmt.Errorf("indexing %s: %w", ps.SampleID, err)
	}
	cells, err := ScanCells(idx.UB, cfg.Cells)
	if err != nil {
		return SampleResult{}, fmt.Errorf("scanning cells for %s: %w", ps.SampleID, err)
	}

	logger.Infow("sample indexed",
		"sample", ps.SampleID,
		"peaks", len(ps.Q),
		"indexed", idx.NumIndexed,
		"cells", len(cells),
	)
	return SampleResult{
		SampleID:  ps.SampleID,
		NumPeaks:  len(ps.Q),
		Index:     idx,
		Cells:     cells,
		Timestamp: time.Now().Unix(),
	}, nil
}

// LoadResults loads cached results from a JSON file.
// A missing file is not an error and yields nil.
func LoadResults(path string) (*ResultsData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading results file: %w", err)
	}

	var res ResultsData
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing results file: %w", err)
	}
	if res.Samples == nil {
		res.Samples = make(map[string]SampleResult)
	}
	return &res, nil
}

// SaveResults writes results to a JSON cache file
func SaveResults(path string, res *ResultsData) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	res.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing results file: %w", err)
	}

	return nil
}

// ResultsStatus provides status information about indexed samples
type ResultsStatus struct {
	IndexedSamples []string  `json:"indexedSamples"`
	MissingSamples []string  `json:"missingSamples"`
	LastUpdated    time.Time `json:"lastUpdated"`
	// Stale is set by the caller when no result arrived within its window.
	Stale bool `json:"stale"`
}

// GetStatus reports which of the expected samples have results
func (r *ResultsData) GetStatus(expectedSamples []string) ResultsStatus {
	var status ResultsStatus

	if r == nil {
		status.MissingSamples = expectedSamples
		return status
	}

	status.LastUpdated = time.Unix(r.LastUpdated, 0)
	for id := range r.Samples {
		status.IndexedSamples = append(status.IndexedSamples, id)
	}
	sort.Strings(status.IndexedSamples)

	for _, id := range expectedSamples {
		if _, ok := r.Samples[id]; !ok {
			status.MissingSamples = append(status.MissingSamples, id)
		}
	}

	return status
}

// IsStale checks if the results are older than maxAge
func (r *ResultsData) IsStale(maxAge time.Duration) bool {
	if r == nil || r.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(r.LastUpdated, 0)) > maxAge
}
