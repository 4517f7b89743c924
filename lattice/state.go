package lattice

import (
	"sync"
	"time"
)

// ResultTracker holds the latest result per sample for the HTTP endpoints
// and the publisher
type ResultTracker struct {
	mu        sync.RWMutex
	results   map[string]SampleResult
	updated   int64
	cachePath string // empty disables persistence
}

// NewResultTracker creates an empty tracker
func NewResultTracker() *ResultTracker {
	return &ResultTracker{
		results: make(map[string]SampleResult),
	}
}

// NewResultTrackerWithCache creates a tracker that persists results to
// cachePath. Results already stored there are loaded on creation.
func NewResultTrackerWithCache(cachePath string) *ResultTracker {
	rt := NewResultTracker()
	rt.cachePath = cachePath
	if cachePath == "" {
		return rt
	}

	cached, err := LoadResults(cachePath)
	if err != nil {
		logger.Warnw("ignoring unreadable results cache", "path", cachePath, "error", err)
		return rt
	}
	if cached != nil {
		rt.results = cached.Samples
		rt.updated = cached.LastUpdated
	}
	return rt
}

// Update stores a sample's result and persists the full set when a cache
// path is configured
func (rt *ResultTracker) Update(res SampleResult) {
	rt.mu.Lock()
	rt.results[res.SampleID] = res
	rt.updated = time.Now().Unix()
	rt.mu.Unlock()

	if rt.cachePath == "" {
		return
	}
	if err := SaveResults(rt.cachePath, rt.Snapshot()); err != nil {
		logger.Warnw("failed to save results cache", "path", rt.cachePath, "error", err)
	}
}

// Get returns the result for a sample
func (rt *ResultTracker) Get(sampleID string) (SampleResult, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	res, ok := rt.results[sampleID]
	return res, ok
}

// Snapshot returns a copy of all results
func (rt *ResultTracker) Snapshot() *ResultsData {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	samples := make(map[string]SampleResult, len(rt.results))
	for k, v := range rt.results {
		samples[k] = v
	}
	return &ResultsData{Samples: samples, LastUpdated: rt.updated}
}

// HasResults returns true if at least one sample was indexed
func (rt *ResultTracker) HasResults() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.results) > 0
}
