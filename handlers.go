package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kwv/ubindex/lattice"
)

const (
	// maxPeakBody bounds the size of a POST /index body
	maxPeakBody = 8 << 20

	// defaultStaleAfter is how old the newest result may be before /status
	// reports the results as stale. Override with ?maxAge=.
	defaultStaleAfter = 24 * time.Hour
)

// newHTTPServer creates an HTTP server with all endpoints. Results indexed
// through POST /index are stored in tracker and passed to onResult when set.
func newHTTPServer(tracker *lattice.ResultTracker, config *lattice.Config, log *zap.SugaredLogger, onResult func(lattice.SampleResult)) http.Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasResults bool      `json:"hasResults"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasResults: tracker.HasResults(),
		}
		writeJSONResponse(w, log, http.StatusOK, status)
	})

	// Which configured samples have been indexed, and whether anything
	// arrived recently
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		maxAge := defaultStaleAfter
		if v := r.URL.Query().Get("maxAge"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				http.Error(w, "Invalid maxAge", http.StatusBadRequest)
				return
			}
			maxAge = d
		}

		var expected []string
		if config != nil {
			for _, sc := range config.Samples {
				expected = append(expected, sc.ID)
			}
		}
		snap := tracker.Snapshot()
		status := snap.GetStatus(expected)
		status.Stale = snap.IsStale(maxAge)
		writeJSONResponse(w, log, http.StatusOK, status)
	})

	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, log, http.StatusOK, tracker.Snapshot())
	})

	mux.HandleFunc("/results/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/results/")
		res, ok := tracker.Get(id)
		if id == "" || !ok {
			http.Error(w, "No result for sample", http.StatusNotFound)
			return
		}
		writeJSONResponse(w, log, http.StatusOK, res)
	})

	// Index a peak set posted as JSON or text
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPeakBody))
		if err != nil {
			http.Error(w, "Cannot read body", http.StatusBadRequest)
			return
		}
		ps, err := lattice.ParsePeaks(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ps.SampleID == "" {
			ps.SampleID = r.URL.Query().Get("sample")
		}
		if ps.SampleID == "" {
			http.Error(w, "Missing sample id", http.StatusBadRequest)
			return
		}

		res, err := lattice.AnalyzePeaks(ps, config)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, lattice.ErrInsufficientData) || errors.Is(err, lattice.ErrNoSolution) {
				status = http.StatusUnprocessableEntity
			}
			log.Warnw("indexing request failed", "sample", ps.SampleID, "error", err)
			http.Error(w, err.Error(), status)
			return
		}

		tracker.Update(res)
		if onResult != nil {
			onResult(res)
		}
		writeJSONResponse(w, log, http.StatusOK, res)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugw("HTTP request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

func writeJSONResponse(w http.ResponseWriter, log *zap.SugaredLogger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorw("encoding response", "error", err)
	}
}
