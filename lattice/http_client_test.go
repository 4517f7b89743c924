package lattice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const peakSetBody = `{"sample": "quartz", "q": [[0.2, 0, 0], [0, 0.25, 0], [0, 0, 0.125], [0.2, 0.25, 0]]}`

func TestFetchPeaksFromAPI_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "application/json") {
			t.Errorf("expected Accept to include application/json, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(peakSetBody))
	}))
	defer srv.Close()

	ps, err := FetchPeaksFromAPI(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchPeaksFromAPI() error: %v", err)
	}
	if ps.SampleID != "quartz" || len(ps.Q) != 4 {
		t.Errorf("peak set = %s with %d peaks, want quartz with 4", ps.SampleID, len(ps.Q))
	}
}

func TestFetchPeaksFromAPI_EmptyURL(t *testing.T) {
	_, err := FetchPeaksFromAPI(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "API URL is empty") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchPeaksFromAPI_InvalidJSONNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := FetchPeaksFromAPI(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	if err == nil || !strings.Contains(err.Error(), "parsing peak JSON") {
		t.Fatalf("expected parse error, got: %v", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestFetchPeaksFromAPI_EmptyPeakSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sample": "x", "q": []}`))
	}))
	defer srv.Close()

	_, err := FetchPeaksFromAPI(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("error = %v, want ErrInsufficientData", err)
	}
}

func TestFetchPeaksFromAPI_TextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# qx qy qz\n0.2 0 0\n0 0.25 0\n0 0 0.125\n0.2 0.25 0\n"))
	}))
	defer srv.Close()

	ps, err := FetchPeaksFromAPI(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithSampleID("quartz"))
	if err != nil {
		t.Fatalf("FetchPeaksFromAPI() error: %v", err)
	}
	if ps.SampleID != "quartz" || len(ps.Q) != 4 {
		t.Errorf("peak set = %q with %d peaks, want quartz with 4", ps.SampleID, len(ps.Q))
	}
}

func TestFetchPeaksFromAPI_SampleID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"payload without id", `{"q": [[0.2, 0, 0], [0, 0.25, 0], [0, 0, 0.125], [0.2, 0.25, 0]]}`, "configured"},
		{"payload id wins", peakSetBody, "quartz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ps, err := FetchPeaksFromAPI(context.Background(), srv.URL,
				WithHTTPClient(srv.Client()), WithSampleID("configured"))
			if err != nil {
				t.Fatalf("FetchPeaksFromAPI() error: %v", err)
			}
			if ps.SampleID != tt.want {
				t.Errorf("SampleID = %q, want %q", ps.SampleID, tt.want)
			}
		})
	}
}

func TestFetchPeaksFromAPI_UnusableSetNotRetried(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too few peaks", `{"sample": "x", "q": [[0.2, 0, 0], [0, 0.25, 0]]}`},
		{"non-finite text", "0.2 0 0\n0 0.25 0\n0 0 NaN\n0.2 0.25 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := FetchPeaksFromAPI(context.Background(), srv.URL,
				WithHTTPClient(srv.Client()), WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("error = %v, want ErrInsufficientData", err)
			}
			if n := attempts.Load(); n != 1 {
				t.Errorf("attempts = %d, want 1", n)
			}
		})
	}
}

func TestFetchPeaksFromAPI_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := FetchPeaksFromAPI(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestFetchPeaksFromAPI_ServerErrorRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(peakSetBody))
	}))
	defer srv.Close()

	ps, err := FetchPeaksFromAPI(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("FetchPeaksFromAPI() error: %v", err)
	}
	if len(ps.Q) != 4 {
		t.Errorf("len(Q) = %d, want 4", len(ps.Q))
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestFetchPeaksFromAPI_AllRetriesFail(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchPeaksFromAPI(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	if err == nil || !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Errorf("error should carry the last status: %v", err)
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestFetchPeaksFromAPI_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchPeaksFromAPI(ctx, srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(5), WithBaseBackoff(time.Hour))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
